package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/overlay"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/publish"
)

var validLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/posestreamer/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "posestreamer", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	// Try to read config file
	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			// Config file not found, create it with defaults
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("engine_backend", m.config.Engine.Backend).
		Str("sensor_backend", m.config.Sensor.Backend).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Sensor.Devices == nil {
		cfg.Sensor.Devices = []DeviceConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Validate checks every enumerated and numeric setting
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level: %s (use: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Sensor.Backend {
	case "auto", "gstreamer", "gst-launch", "opencv":
	default:
		return fmt.Errorf("invalid sensor.backend: %q (use: auto, gstreamer, gst-launch, opencv)", c.Sensor.Backend)
	}
	if c.Sensor.Width <= 0 || c.Sensor.Height <= 0 || c.Sensor.FPS <= 0 {
		return fmt.Errorf("invalid sensor geometry %dx%d@%d", c.Sensor.Width, c.Sensor.Height, c.Sensor.FPS)
	}
	if c.Sensor.SkipFactor < 1 {
		return fmt.Errorf("sensor.skip_factor must be at least 1")
	}
	if c.Sensor.QueueDepth < 1 {
		return fmt.Errorf("sensor.queue_depth must be at least 1")
	}
	for i, d := range c.Sensor.Devices {
		if d.Device == "" {
			return fmt.Errorf("sensor.devices[%d]: device is required", i)
		}
		if _, err := capture.ParseFacing(d.Facing); err != nil {
			return fmt.Errorf("sensor.devices[%d]: %w", i, err)
		}
		if d.Orientation%90 != 0 {
			return fmt.Errorf("sensor.devices[%d]: orientation must be a multiple of 90", i)
		}
	}

	if _, err := pose.ParseMode(c.Engine.Mode); err != nil {
		return fmt.Errorf("engine.mode: %w", err)
	}
	if _, err := pose.ParseBackend(c.Engine.Backend); err != nil {
		return fmt.Errorf("engine.backend: %w", err)
	}
	if c.Engine.MaxPoses < 1 {
		return fmt.Errorf("engine.max_poses must be at least 1")
	}
	if c.Engine.MinPosePresence < 0 || c.Engine.MinPosePresence > 1 {
		return fmt.Errorf("engine.min_pose_presence must be within [0,1]")
	}

	if _, err := overlay.ParseSkeleton(c.Overlay.Skeleton); err != nil {
		return fmt.Errorf("overlay.skeleton: %w", err)
	}
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", c.Output.Width, c.Output.Height)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be within [1,100]")
	}

	if _, err := publish.ParseEncoding(c.MQTT.Encoding); err != nil {
		return fmt.Errorf("mqtt.encoding: %w", err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt.qos: %d", c.MQTT.QoS)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	if c.Posture.InputSize < 0 {
		return fmt.Errorf("invalid posture.input_size: %d", c.Posture.InputSize)
	}
	if c.Posture.Enabled && c.Posture.ModelPath == "" {
		return fmt.Errorf("posture.model_path is required when posture is enabled")
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	// Return a copy to prevent external modification
	cfg := *m.config
	cfg.Sensor.Devices = append([]DeviceConfig{}, m.config.Sensor.Devices...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetValue returns the value at a dotted key such as "engine.backend"
func (m *Manager) GetValue(key string) (interface{}, error) {
	tree, err := toTree(m.Get())
	if err != nil {
		return nil, err
	}
	node, last, err := walk(tree, key)
	if err != nil {
		return nil, err
	}
	return node[last], nil
}

// Set parses value as a YAML scalar, applies it at key and saves
func (m *Manager) Set(key, value string) error {
	if err := m.OverrideString(key, value); err != nil {
		return err
	}
	return m.Save()
}

// OverrideString is Override for textual values from flags and the
// environment; value is parsed as a YAML scalar
func (m *Manager) OverrideString(key, value string) error {
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Override(key, parsed)
}

// Override applies value at key in memory only. Used for flag and
// environment overrides.
func (m *Manager) Override(key string, value interface{}) error {
	cfg, err := withValue(m.Get(), key, value)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	logger.WithComponent("config").Debug().Str("key", key).Interface("value", value).Msg("Config override")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

func toTree(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return tree, nil
}

// walk returns the map holding the last segment of key
func walk(tree map[string]interface{}, key string) (map[string]interface{}, string, error) {
	parts := strings.Split(key, ".")
	node := tree
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("configuration key not found: %s", key)
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, ok := node[last]; !ok {
		return nil, "", fmt.Errorf("configuration key not found: %s", key)
	}
	return node, last, nil
}

func withValue(cfg *Config, key string, value interface{}) (*Config, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	node, last, err := walk(tree, key)
	if err != nil {
		return nil, err
	}
	node[last] = value

	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	out := Defaults()
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return out, nil
}
