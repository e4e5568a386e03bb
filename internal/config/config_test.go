package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
)

func newTestManager(t *testing.T, contents string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posestreamer", "config.yaml")
	if contents != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t, "")
	if _, err := os.Stat(m.GetConfigPath()); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 8080 || cfg.Sensor.SkipFactor != 3 || cfg.Sensor.QueueDepth != 2 || cfg.Engine.Mode != "stream" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := Defaults().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	m := newTestManager(t, `
server_port: 9090
engine:
  backend: accelerated
sensor:
  devices:
    - id: cam0
      device: /dev/video0
      facing: back
      orientation: 90
`)
	cfg := m.Get()
	if cfg.ServerPort != 9090 || cfg.Engine.Backend != "accelerated" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Engine.Mode != "stream" || cfg.Sensor.SkipFactor != 3 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if len(cfg.Sensor.Devices) != 1 || cfg.Sensor.Devices[0].Orientation != 90 {
		t.Errorf("devices = %+v", cfg.Sensor.Devices)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad backend":  "engine:\n  backend: tpu\n",
		"zero skip":    "sensor:\n  skip_factor: 0\n",
		"bad skeleton": "overlay:\n  skeleton: stick\n",
		"bad facing":   "sensor:\n  devices:\n    - device: /dev/video0\n      facing: sideways\n",
		"bad encoding": "mqtt:\n  encoding: xml\n",
		"not yaml":     "server_port: [",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			os.WriteFile(path, []byte(contents), 0644)
			if _, err := NewManager(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := newTestManager(t, "sensor:\n  devices:\n    - device: /dev/video0\n      facing: front\n")
	cfg := m.Get()
	cfg.ServerPort = 1
	cfg.Sensor.Devices[0].Device = "/dev/video9"

	again := m.Get()
	if again.ServerPort != 8080 || again.Sensor.Devices[0].Device != "/dev/video0" {
		t.Error("Get exposed internal state")
	}
}

func TestSetAndGetValue(t *testing.T) {
	m := newTestManager(t, "")

	tests := []struct {
		key, value string
		want       interface{}
	}{
		{"server_port", "9191", 9191},
		{"engine.backend", "accelerated", "accelerated"},
		{"overlay.show_preview", "false", false},
		{"engine.min_pose_presence", "0.7", 0.7},
	}
	for _, tt := range tests {
		if err := m.Set(tt.key, tt.value); err != nil {
			t.Fatalf("Set(%s): %v", tt.key, err)
		}
		got, err := m.GetValue(tt.key)
		if err != nil {
			t.Fatal(err)
		}
		if f, ok := got.(float64); ok {
			if w := tt.want.(float64); f < w-1e-6 || f > w+1e-6 {
				t.Errorf("%s = %v, want %v", tt.key, got, tt.want)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.key, got, got, tt.want)
		}
	}

	// persisted
	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().ServerPort != 9191 {
		t.Error("Set was not saved")
	}
}

func TestSetRejects(t *testing.T) {
	m := newTestManager(t, "")
	for key, value := range map[string]string{
		"no_such_key":        "1",
		"engine.no_such_key": "1",
		"server_port":        "eighty",
		"engine.mode":        "batch",
		"sensor.queue_depth": "0",
		"posture.input_size": "-1",
	} {
		if err := m.Set(key, value); err == nil {
			t.Errorf("Set(%s, %s) should fail", key, value)
		}
	}
	if m.Get().Engine.Mode != "stream" {
		t.Error("failed Set changed the config")
	}
}

func TestOverrideIsNotPersisted(t *testing.T) {
	m := newTestManager(t, "")
	if err := m.Override("log_level", "debug"); err != nil {
		t.Fatal(err)
	}
	if m.Get().LogLevel != "debug" {
		t.Error("override not applied")
	}
	data, _ := os.ReadFile(m.GetConfigPath())
	if !strings.Contains(string(data), "log_level: info") {
		t.Errorf("override was saved:\n%s", data)
	}
}

func TestOverrideStringParsesScalars(t *testing.T) {
	m := newTestManager(t, "")
	if err := m.OverrideString("server_port", "9090"); err != nil {
		t.Fatal(err)
	}
	if err := m.OverrideString("mqtt.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 9090 || !cfg.MQTT.Enabled {
		t.Errorf("overrides not applied: port %d mqtt %v", cfg.ServerPort, cfg.MQTT.Enabled)
	}
	if err := m.OverrideString("server_port", "http"); err == nil {
		t.Error("non-numeric port accepted")
	}
}

func TestPostureSettings(t *testing.T) {
	m := newTestManager(t, "")
	if cfg := m.Get(); cfg.Posture.Enabled || cfg.Posture.InputSize != 224 {
		t.Errorf("posture defaults = %+v", cfg.Posture)
	}
	if err := m.Set("posture.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if !m.Get().Posture.Enabled {
		t.Errorf("posture = %+v", m.Get().Posture)
	}

	cfg := Defaults()
	cfg.Posture.Enabled = true
	cfg.Posture.ModelPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("enabled posture without a model accepted")
	}
}

func TestSensorInfos(t *testing.T) {
	sc := SensorConfig{Devices: []DeviceConfig{
		{Device: "/dev/video0", Facing: "back", Orientation: 90},
		{ID: "selfie", Device: "/dev/video2", Facing: "front", Orientation: -90},
	}}
	infos := sc.SensorInfos()
	if len(infos) != 2 {
		t.Fatalf("got %d sensors", len(infos))
	}
	if infos[0].ID != "0" || infos[0].Facing != capture.FacingBack || infos[0].Orientation != 90 {
		t.Errorf("first = %+v", infos[0])
	}
	if infos[1].ID != "selfie" || infos[1].Facing != capture.FacingFront || infos[1].Orientation != 270 {
		t.Errorf("second = %+v", infos[1])
	}
}
