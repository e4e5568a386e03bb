package config

import (
	"strconv"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`

	Sensor  SensorConfig  `json:"sensor" yaml:"sensor"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Overlay OverlayConfig `json:"overlay" yaml:"overlay"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	MQTT    MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	Posture PostureConfig `json:"posture" yaml:"posture"`
}

// SensorConfig represents capture configuration
type SensorConfig struct {
	// Backend is "auto", "gstreamer", "gst-launch" or "opencv"
	Backend string `json:"backend" yaml:"backend"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	FPS     int    `json:"fps" yaml:"fps"`
	// SkipFactor forwards every Nth frame to inference
	SkipFactor int `json:"skip_factor" yaml:"skip_factor"`
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
	// StartFront selects the front-facing sensor when capture starts without
	// an explicit facing
	StartFront    bool           `json:"start_front" yaml:"start_front"`
	DevicePattern string         `json:"device_pattern" yaml:"device_pattern"`
	Devices       []DeviceConfig `json:"devices" yaml:"devices"`
}

// DeviceConfig describes one sensor. Devices not listed are discovered from
// DevicePattern and treated as front-facing with no rotation.
type DeviceConfig struct {
	ID          string `json:"id" yaml:"id"`
	Device      string `json:"device" yaml:"device"`
	Facing      string `json:"facing" yaml:"facing"`
	Orientation int    `json:"orientation" yaml:"orientation"`
}

// EngineConfig represents inference configuration
type EngineConfig struct {
	ModelPath      string `json:"model_path" yaml:"model_path"`
	RuntimeLibrary string `json:"runtime_library" yaml:"runtime_library"`
	// Mode is "single_image", "stream" or "recorded_video"
	Mode string `json:"mode" yaml:"mode"`
	// Backend is "general_purpose" or "accelerated"
	Backend         string  `json:"backend" yaml:"backend"`
	MaxPoses        int     `json:"max_poses" yaml:"max_poses"`
	OutcomeBuffer   int     `json:"outcome_buffer" yaml:"outcome_buffer"`
	InputSize       int     `json:"input_size" yaml:"input_size"`
	InputName       string  `json:"input_name" yaml:"input_name"`
	LandmarkOutput  string  `json:"landmark_output" yaml:"landmark_output"`
	PresenceOutput  string  `json:"presence_output" yaml:"presence_output"`
	MinPosePresence float32 `json:"min_pose_presence" yaml:"min_pose_presence"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	// Skeleton is "simple" or "full"
	Skeleton    string `json:"skeleton" yaml:"skeleton"`
	ShowPreview bool   `json:"show_preview" yaml:"show_preview"`
	ShowLatency bool   `json:"show_latency" yaml:"show_latency"`
}

// OutputConfig represents the drawing surface configuration
type OutputConfig struct {
	Width   int `json:"width" yaml:"width"`
	Height  int `json:"height" yaml:"height"`
	Quality int `json:"quality" yaml:"quality"`
}

// MQTTConfig represents the optional broker publisher
type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Topic    string `json:"topic" yaml:"topic"`
	// Encoding is "json" or "msgpack"
	Encoding string `json:"encoding" yaml:"encoding"`
	QoS      int    `json:"qos" yaml:"qos"`
}

// PostureConfig represents the optional posture classifier
type PostureConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	ModelPath string `json:"model_path" yaml:"model_path"`
	InputSize int    `json:"input_size" yaml:"input_size"`
	// InputName and OutputName are read from the model when empty
	InputName  string `json:"input_name" yaml:"input_name"`
	OutputName string `json:"output_name" yaml:"output_name"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Sensor: SensorConfig{
			Backend:       "auto",
			Width:         640,
			Height:        480,
			FPS:           30,
			SkipFactor:    3,
			QueueDepth:    2,
			DevicePattern: "/dev/video*",
			Devices:       []DeviceConfig{},
		},
		Engine: EngineConfig{
			ModelPath:       "pose_landmark_full.onnx",
			RuntimeLibrary:  "libonnxruntime.so",
			Mode:            "stream",
			Backend:         "general_purpose",
			MaxPoses:        1,
			OutcomeBuffer:   64,
			InputSize:       256,
			InputName:       "input_1",
			LandmarkOutput:  "Identity",
			PresenceOutput:  "Identity_1",
			MinPosePresence: 0.5,
		},
		Overlay: OverlayConfig{
			Skeleton:    "simple",
			ShowPreview: true,
			ShowLatency: true,
		},
		Output: OutputConfig{
			Width:   1280,
			Height:  720,
			Quality: 85,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost:1883",
			ClientID: "posestreamer",
			Topic:    "posestreamer",
			Encoding: "json",
		},
		Posture: PostureConfig{
			ModelPath: "posture_classification.onnx",
			InputSize: 224,
		},
	}
}

// SensorInfos converts the configured devices. Orientation is normalized to
// [0, 360) and a missing ID becomes the list index.
func (s SensorConfig) SensorInfos() []capture.SensorInfo {
	infos := make([]capture.SensorInfo, 0, len(s.Devices))
	for i, d := range s.Devices {
		facing, err := capture.ParseFacing(d.Facing)
		if err != nil {
			continue
		}
		id := d.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		infos = append(infos, capture.SensorInfo{
			ID:          id,
			Device:      d.Device,
			Facing:      facing,
			Orientation: ((d.Orientation % 360) + 360) % 360,
		})
	}
	return infos
}
