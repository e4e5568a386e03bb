package commands

import (
	"fmt"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/capture/cvsensor"
	"github.com/bryanchriswhite/PoseStreamer/internal/capture/gstlaunch"
	"github.com/bryanchriswhite/PoseStreamer/internal/capture/gstsensor"
	"github.com/bryanchriswhite/PoseStreamer/internal/config"
	"github.com/bryanchriswhite/PoseStreamer/internal/engine"
	"github.com/bryanchriswhite/PoseStreamer/internal/engine/onnxpose"
	"github.com/bryanchriswhite/PoseStreamer/internal/imageio"
	"github.com/bryanchriswhite/PoseStreamer/internal/overlay"
	"github.com/bryanchriswhite/PoseStreamer/internal/pipeline"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/posture"
	"github.com/bryanchriswhite/PoseStreamer/internal/posture/onnxposture"
)

// newSensor builds the sensor router for the configured backend
func newSensor(cfg config.SensorConfig) (*capture.Router, error) {
	devices := cfg.SensorInfos()

	var backends []capture.Sensor
	switch cfg.Backend {
	case "gstreamer":
		backends = append(backends, gstsensor.New(devices, cfg.DevicePattern))
	case "gst-launch":
		backends = append(backends, gstlaunch.New(devices, cfg.DevicePattern))
	case "opencv":
		backends = append(backends, cvsensor.New(devices, cfg.DevicePattern))
	default:
		backends = append(backends,
			gstsensor.New(devices, cfg.DevicePattern),
			gstlaunch.New(devices, cfg.DevicePattern),
			cvsensor.New(devices, cfg.DevicePattern),
		)
	}

	router := capture.NewRouter(backends...)
	if err := router.Start(); err != nil {
		return nil, err
	}
	return router, nil
}

func newFactory(cfg config.EngineConfig) engine.Factory {
	return onnxpose.NewFactory(onnxpose.Config{
		RuntimeLibrary: cfg.RuntimeLibrary,
		Model: onnxpose.ModelConfig{
			InputSize:      cfg.InputSize,
			InputName:      cfg.InputName,
			LandmarkOutput: cfg.LandmarkOutput,
			PresenceOutput: cfg.PresenceOutput,
			MinPresence:    cfg.MinPosePresence,
		},
	})
}

// newPipeline wires a pipeline from cfg onto surface. sensor may be nil for
// offline detection.
func newPipeline(cfg *config.Config, sensor capture.Sensor, surface pipeline.Surface) (*pipeline.Pipeline, error) {
	backend, err := pose.ParseBackend(cfg.Engine.Backend)
	if err != nil {
		return nil, err
	}
	skeleton, err := overlay.ParseSkeleton(cfg.Overlay.Skeleton)
	if err != nil {
		return nil, err
	}
	if sensor == nil {
		sensor = capture.NewRouter()
	}

	return pipeline.New(pipeline.Deps{
		Sensor:  sensor,
		Factory: newFactory(cfg.Engine),
		Surface: surface,
		Decode:  imageio.Decode,
	}, pipeline.Options{
		Engine: engine.Config{
			ModelAssetPath: cfg.Engine.ModelPath,
			MaxPoses:       cfg.Engine.MaxPoses,
			OutcomeBuffer:  cfg.Engine.OutcomeBuffer,
		},
		Source: capture.Config{
			Session: capture.SessionConfig{
				Width:      cfg.Sensor.Width,
				Height:     cfg.Sensor.Height,
				FPS:        cfg.Sensor.FPS,
				QueueDepth: cfg.Sensor.QueueDepth,
			},
			SkipFactor: cfg.Sensor.SkipFactor,
		},
		Overlay: overlay.Options{
			Skeleton:    skeleton,
			ShowPreview: cfg.Overlay.ShowPreview,
			ShowLatency: cfg.Overlay.ShowLatency,
		},
		Backend: backend,
	}), nil
}

func parseMode(s string) (pose.Mode, error) {
	mode, err := pose.ParseMode(s)
	if err != nil {
		return mode, fmt.Errorf("engine.mode: %w", err)
	}
	return mode, nil
}

// newClassifier loads the posture model
func newClassifier(cfg *config.Config) (*posture.Classifier, error) {
	model, err := onnxposture.Load(onnxposture.Config{
		RuntimeLibrary: cfg.Engine.RuntimeLibrary,
		ModelPath:      cfg.Posture.ModelPath,
		InputSize:      cfg.Posture.InputSize,
		InputName:      cfg.Posture.InputName,
		OutputName:     cfg.Posture.OutputName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load posture model: %w", err)
	}
	return posture.New(model, imageio.Decode), nil
}
