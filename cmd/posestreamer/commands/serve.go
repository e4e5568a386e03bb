package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/PoseStreamer/internal/api"
	"github.com/bryanchriswhite/PoseStreamer/internal/config"
	"github.com/bryanchriswhite/PoseStreamer/internal/engine/onnxpose"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/output"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/publish"
)

var (
	serveCapture bool
	serveFront   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PoseStreamer server",
	Long: `Start the PoseStreamer HTTP server.

The server opens the configured sensor backend, loads the pose model and
serves the overlay as an MJPEG stream together with a REST API, a WebSocket
event stream and a small web viewer.`,
	Example: `  # Start server on default port (8080)
  posestreamer serve

  # Start capturing from the front sensor right away
  posestreamer serve --capture --front

  # Start with debug logging
  posestreamer serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveCapture, "capture", false, "start capture on launch")
	serveCmd.Flags().BoolVar(&serveFront, "front", false, "use the front-facing sensor (default from sensor.start_front)")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("🎯 PoseStreamer - Real-time Body Pose Detection")
	fmt.Println("===============================================")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	mode, err := parseMode(cfg.Engine.Mode)
	if err != nil {
		return err
	}
	backend, err := pose.ParseBackend(cfg.Engine.Backend)
	if err != nil {
		return err
	}

	log.Info().Str("backend", cfg.Sensor.Backend).Msg("Selecting sensor backend")
	sensor, err := newSensor(cfg.Sensor)
	if err != nil {
		return fmt.Errorf("failed to initialize sensor: %w", err)
	}
	defer sensor.Stop()

	mjpegOut := output.NewMJPEGOutput(output.Config{
		Width:   cfg.Output.Width,
		Height:  cfg.Output.Height,
		Quality: cfg.Output.Quality,
	})
	if err := mjpegOut.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	defer mjpegOut.Stop()

	p, err := newPipeline(cfg, sensor, mjpegOut)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer func() {
		p.Close()
		if err := onnxpose.ShutdownRuntime(); err != nil {
			log.Warn().Err(err).Msg("ONNX Runtime shutdown failed")
		}
	}()

	// a failed load is reported to event clients; the host can retry
	if err := p.Initialize(mode, backend); err != nil {
		log.Warn().Err(err).Str("model", cfg.Engine.ModelPath).Msg("Engine not initialized")
	}

	if cfg.MQTT.Enabled {
		pub, err := newPublisher(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		unsubscribe := p.Subscribe(pub)
		defer unsubscribe()
	}

	if serveCapture {
		front := cfg.Sensor.StartFront
		if cmd.Flags().Changed("front") {
			front = serveFront
		}
		if err := p.StartCapture(ctx, front); err != nil {
			log.Error().Err(err).Msg("Failed to start capture")
		}
	}

	server := api.NewServer(p, configMgr, mjpegOut)
	if cfg.Posture.Enabled {
		classifier, err := newClassifier(cfg)
		if err != nil {
			log.Warn().Err(err).Str("model", cfg.Posture.ModelPath).Msg("Posture classifier disabled")
		} else {
			defer classifier.Close()
			server.SetPostureClassifier(classifier)
		}
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println()
	log.Info().Msg("✅ PoseStreamer is running!")
	log.Info().Msgf("   - Viewer: http://localhost:%d", cfg.ServerPort)
	log.Info().Msgf("   - Stream: http://localhost:%d/stream", cfg.ServerPort)
	log.Info().Msgf("   - API: http://localhost:%d/api", cfg.ServerPort)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case <-sigChan:
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return server.Shutdown(shutdownCtx)
}

func newPublisher(ctx context.Context, cfg config.MQTTConfig) (*publish.Publisher, error) {
	encoding, err := publish.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	pub, err := publish.New(publish.Config{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Topic:    cfg.Topic,
		Encoding: encoding,
		QoS:      byte(cfg.QoS),
	})
	if err != nil {
		return nil, err
	}
	if err := pub.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return pub, nil
}
