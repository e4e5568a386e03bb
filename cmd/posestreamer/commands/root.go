package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/PoseStreamer/internal/config"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "posestreamer",
		Short: "PoseStreamer - Real-time body pose detection from camera sensors",
		Long: `PoseStreamer captures frames from a camera sensor, runs a body pose
landmark model on them and draws the detected skeleton over the live
preview.

Features:
  • V4L2 capture via GStreamer or OpenCV
  • ONNX Runtime inference on CPU or CUDA
  • Single image, live stream and recorded video modes
  • MJPEG overlay stream and web viewer
  • REST API and WebSocket event stream
  • Optional MQTT publishing of results`,
		SilenceUsage: true,
	}
)

// envKeys can be overridden with POSESTREAMER_<KEY> variables, dots
// replaced by underscores
var envKeys = []string{
	"server_port",
	"log_level",
	"log_pretty",
	"sensor.backend",
	"sensor.skip_factor",
	"engine.model_path",
	"engine.runtime_library",
	"engine.backend",
	"overlay.skeleton",
	"mqtt.enabled",
	"mqtt.broker",
	"mqtt.topic",
	"mqtt.encoding",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/posestreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

func initConfig() {
	// a missing .env is normal
	_ = godotenv.Load()

	viper.SetEnvPrefix("POSESTREAMER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		viper.BindEnv(key)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// loadConfig opens the config file and applies environment and flag
// overrides in memory, then initializes logging
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	for _, key := range envKeys {
		if !viper.IsSet(key) {
			continue
		}
		value := viper.GetString(key)
		// unset flags read back as zero values
		if value == "" || (key == "server_port" && value == "0") {
			continue
		}
		if key == "log_pretty" && !viper.GetBool(key) {
			continue
		}
		if err := configMgr.OverrideString(key, value); err != nil {
			return nil, fmt.Errorf("invalid override %s: %w", key, err)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
