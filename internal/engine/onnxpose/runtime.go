package onnxpose

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
)

var (
	initialized bool
	initMu      sync.Mutex
)

// InitializeRuntime loads the ONNX Runtime shared library and sets up the
// environment. Later calls are no-ops.
func InitializeRuntime(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	logger.WithComponent("onnxpose").Info().Str("library", libraryPath).Str("version", ort.GetVersion()).Msg("ONNX Runtime initialized")
	initialized = true
	return nil
}

// ShutdownRuntime tears the environment down
func ShutdownRuntime() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}
	initialized = false
	return nil
}
