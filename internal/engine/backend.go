package engine

import (
	"image"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// BackendResult is what a pose backend reports for one input image
type BackendResult struct {
	// Poses holds one landmark list per detected pose
	Poses [][]pose.Landmark
	// Width and Height echo the geometry of the input image
	Width  int
	Height int
	// TimestampMs echoes the timestamp passed to DetectAsync
	TimestampMs int64
}

// Options configure a backend instance
type Options struct {
	ModelAssetPath string
	Mode           pose.Mode
	Backend        pose.Backend
	MaxPoses       int

	// OnResult and OnError are set in stream mode only. The backend invokes
	// them from its own goroutine, in the order it produces results.
	OnResult func(BackendResult)
	OnError  func(error)
}

// Landmarker is an external pose inference backend
type Landmarker interface {
	// Detect runs inference synchronously (single image and recorded video modes)
	Detect(img *image.RGBA) (BackendResult, error)

	// DetectAsync queues inference and returns immediately (stream mode).
	// The result arrives later through Options.OnResult.
	DetectAsync(img *image.RGBA, timestampMs int64) error

	// Close releases the backend. Callbacks may still fire while it runs.
	Close() error
}

// Factory constructs a backend from options
type Factory func(Options) (Landmarker, error)
