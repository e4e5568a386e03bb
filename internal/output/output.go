// Package output provides drawing surfaces that publish rendered overlay
// frames.
package output

import (
	"image"
)

// Output defines the interface for frame output mechanisms
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	// The image is expected to be in RGBA format
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool

	// Size returns the surface geometry frames should be rendered at
	Size() image.Point

	// Resize changes the surface geometry for subsequent frames
	Resize(width, height int) error

	// Present writes a frame, logging instead of returning failures
	Present(frame *image.RGBA)
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	Quality int
}

// DefaultQuality is the JPEG quality used when Config.Quality is unset
const DefaultQuality = 85
