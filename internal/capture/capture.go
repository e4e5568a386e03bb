package capture

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Facing is the direction an image sensor points
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	}
	return "unknown"
}

// Invert returns the opposite facing
func (f Facing) Invert() Facing {
	switch f {
	case FacingFront:
		return FacingBack
	case FacingBack:
		return FacingFront
	}
	return FacingBack
}

// ParseFacing parses "front"/"back" (also "user"/"environment")
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user":
		return FacingFront, nil
	case "back", "rear", "environment":
		return FacingBack, nil
	default:
		return FacingBack, fmt.Errorf("unknown facing: %q", s)
	}
}

// SensorInfo describes one available image sensor
type SensorInfo struct {
	ID     string `json:"id" yaml:"id"`
	Device string `json:"device" yaml:"device"`
	Facing Facing `json:"facing" yaml:"-"`
	// Orientation is the clockwise rotation in degrees (0, 90, 180, 270)
	// needed to display sensor output upright
	Orientation int `json:"orientation" yaml:"orientation"`
}

// SessionConfig is the requested capture geometry
type SessionConfig struct {
	Width  int
	Height int
	FPS    int
	// QueueDepth bounds the analysis buffers held by the backend
	QueueDepth int
}

// Sinks are the two consumers of a capture session. Both are invoked from a
// backend-owned goroutine and must not block.
type Sinks struct {
	// Preview receives every frame for display passthrough. May be nil.
	Preview func(frame *image.RGBA)
	// Analysis receives raw frames. The receiver owns the frame and must
	// call Release exactly once.
	Analysis func(frame *RawFrame)
}

// Sensor is the image sensor API consumed by FrameSource
type Sensor interface {
	// Name returns a human-readable name for this backend
	Name() string

	// IsAvailable checks if this backend can be used in the current environment
	IsAvailable() bool

	// Sensors enumerates the sensors this backend can open
	Sensors() ([]SensorInfo, error)

	// Open starts a capture session delivering into sinks. Errors are
	// classified as PermissionDenied, CameraUnavailable or ConfigurationFailed.
	Open(info SensorInfo, cfg SessionConfig, sinks Sinks) (Session, error)
}

// Session is a running capture session
type Session interface {
	// Close stops delivery. No sink is invoked after Close returns.
	Close() error
}

// RawFrame is a planar YUV 4:2:0 sensor buffer
type RawFrame struct {
	Y, U, V []byte
	YStride int
	CStride int
	Width   int
	Height  int
	// Timestamp is the capture time on the monotonic pipeline clock
	Timestamp time.Duration

	Facing      Facing
	Orientation int

	// ReleaseFunc returns the underlying buffer to the backend. Optional.
	ReleaseFunc func()

	generation uint64
}

// Release returns the buffer to its backend. Safe to call more than once.
func (f *RawFrame) Release() {
	if f == nil {
		return
	}
	if f.ReleaseFunc != nil {
		f.ReleaseFunc()
		f.ReleaseFunc = nil
	}
	f.Y, f.U, f.V = nil, nil, nil
}

// I420Layout is the plane geometry of an I420 buffer
type I420Layout struct {
	YStride int
	CStride int
	UOffset int
	VOffset int
	Size    int
}

func roundUp2(v int) int { return (v + 1) &^ 1 }
func roundUp4(v int) int { return (v + 3) &^ 3 }

// GstI420Layout is the default layout GStreamer gives I420 video: luma rows
// padded to 4 bytes, chroma rows to 4 bytes of the rounded-up half width.
func GstI420Layout(width, height int) I420Layout {
	yStride := roundUp4(width)
	cStride := roundUp4(roundUp2(width) / 2)
	ch := roundUp2(height) / 2
	uOffset := yStride * roundUp2(height)
	vOffset := uOffset + cStride*ch
	return I420Layout{
		YStride: yStride,
		CStride: cStride,
		UOffset: uOffset,
		VOffset: vOffset,
		Size:    vOffset + cStride*ch,
	}
}

// NewI420Frame wraps an I420 buffer in GStreamer's default layout
func NewI420Frame(data []byte, width, height int, ts time.Duration) (*RawFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid I420 geometry %dx%d", width, height)
	}
	return NewPlanarFrame(data, GstI420Layout(width, height), width, height, ts)
}

// NewPlanarFrame slices data into planes as described by layout
func NewPlanarFrame(data []byte, layout I420Layout, width, height int, ts time.Duration) (*RawFrame, error) {
	if width <= 0 || height <= 0 || len(data) < layout.Size {
		return nil, fmt.Errorf("short I420 buffer: %d bytes for %dx%d, want %d", len(data), width, height, layout.Size)
	}
	return &RawFrame{
		Y:         data[:layout.UOffset],
		U:         data[layout.UOffset:layout.VOffset],
		V:         data[layout.VOffset:layout.Size],
		YStride:   layout.YStride,
		CStride:   layout.CStride,
		Width:     width,
		Height:    height,
		Timestamp: ts,
	}, nil
}
