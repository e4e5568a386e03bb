package overlay

import (
	"image"
	"image/color"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Frame is everything a widget needs for one redraw
type Frame struct {
	// Result is nil when there is nothing to draw
	Result *pose.DetectionResult

	// Mapping places normalized image coordinates on the surface
	Mapping pose.Letterbox

	// Preview is the latest camera frame, or nil
	Preview *image.RGBA
}

// Widget represents one layer of the overlay
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Render draws the widget onto dst
	Render(dst *image.RGBA, frame *Frame) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled atomic.Bool
}

// NewBaseWidget creates an enabled base widget
func NewBaseWidget(id string) *BaseWidget {
	w := &BaseWidget{id: id}
	w.enabled.Store(true)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled.Load()
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled.Store(enabled)
}

// BlendImage blends src onto dst at (x, y) with the given opacity (0.0 to 1.0)
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	sb := src.Bounds()
	blend(dst, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()), src, sb.Min, opacity)
}

// DrawRectangle draws a filled rectangle with the specified color and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	blend(dst, image.Rect(x, y, x+width, y+height), image.NewUniform(c), image.Point{}, opacity)
}

func blend(dst *image.RGBA, r image.Rectangle, src image.Image, sp image.Point, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
}
