package overlay

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// PreviewWidget letterboxes the latest camera frame behind the skeleton
type PreviewWidget struct {
	*BaseWidget
	scaler draw.Scaler
}

// NewPreviewWidget creates the background layer
func NewPreviewWidget(id string) *PreviewWidget {
	return &PreviewWidget{BaseWidget: NewBaseWidget(id), scaler: draw.ApproxBiLinear}
}

// Render scales the preview into the letterbox rectangle. The frame's own
// geometry is used when it differs from the result's.
func (w *PreviewWidget) Render(dst *image.RGBA, frame *Frame) error {
	if frame.Preview == nil {
		return nil
	}
	sb := frame.Preview.Bounds()
	lb := frame.Mapping
	if lb.Empty() || int(lb.SourceWidth) != sb.Dx() || int(lb.SourceHeight) != sb.Dy() {
		size := dst.Bounds().Size()
		lb = pose.Fit(sb.Dx(), sb.Dy(), size.X, size.Y)
	}
	if lb.Empty() {
		return nil
	}
	x0, y0 := lb.Map(0, 0)
	x1, y1 := lb.Map(1, 1)
	r := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
	w.scaler.Scale(dst, r.Add(dst.Bounds().Min), frame.Preview, sb, draw.Src, nil)
	return nil
}
