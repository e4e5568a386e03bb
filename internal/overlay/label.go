package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelWidget prints the inference latency of the current result
type LabelWidget struct {
	*BaseWidget
	format    string
	x, y      int
	padding   int
	opacity   float64
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
}

// NewLabelWidget creates a latency label at (x, y). format receives the
// latency in milliseconds.
func NewLabelWidget(id string, x, y int, format string) *LabelWidget {
	if format == "" {
		format = "Inference: %d ms"
	}
	bg := color.RGBA{0, 0, 0, 255}
	return &LabelWidget{
		BaseWidget: NewBaseWidget(id),
		format:     format,
		x:          x,
		y:          y,
		padding:    5,
		opacity:    0.8,
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &bg,
	}
}

// Text returns the label for the frame, or "" when there is no result
func (w *LabelWidget) Text(frame *Frame) string {
	if frame.Result == nil {
		return ""
	}
	return fmt.Sprintf(w.format, frame.Result.InferenceTimeMs)
}

// Render draws the label
func (w *LabelWidget) Render(dst *image.RGBA, frame *Frame) error {
	text := w.Text(frame)
	if text == "" {
		return nil
	}

	face := basicfont.Face7x13
	height := face.Metrics().Height.Ceil()
	width := font.MeasureString(face, text).Ceil()

	origin := dst.Bounds().Min.Add(image.Pt(w.x, w.y))
	if w.bgColor != nil {
		DrawRectangle(dst, origin.X, origin.Y, width+w.padding*2, height+w.padding*2, *w.bgColor, w.opacity)
	}

	// Render text into its own image so opacity applies to the glyphs only
	textImg := image.NewRGBA(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(text)

	BlendImage(dst, textImg, origin.X+w.padding, origin.Y+w.padding, w.opacity)
	return nil
}
