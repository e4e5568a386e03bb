package pose

// Letterbox maps normalized image coordinates into a surface that shows the
// whole image at the largest aspect-preserving scale, centered.
type Letterbox struct {
	SourceWidth  float64
	SourceHeight float64
	Scale        float64
	OffsetX      float64
	OffsetY      float64
}

// Fit computes the letterbox for a source image drawn into a surface.
// Degenerate sizes produce a zero scale.
func Fit(sourceWidth, sourceHeight, surfaceWidth, surfaceHeight int) Letterbox {
	lb := Letterbox{SourceWidth: float64(sourceWidth), SourceHeight: float64(sourceHeight)}
	if sourceWidth <= 0 || sourceHeight <= 0 || surfaceWidth <= 0 || surfaceHeight <= 0 {
		return lb
	}

	sw, sh := float64(surfaceWidth), float64(surfaceHeight)
	scaleX := sw / lb.SourceWidth
	scaleY := sh / lb.SourceHeight
	lb.Scale = scaleX
	if scaleY < scaleX {
		lb.Scale = scaleY
	}

	lb.OffsetX = (sw - lb.SourceWidth*lb.Scale) / 2
	lb.OffsetY = (sh - lb.SourceHeight*lb.Scale) / 2
	return lb
}

// Map converts a normalized (x, y) to surface pixels
func (l Letterbox) Map(x, y float64) (float64, float64) {
	return x*l.SourceWidth*l.Scale + l.OffsetX, y*l.SourceHeight*l.Scale + l.OffsetY
}

// Unmap converts surface pixels back to normalized image coordinates
func (l Letterbox) Unmap(px, py float64) (float64, float64) {
	if l.Scale == 0 {
		return 0, 0
	}
	return (px - l.OffsetX) / (l.SourceWidth * l.Scale), (py - l.OffsetY) / (l.SourceHeight * l.Scale)
}

// Empty reports whether the mapping cannot place anything on the surface
func (l Letterbox) Empty() bool {
	return l.Scale == 0
}
