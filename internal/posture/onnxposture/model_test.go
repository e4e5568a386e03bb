package onnxposture

import (
	"image"
	"image/color"
	"testing"
)

func TestResizeStretchesWholeCanvas(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 30, 10))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 0, 102, 255, 255
	}
	canvas := image.NewRGBA(image.Rect(0, 0, 6, 6))
	canvas.Set(0, 0, color.White)

	resize(canvas, src)
	for _, p := range []image.Point{{0, 0}, {5, 5}, {0, 5}, {3, 2}} {
		if c := canvas.RGBAAt(p.X, p.Y); c.R != 0 || c.G != 102 || c.B != 255 {
			t.Errorf("pixel %v = %v, no bars expected", p, c)
		}
	}

	data := make([]float32, 6*6*3)
	fillTensor(data, canvas)
	if data[0] != 0 || data[1] != 0.4 || data[2] != 1 {
		t.Errorf("tensor = %v", data[:3])
	}
}
