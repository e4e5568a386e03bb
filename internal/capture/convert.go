package capture

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Convert turns a YUV 4:2:0 frame into an upright RGBA image: rotated by the
// sensor orientation, then mirrored horizontally for front sensors.
func Convert(f *RawFrame) (*image.RGBA, error) {
	src, err := ycbcr(f)
	if err != nil {
		return nil, err
	}
	return Orient(src, f.Orientation, f.Facing == FacingFront)
}

// ycbcr validates the planes and views them as an image.YCbCr without copying
func ycbcr(f *RawFrame) (*image.YCbCr, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return nil, pose.Errorf(pose.CodeConversion, nil, "empty frame")
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	if f.YStride < f.Width || f.CStride < cw {
		return nil, pose.Errorf(pose.CodeConversion, nil, "bad strides y=%d c=%d for width %d", f.YStride, f.CStride, f.Width)
	}
	if len(f.Y) < f.YStride*(f.Height-1)+f.Width {
		return nil, pose.Errorf(pose.CodeConversion, nil, "short Y plane: %d bytes", len(f.Y))
	}
	minC := f.CStride*(ch-1) + cw
	if len(f.U) < minC || len(f.V) < minC {
		return nil, pose.Errorf(pose.CodeConversion, nil, "short chroma planes: u=%d v=%d want %d", len(f.U), len(f.V), minC)
	}

	return &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        f.YStride,
		CStride:        f.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// Orient copies src into a new RGBA image rotated clockwise by orientation
// degrees and optionally mirrored around the vertical axis
func Orient(src image.Image, orientation int, mirror bool) (*image.RGBA, error) {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	var m f64.Aff3
	dw, dh := b.Dx(), b.Dy()
	switch normalizeOrientation(orientation) {
	case 0:
		m = f64.Aff3{1, 0, 0, 0, 1, 0}
	case 90:
		m = f64.Aff3{0, -1, h, 1, 0, 0}
		dw, dh = dh, dw
	case 180:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		m = f64.Aff3{0, 1, 0, -1, 0, w}
		dw, dh = dh, dw
	default:
		return nil, pose.Errorf(pose.CodeConversion, nil, "unsupported orientation %d", orientation)
	}
	if mirror {
		m[0], m[1], m[2] = -m[0], -m[1], float64(dw)-m[2]
	}

	// translate so the source origin is (0,0)
	m[2] -= m[0]*float64(b.Min.X) + m[1]*float64(b.Min.Y)
	m[5] -= m[3]*float64(b.Min.X) + m[4]*float64(b.Min.Y)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	if m == (f64.Aff3{1, 0, 0, 0, 1, 0}) {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst, nil
	}
	draw.NearestNeighbor.Transform(dst, m, src, b, draw.Src, nil)
	return dst, nil
}

// normalizeOrientation folds any multiple of 90 into [0, 360). Other values
// come back unchanged and are rejected by Orient.
func normalizeOrientation(deg int) int {
	if deg%90 != 0 {
		return deg
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
