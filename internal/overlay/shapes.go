package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa places cubic control points for a quarter circle
const kappa = 0.5522847498

// pen rasterizes anti-aliased shapes into a mask covering only the shape's
// bounding box, then composites that mask onto the destination. Shapes may
// extend past the destination; std draw clips the composite.
type pen struct {
	dst  *image.RGBA
	z    *vector.Rasterizer
	mask *image.Alpha
}

func newPen(dst *image.RGBA) *pen {
	return &pen{dst: dst, z: vector.NewRasterizer(0, 0)}
}

// begin prepares a rasterizer for the area [x0,x1)x[y0,y1) and returns its
// origin in surface coordinates
func (p *pen) begin(x0, y0, x1, y1 float64) image.Rectangle {
	r := image.Rect(int(math.Floor(x0))-1, int(math.Floor(y0))-1, int(math.Ceil(x1))+1, int(math.Ceil(y1))+1)
	p.z.Reset(r.Dx(), r.Dy())
	return r
}

func (p *pen) paint(r image.Rectangle, c color.Color) {
	if !r.Overlaps(p.dst.Bounds()) {
		return
	}
	if p.mask == nil || p.mask.Rect.Dx() < r.Dx() || p.mask.Rect.Dy() < r.Dy() {
		p.mask = image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	} else {
		clear(p.mask.Pix)
	}
	p.z.Draw(p.mask, image.Rect(0, 0, r.Dx(), r.Dy()), image.Opaque, image.Point{})
	draw.DrawMask(p.dst, r, image.NewUniform(c), image.Point{}, p.mask, image.Point{}, draw.Over)
}

// circle adds a closed circle to the path; reverse flips the winding so a
// second circle punches a hole in the first
func (p *pen) circle(o image.Point, cx, cy, radius float64, reverse bool) {
	x, y := float32(cx-float64(o.X)), float32(cy-float64(o.Y))
	r := float32(radius)
	k := float32(kappa) * r
	// mirroring one axis reverses the winding
	ry, ky := r, k
	if reverse {
		ry, ky = -r, -k
	}
	p.z.MoveTo(x+r, y)
	p.z.CubeTo(x+r, y+ky, x+k, y+ry, x, y+ry)
	p.z.CubeTo(x-k, y+ry, x-r, y+ky, x-r, y)
	p.z.CubeTo(x-r, y-ky, x-k, y-ry, x, y-ry)
	p.z.CubeTo(x+k, y-ry, x+r, y-ky, x+r, y)
	p.z.ClosePath()
}

// FillCircle draws a filled disc
func (p *pen) FillCircle(cx, cy, radius float64, c color.Color) {
	if radius <= 0 {
		return
	}
	r := p.begin(cx-radius, cy-radius, cx+radius, cy+radius)
	p.circle(r.Min, cx, cy, radius, false)
	p.paint(r, c)
}

// StrokeCircle draws a ring of the given width centered on radius
func (p *pen) StrokeCircle(cx, cy, radius, width float64, c color.Color) {
	if radius <= 0 || width <= 0 {
		return
	}
	outer := radius + width/2
	inner := radius - width/2
	r := p.begin(cx-outer, cy-outer, cx+outer, cy+outer)
	p.circle(r.Min, cx, cy, outer, false)
	if inner > 0 {
		p.circle(r.Min, cx, cy, inner, true)
	}
	p.paint(r, c)
}

// Line draws a segment with round caps
func (p *pen) Line(x0, y0, x1, y1, width float64, c color.Color) {
	if width <= 0 {
		return
	}
	h := width / 2
	r := p.begin(math.Min(x0, x1)-h, math.Min(y0, y1)-h, math.Max(x0, x1)+h, math.Max(y0, y1)+h)
	o := r.Min

	dx, dy := x1-x0, y1-y0
	if length := math.Hypot(dx, dy); length > 0 {
		// unit normal scaled to half the width
		nx, ny := -dy/length*h, dx/length*h
		pt := func(x, y float64) (float32, float32) {
			return float32(x - float64(o.X)), float32(y - float64(o.Y))
		}
		// same winding as circle so the caps merge with the body
		p.z.MoveTo(pt(x0-nx, y0-ny))
		p.z.LineTo(pt(x1-nx, y1-ny))
		p.z.LineTo(pt(x1+nx, y1+ny))
		p.z.LineTo(pt(x0+nx, y0+ny))
		p.z.ClosePath()
	}
	p.circle(o, x0, y0, h, false)
	p.circle(o, x1, y1, h, false)
	p.paint(r, c)
}
