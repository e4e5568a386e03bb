// Package overlay draws detected poses onto a surface whose size may change
// between redraws.
package overlay

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Surface is the drawing target. Size is read on every redraw.
type Surface interface {
	Size() image.Point
	Present(frame *image.RGBA)
}

// Poster runs closures on the UI loop
type Poster interface {
	Post(fn func()) bool
}

// Options configures the renderer's layers
type Options struct {
	Skeleton    Skeleton
	Style       *Style
	ShowPreview bool
	ShowLatency bool
	Background  color.RGBA
}

// snapshot is the (result, source width, source height) triple, replaced as
// a unit
type snapshot struct {
	result        pose.DetectionResult
	width, height int
}

// Stats reports renderer counters
type Stats struct {
	Redraws   uint64 `json:"redraws"`
	Coalesced uint64 `json:"coalesced"`
	Surface   string `json:"surface"`
}

// Renderer holds the latest result and paints it on the UI loop
type Renderer struct {
	surface Surface
	loop    Poster

	mu      sync.RWMutex
	widgets []Widget

	background color.RGBA
	current    atomic.Pointer[snapshot]
	preview    atomic.Pointer[image.RGBA]
	pending    atomic.Bool
	redraws    atomic.Uint64
	coalesced  atomic.Uint64
	lastSize   atomic.Value // image.Point
}

// NewRenderer creates a renderer drawing onto surface from loop
func NewRenderer(surface Surface, loop Poster, opts Options) *Renderer {
	style := DefaultStyle()
	if opts.Style != nil {
		style = *opts.Style
	}
	r := &Renderer{
		surface:    surface,
		loop:       loop,
		background: opts.Background,
	}

	preview := NewPreviewWidget("preview")
	preview.SetEnabled(opts.ShowPreview)
	label := NewLabelWidget("latency", 10, 10, "")
	label.SetEnabled(opts.ShowLatency)

	r.AddWidget(preview)
	r.AddWidget(NewSkeletonWidget("skeleton", opts.Skeleton, style))
	r.AddWidget(label)
	return r
}

// AddWidget appends a layer; later widgets draw on top
func (r *Renderer) AddWidget(w Widget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.widgets = append(r.widgets, w)
	logger.WithComponent("overlay").Debug().Str("widget", w.ID()).Msg("Added widget")
}

// RemoveWidget removes the layer with the given ID
func (r *Renderer) RemoveWidget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.widgets {
		if w.ID() == id {
			r.widgets = append(r.widgets[:i], r.widgets[i+1:]...)
			return true
		}
	}
	return false
}

// Widget returns the layer with the given ID
func (r *Renderer) Widget(id string) (Widget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.widgets {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// SetResults replaces the displayed result and schedules a redraw
func (r *Renderer) SetResults(result pose.DetectionResult, imageWidth, imageHeight int) {
	r.current.Store(&snapshot{result: result, width: imageWidth, height: imageHeight})
	r.schedule()
}

// Clear removes the displayed result. The next redraw paints no skeleton.
func (r *Renderer) Clear() {
	r.current.Store(nil)
	r.schedule()
}

// SetPreview replaces the background frame and schedules a redraw. nil
// removes it.
func (r *Renderer) SetPreview(img *image.RGBA) {
	r.preview.Store(img)
	r.schedule()
}

// Invalidate schedules a redraw without changing state, e.g. after the
// surface was resized
func (r *Renderer) Invalidate() {
	r.schedule()
}

// schedule posts at most one pending redraw; the redraw reads whatever is
// current when it runs
func (r *Renderer) schedule() {
	if !r.pending.CompareAndSwap(false, true) {
		r.coalesced.Add(1)
		return
	}
	if !r.loop.Post(r.redraw) {
		r.pending.Store(false)
	}
}

// redraw runs on the UI loop
func (r *Renderer) redraw() {
	r.pending.Store(false)

	size := r.surface.Size()
	r.lastSize.Store(size)
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	canvas := image.NewRGBA(image.Rectangle{Max: size})
	r.Render(canvas)
	r.surface.Present(canvas)
	r.redraws.Add(1)
}

// Render paints the current state into dst, treating dst's bounds as the
// surface
func (r *Renderer) Render(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)

	frame := r.frame(dst.Bounds().Size())

	r.mu.RLock()
	widgets := append([]Widget(nil), r.widgets...)
	r.mu.RUnlock()

	for _, w := range widgets {
		if !w.IsEnabled() {
			continue
		}
		if err := w.Render(dst, frame); err != nil {
			logger.WithComponent("overlay").Debug().Err(err).Str("widget", w.ID()).Msg("Widget render failed")
		}
	}
}

func (r *Renderer) frame(size image.Point) *Frame {
	f := &Frame{Preview: r.preview.Load()}
	if s := r.current.Load(); s != nil {
		res := s.result
		f.Result = &res
		f.Mapping = pose.Fit(s.width, s.height, size.X, size.Y)
	} else if f.Preview != nil {
		b := f.Preview.Bounds()
		f.Mapping = pose.Fit(b.Dx(), b.Dy(), size.X, size.Y)
	}
	return f
}

// Stats returns renderer counters
func (r *Renderer) Stats() Stats {
	s := Stats{Redraws: r.redraws.Load(), Coalesced: r.coalesced.Load()}
	if size, ok := r.lastSize.Load().(image.Point); ok {
		s.Surface = size.String()
	}
	return s
}
