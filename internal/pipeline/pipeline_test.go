package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/engine"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

type fakeSurface struct {
	mu        sync.Mutex
	size      image.Point
	presented int
	last      *image.RGBA
}

func (s *fakeSurface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *fakeSurface) Present(frame *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented++
	s.last = frame
}

func (s *fakeSurface) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return errors.New("bad size")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = image.Pt(w, h)
	return nil
}

func (s *fakeSurface) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

type fakeSession struct{ s *fakeSensor }

func (fs *fakeSession) Close() error {
	fs.s.mu.Lock()
	defer fs.s.mu.Unlock()
	fs.s.sinks = capture.Sinks{}
	return nil
}

type fakeSensor struct {
	mu    sync.Mutex
	sinks capture.Sinks
}

func (s *fakeSensor) Name() string      { return "fake" }
func (s *fakeSensor) IsAvailable() bool { return true }

func (s *fakeSensor) Sensors() ([]capture.SensorInfo, error) {
	return []capture.SensorInfo{
		{ID: "0", Device: "/dev/video0", Facing: capture.FacingBack},
		{ID: "1", Device: "/dev/video1", Facing: capture.FacingFront},
	}, nil
}

func (s *fakeSensor) Open(_ capture.SensorInfo, _ capture.SessionConfig, sinks capture.Sinks) (capture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = sinks
	return &fakeSession{s: s}, nil
}

func (s *fakeSensor) push(t *testing.T, w, h int) {
	t.Helper()
	data := make([]byte, capture.GstI420Layout(w, h).Size)
	f, err := capture.NewI420Frame(data, w, h, pose.Now())
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	sink := s.sinks.Analysis
	s.mu.Unlock()
	if sink == nil {
		t.Fatal("no session open")
	}
	sink(f)
}

// fakeLandmarker reports one pose echoing the input geometry. Stream
// results are delivered inline.
type fakeLandmarker struct {
	opts engine.Options
}

func (l *fakeLandmarker) result(img *image.RGBA) engine.BackendResult {
	b := img.Bounds()
	return engine.BackendResult{
		Poses:  [][]pose.Landmark{make([]pose.Landmark, pose.NumLandmarks)},
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

func (l *fakeLandmarker) Detect(img *image.RGBA) (engine.BackendResult, error) {
	return l.result(img), nil
}

func (l *fakeLandmarker) DetectAsync(img *image.RGBA, ts int64) error {
	r := l.result(img)
	r.TimestampMs = ts
	l.opts.OnResult(r)
	return nil
}

func (l *fakeLandmarker) Close() error { return nil }

type observer struct {
	results chan pose.DetectionResult
	errors  chan *pose.Error
}

func newObserver() *observer {
	return &observer{results: make(chan pose.DetectionResult, 16), errors: make(chan *pose.Error, 16)}
}

func (o *observer) OnResult(r pose.DetectionResult) { o.results <- r }
func (o *observer) OnError(err *pose.Error)         { o.errors <- err }

type harness struct {
	p       *Pipeline
	sensor  *fakeSensor
	surface *fakeSurface
	obs     *observer
}

func newHarness(t *testing.T, factory engine.Factory) *harness {
	t.Helper()
	h := &harness{
		sensor:  &fakeSensor{},
		surface: &fakeSurface{size: image.Pt(64, 48)},
		obs:     newObserver(),
	}
	if factory == nil {
		factory = func(opts engine.Options) (engine.Landmarker, error) {
			return &fakeLandmarker{opts: opts}, nil
		}
	}
	h.p = New(Deps{Sensor: h.sensor, Factory: factory, Surface: h.surface}, Options{
		Engine:  engine.Config{ModelAssetPath: "pose.onnx"},
		Source:  capture.Config{SkipFactor: 1},
		Backend: pose.BackendGeneralPurpose,
	})
	h.p.Subscribe(h.obs)
	h.p.Start(context.Background())
	t.Cleanup(func() { h.p.Close() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDetectImageEntersSingleImageMode(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.p.DetectImage(image.NewRGBA(image.Rect(0, 0, 30, 40)))
	if err != nil {
		t.Fatal(err)
	}
	if res.ImageWidth != 30 || res.ImageHeight != 40 || len(res.Landmarks) != pose.NumLandmarks {
		t.Errorf("result = %dx%d with %d landmarks", res.ImageWidth, res.ImageHeight, len(res.Landmarks))
	}
	if st := h.p.Status().Engine; st.Mode != "single_image" || st.State != "initialized" {
		t.Errorf("engine = %+v", st)
	}
	waitFor(t, "overlay redraw", func() bool { return h.surface.count() > 0 })
}

func TestDetectImageRejectedWhileCapturing(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.StartCapture(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	_, err := h.p.DetectImage(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pose.ErrWrongMode) {
		t.Fatalf("err = %v, want WrongModeError", err)
	}
	if mode := h.p.Status().Engine.Mode; mode != "stream" {
		t.Errorf("mode = %s, capture must keep stream mode", mode)
	}

	if err := h.p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.DetectImage(image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Errorf("detect after stop: %v", err)
	}
}

func TestInitializeKeepsStreamWhileCapturing(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.StartCapture(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	for _, mode := range []pose.Mode{pose.ModeSingleImage, pose.ModeRecordedVideo} {
		if err := h.p.Initialize(mode, pose.BackendGeneralPurpose); !errors.Is(err, pose.ErrWrongMode) {
			t.Errorf("Initialize(%s) err = %v, want WrongModeError", mode, err)
		}
	}
	if mode := h.p.Status().Engine.Mode; mode != "stream" {
		t.Errorf("mode = %s, capture must keep stream mode", mode)
	}
	if err := h.p.Initialize(pose.ModeStream, pose.BackendGeneralPurpose); err != nil {
		t.Errorf("Initialize(stream) while capturing: %v", err)
	}

	if err := h.p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if err := h.p.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose); err != nil {
		t.Errorf("Initialize after stop: %v", err)
	}
}

func TestStreamResultsReachObservers(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.StartCapture(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.sensor.push(t, 6, 4)

	select {
	case r := <-h.obs.results:
		if r.ImageWidth != 6 || r.ImageHeight != 4 {
			t.Errorf("geometry = %dx%d", r.ImageWidth, r.ImageHeight)
		}
	case err := <-h.obs.errors:
		t.Fatalf("unexpected error %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}

	st := h.p.Status()
	if !st.Capture.Running || st.Capture.Facing != capture.FacingFront.String() {
		t.Errorf("capture = %+v", st.Capture)
	}
	if st.Dispatch.Results != 1 {
		t.Errorf("dispatch results = %d", st.Dispatch.Results)
	}
}

func TestStartCaptureLeavesSingleImageMode(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.p.DetectImage(image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	if err := h.p.StartCapture(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	st := h.p.Status().Engine
	if st.Mode != "stream" || st.Reinits != 1 {
		t.Errorf("engine = %+v", st)
	}
}

func TestInitializeFailureIsReported(t *testing.T) {
	h := newHarness(t, func(engine.Options) (engine.Landmarker, error) {
		return nil, errors.New("model missing")
	})

	err := h.p.Initialize(pose.ModeStream, pose.BackendAccelerated)
	if !errors.Is(err, pose.ErrEngineBackend) {
		t.Fatalf("err = %v", err)
	}
	select {
	case e := <-h.obs.errors:
		if e.Code != pose.CodeEngineBackend {
			t.Errorf("code = %s", e.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not see the failure")
	}

	if err := h.p.StartCapture(context.Background(), false); !errors.Is(err, pose.ErrEngineBackend) {
		t.Errorf("capture without engine: %v", err)
	}
	if h.p.Status().Capture.Running {
		t.Error("capture started without an engine")
	}
}

func TestSetBackendRequiresEngine(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.SetBackend(pose.BackendAccelerated); !errors.Is(err, pose.ErrEngineNotInitialized) {
		t.Fatalf("err = %v", err)
	}
	// the selection is still remembered for the next implicit initialization
	if _, err := h.p.DetectImage(image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	if b := h.p.Status().Engine.Backend; b != pose.BackendAccelerated.String() {
		t.Errorf("backend = %s", b)
	}
}

func TestDetectVideoFrameOrdering(t *testing.T) {
	h := newHarness(t, nil)
	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))

	if _, err := h.p.DetectVideoFrame(frame, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.DetectVideoFrame(frame, 33); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.DetectVideoFrame(frame, 33); !errors.Is(err, pose.ErrEngineBackend) {
		t.Errorf("repeated timestamp err = %v", err)
	}
	if mode := h.p.Status().Engine.Mode; mode != "recorded_video" {
		t.Errorf("mode = %s", mode)
	}
}

func TestDetectEncoded(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.p.DetectEncoded([]byte("png")); !errors.Is(err, pose.ErrConversion) {
		t.Errorf("no decoder err = %v", err)
	}

	h.p.deps.Decode = func(data []byte) (*image.RGBA, error) {
		if len(data) == 0 {
			return nil, errors.New("empty")
		}
		return image.NewRGBA(image.Rect(0, 0, 3, 5)), nil
	}
	if _, err := h.p.DetectEncoded(nil); !errors.Is(err, pose.ErrConversion) {
		t.Errorf("decode failure err = %v", err)
	}
	res, err := h.p.DetectEncoded([]byte{1})
	if err != nil || res.ImageWidth != 3 || res.ImageHeight != 5 {
		t.Errorf("DetectEncoded = %+v, %v", res, err)
	}
}

func TestResizeSurfaceRedraws(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.ResizeSurface(0, 10); err == nil {
		t.Error("zero width accepted")
	}
	if err := h.p.ResizeSurface(20, 10); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "redraw at new size", func() bool {
		h.surface.mu.Lock()
		defer h.surface.mu.Unlock()
		return h.surface.last != nil && h.surface.last.Bounds().Dx() == 20
	})
}

func TestSwitchCameraRequiresCapture(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.p.SwitchCamera(context.Background()); !errors.Is(err, pose.ErrCameraUnavailable) {
		t.Errorf("err = %v", err)
	}
	if err := h.p.StartCapture(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := h.p.SwitchCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f := h.p.Status().Capture.Facing; f != capture.FacingFront.String() {
		t.Errorf("facing = %s", f)
	}
}

func TestRenderDrawsCurrentResult(t *testing.T) {
	h := newHarness(t, nil)

	blank := h.p.Render(40, 30)
	if blank == nil || blank.Bounds().Dx() != 40 {
		t.Fatalf("render = %v", blank)
	}

	res := pose.DetectionResult{ImageWidth: 40, ImageHeight: 30, Landmarks: make([]pose.Landmark, pose.NumLandmarks)}
	for i := range res.Landmarks {
		res.Landmarks[i] = pose.Landmark{X: 0.5, Y: 0.5, Visibility: 1}
	}
	h.p.renderer.SetResults(res, 40, 30)
	img := h.p.Render(40, 30)
	if c := img.RGBAAt(20, 15); c == blank.RGBAAt(20, 15) {
		t.Errorf("no landmark drawn at center: %v", c)
	}
}
