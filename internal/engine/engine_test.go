package engine

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

type fakeClock struct {
	ms atomic.Int64
}

func (c *fakeClock) now() time.Duration {
	return time.Duration(c.ms.Load()) * time.Millisecond
}

type fakeLandmarker struct {
	opts  Options
	clock *fakeClock

	mu       sync.Mutex
	closes   int
	stamps   []int64
	detectMs int64
	result   BackendResult
	err      error
}

func (f *fakeLandmarker) Detect(img *image.RGBA) (BackendResult, error) {
	f.clock.ms.Add(f.detectMs)
	return f.result, f.err
}

func (f *fakeLandmarker) DetectAsync(img *image.RGBA, ts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamps = append(f.stamps, ts)
	return f.err
}

func (f *fakeLandmarker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeFactory struct {
	clock   *fakeClock
	fail    error
	created []*fakeLandmarker
	setup   func(*fakeLandmarker)
}

func (ff *fakeFactory) build(opts Options) (Landmarker, error) {
	if ff.fail != nil {
		return nil, ff.fail
	}
	lm := &fakeLandmarker{opts: opts, clock: ff.clock}
	if ff.setup != nil {
		ff.setup(lm)
	}
	ff.created = append(ff.created, lm)
	return lm, nil
}

func (ff *fakeFactory) last() *fakeLandmarker {
	return ff.created[len(ff.created)-1]
}

func newTestEngine(t *testing.T) (*Engine, *fakeFactory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	ff := &fakeFactory{clock: clock}
	e := New(ff.build, Config{ModelAssetPath: "pose.onnx", Clock: clock.now})
	return e, ff, clock
}

func nextOutcome(t *testing.T, e *Engine) pose.Outcome {
	t.Helper()
	select {
	case o := <-e.Outcomes():
		return o
	case <-time.After(time.Second):
		t.Fatal("no outcome")
	}
	return pose.Outcome{}
}

func assertNoOutcome(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case o := <-e.Outcomes():
		t.Fatalf("unexpected outcome: %+v", o)
	default:
	}
}

func img(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func landmarks(x float32) []pose.Landmark {
	lms := make([]pose.Landmark, pose.NumLandmarks)
	for i := range lms {
		lms[i] = pose.Landmark{X: x, Y: x, Visibility: 1}
	}
	return lms
}

func TestInitializeIsIdempotent(t *testing.T) {
	e, ff, _ := newTestEngine(t)

	for i := 0; i < 3; i++ {
		if !e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose) {
			t.Fatal("initialize failed")
		}
	}
	if len(ff.created) != 1 {
		t.Errorf("backend constructed %d times, want 1", len(ff.created))
	}
	opts := ff.last().opts
	if opts.MaxPoses != 1 || opts.ModelAssetPath != "pose.onnx" || opts.OnResult == nil || opts.OnError == nil {
		t.Errorf("unexpected options: %+v", opts)
	}
	if e.State() != StateInitialized {
		t.Errorf("state = %v", e.State())
	}
}

func TestSetModeIdempotence(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendAccelerated)

	e.SetMode(pose.ModeStream)
	e.SetMode(pose.ModeStream)
	if e.Reinits() != 0 || len(ff.created) != 1 {
		t.Fatalf("reinits = %d, constructions = %d; want 0 and 1", e.Reinits(), len(ff.created))
	}

	first := ff.last()
	if !e.SetMode(pose.ModeSingleImage) {
		t.Fatal("SetMode failed")
	}
	if e.Reinits() != 1 || len(ff.created) != 2 {
		t.Fatalf("reinits = %d, constructions = %d; want 1 and 2", e.Reinits(), len(ff.created))
	}
	if first.closes != 1 {
		t.Errorf("previous backend closed %d times", first.closes)
	}
	opts := ff.last().opts
	if opts.Mode != pose.ModeSingleImage || opts.Backend != pose.BackendAccelerated {
		t.Errorf("options = %v/%v, want single_image/accelerated", opts.Mode, opts.Backend)
	}
	if opts.OnResult != nil {
		t.Error("single image mode should not register a result callback")
	}
}

func TestUnchangedModeAfterDisposeIsNoop(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)
	e.Dispose()

	if e.SetMode(pose.ModeStream) {
		t.Error("SetMode reported a live backend after dispose")
	}
	if e.SetBackend(pose.BackendGeneralPurpose) {
		t.Error("SetBackend reported a live backend after dispose")
	}
	if e.State() != StateDisposed {
		t.Errorf("state = %v, want disposed", e.State())
	}
	if e.Reinits() != 0 || len(ff.created) != 1 {
		t.Fatalf("reinits = %d, constructions = %d; want 0 and 1", e.Reinits(), len(ff.created))
	}
}

func TestSetBackendPreservesMode(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)

	e.SetBackend(pose.BackendGeneralPurpose)
	if e.Reinits() != 0 {
		t.Fatalf("reinits = %d after unchanged backend", e.Reinits())
	}
	e.SetBackend(pose.BackendAccelerated)
	if e.Reinits() != 1 {
		t.Fatalf("reinits = %d, want 1", e.Reinits())
	}
	if opts := ff.last().opts; opts.Mode != pose.ModeStream || opts.Backend != pose.BackendAccelerated {
		t.Errorf("options = %v/%v", opts.Mode, opts.Backend)
	}
	if e.Mode() != pose.ModeStream || e.Backend() != pose.BackendAccelerated {
		t.Errorf("engine = %v/%v", e.Mode(), e.Backend())
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Dispose()
	e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose)

	e.Dispose()
	e.Dispose()
	if ff.last().closes != 1 {
		t.Errorf("backend closed %d times, want 1", ff.last().closes)
	}
	if e.State() != StateDisposed {
		t.Errorf("state = %v", e.State())
	}
	if !e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose) {
		t.Fatal("initialize after dispose failed")
	}
	if len(ff.created) != 2 {
		t.Errorf("constructions = %d, want 2", len(ff.created))
	}
}

func TestInitializeFailure(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	ff.fail = errors.New("model not found")

	if e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose) {
		t.Fatal("initialize should fail")
	}
	if e.State() != StateUninitialized {
		t.Errorf("state = %v, want uninitialized", e.State())
	}
	o := nextOutcome(t, e)
	if o.Err == nil || !errors.Is(o.Err, pose.ErrEngineBackend) {
		t.Fatalf("outcome = %+v, want backend error", o)
	}
	if o.Generation != e.Generation() {
		t.Errorf("failure tagged with generation %d, current %d", o.Generation, e.Generation())
	}

	ff.fail = nil
	if !e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose) {
		t.Fatal("engine should be resumable after a failed initialize")
	}
}

func TestDetectSyncPreconditions(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.DetectSync(img(4, 4)); !errors.Is(err, pose.ErrEngineNotInitialized) {
		t.Errorf("uninitialized: err = %v", err)
	}

	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)
	if _, err := e.DetectSync(img(4, 4)); !errors.Is(err, pose.ErrWrongMode) {
		t.Errorf("stream mode: err = %v", err)
	}

	e.SetMode(pose.ModeSingleImage)
	e.Dispose()
	if _, err := e.DetectSync(img(4, 4)); !errors.Is(err, pose.ErrEngineNotInitialized) {
		t.Errorf("disposed: err = %v", err)
	}
	assertNoOutcome(t, e)
}

func TestDetectSyncDuringTransition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose)

	e.mu.Lock()
	_, err := e.DetectSync(img(4, 4))
	e.mu.Unlock()
	if !errors.Is(err, pose.ErrEngineNotInitialized) {
		t.Fatalf("err = %v, want EngineNotInitialized", err)
	}
}

func TestDetectSyncResult(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	ff.setup = func(lm *fakeLandmarker) {
		lm.detectMs = 42
		lm.result = BackendResult{Poses: [][]pose.Landmark{landmarks(0.25), landmarks(0.75)}}
	}
	e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose)

	r, err := e.DetectSync(img(480, 640))
	if err != nil {
		t.Fatal(err)
	}
	if r.InferenceTimeMs != 42 {
		t.Errorf("latency = %d, want 42", r.InferenceTimeMs)
	}
	if r.ImageWidth != 480 || r.ImageHeight != 640 {
		t.Errorf("geometry = %dx%d", r.ImageWidth, r.ImageHeight)
	}
	if len(r.Landmarks) != pose.NumLandmarks || r.Landmarks[0].X != 0.25 {
		t.Errorf("expected the first pose only, got %d landmarks x=%v", len(r.Landmarks), r.Landmarks[0].X)
	}

	ff.last().result = BackendResult{}
	r, err = e.DetectSync(img(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if r.Landmarks == nil || len(r.Landmarks) != 0 {
		t.Errorf("no pose should give empty landmarks, got %v", r.Landmarks)
	}

	ff.last().err = errors.New("tensor shape mismatch")
	if _, err := e.DetectSync(img(8, 8)); !errors.Is(err, pose.ErrEngineBackend) {
		t.Errorf("err = %v, want backend error", err)
	}
}

func TestDetectAsyncPreconditionsUseOutcomes(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.DetectAsync(img(4, 4), 1)
	if o := nextOutcome(t, e); !errors.Is(o.Err, pose.ErrEngineNotInitialized) {
		t.Errorf("uninitialized: outcome = %+v", o)
	}

	e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose)
	e.DetectAsync(img(4, 4), 2)
	if o := nextOutcome(t, e); !errors.Is(o.Err, pose.ErrWrongMode) {
		t.Errorf("single image: outcome = %+v", o)
	}
}

func TestDetectAsyncLatencyAndOrder(t *testing.T) {
	e, ff, clock := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)
	lm := ff.last()

	for _, ts := range []int64{100, 110, 120} {
		e.DetectAsync(img(4, 4), ts)
	}
	if len(lm.stamps) != 3 {
		t.Fatalf("backend saw %d requests", len(lm.stamps))
	}

	clock.ms.Store(150)
	for i, ts := range lm.stamps {
		lm.opts.OnResult(BackendResult{
			Poses:       [][]pose.Landmark{landmarks(float32(i + 1))},
			Width:       480,
			Height:      640,
			TimestampMs: ts,
		})
	}

	wantLatency := []int64{50, 40, 30}
	for i := range wantLatency {
		o := nextOutcome(t, e)
		if o.Result == nil {
			t.Fatalf("outcome %d is an error: %v", i, o.Err)
		}
		if got := o.Result.Landmarks[0].X; got != float32(i+1) {
			t.Errorf("outcome %d carries r%v", i, got)
		}
		if o.Result.InferenceTimeMs != wantLatency[i] {
			t.Errorf("outcome %d latency = %d, want %d", i, o.Result.InferenceTimeMs, wantLatency[i])
		}
		if o.Result.ImageWidth != 480 || o.Result.ImageHeight != 640 {
			t.Errorf("outcome %d geometry = %dx%d", i, o.Result.ImageWidth, o.Result.ImageHeight)
		}
	}
}

func TestLateCallbacksAreDropped(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)
	old := ff.last().opts

	e.Dispose()
	old.OnResult(BackendResult{Poses: [][]pose.Landmark{landmarks(0.5)}, TimestampMs: 1})
	old.OnError(errors.New("late"))
	assertNoOutcome(t, e)

	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)
	old.OnResult(BackendResult{TimestampMs: 2})
	assertNoOutcome(t, e)

	if got := e.Stats().LateCallbacks; got != 3 {
		t.Errorf("late callbacks = %d, want 3", got)
	}
}

func TestBackendErrorCallback(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)

	ff.last().opts.OnError(errors.New("graph failed"))
	o := nextOutcome(t, e)
	if o.Err == nil || o.Err.Code != pose.CodeEngineBackend {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Generation != e.Generation() {
		t.Errorf("generation = %d, want %d", o.Generation, e.Generation())
	}
}

func TestDetectAsyncBackendRejection(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	ff.setup = func(lm *fakeLandmarker) { lm.err = errors.New("queue full") }
	e.Initialize(pose.ModeStream, pose.BackendGeneralPurpose)

	e.DetectAsync(img(4, 4), 5)
	if o := nextOutcome(t, e); !errors.Is(o.Err, pose.ErrEngineBackend) {
		t.Errorf("outcome = %+v", o)
	}
}

func TestDetectVideoFrameRequiresIncreasingTimestamps(t *testing.T) {
	e, ff, _ := newTestEngine(t)
	ff.setup = func(lm *fakeLandmarker) {
		lm.result = BackendResult{Poses: [][]pose.Landmark{landmarks(0.1)}}
	}

	e.Initialize(pose.ModeSingleImage, pose.BackendGeneralPurpose)
	if _, err := e.DetectVideoFrame(img(4, 4), 0); !errors.Is(err, pose.ErrWrongMode) {
		t.Fatalf("err = %v, want WrongModeError", err)
	}

	e.SetMode(pose.ModeRecordedVideo)
	if _, err := e.DetectVideoFrame(img(4, 4), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := e.DetectVideoFrame(img(4, 4), 33); err != nil {
		t.Fatal(err)
	}
	if _, err := e.DetectVideoFrame(img(4, 4), 33); !errors.Is(err, pose.ErrEngineBackend) {
		t.Errorf("repeated timestamp: err = %v", err)
	}

	// a fresh initialize resets the timeline
	e.SetMode(pose.ModeSingleImage)
	e.SetMode(pose.ModeRecordedVideo)
	if _, err := e.DetectVideoFrame(img(4, 4), 0); err != nil {
		t.Errorf("after reinit: %v", err)
	}
}

func TestOutcomeChannelNeverBlocks(t *testing.T) {
	clock := &fakeClock{}
	ff := &fakeFactory{clock: clock}
	e := New(ff.build, Config{OutcomeBuffer: 1, Clock: clock.now})

	e.DetectAsync(img(1, 1), 1)
	e.DetectAsync(img(1, 1), 2)
	if got := e.Stats().OutcomeDrops; got != 1 {
		t.Errorf("drops = %d, want 1", got)
	}
}
