package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/ui"
)

type fakeGen struct {
	v atomic.Uint64
}

func (g *fakeGen) Generation() uint64 { return g.v.Load() }

// manualLoop queues posted work until the test runs it
type manualLoop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
}

func (l *manualLoop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	return true
}

func (l *manualLoop) runAll() {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range q {
		fn()
	}
}

type recorder struct {
	mu      sync.Mutex
	results []pose.DetectionResult
	errs    []*pose.Error
}

func (r *recorder) OnResult(res pose.DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) OnError(err *pose.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func result(ms int64) pose.DetectionResult {
	return pose.DetectionResult{InferenceTimeMs: ms, ImageWidth: 480, ImageHeight: 640}
}

func TestDeliversInArrivalOrderOnLoop(t *testing.T) {
	gen := &fakeGen{}
	gen.v.Store(1)
	loop := ui.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	outcomes := make(chan pose.Outcome, 8)
	d := New(outcomes, gen, loop)
	a, b := &recorder{}, &recorder{}
	d.Subscribe(a)
	d.Subscribe(b)

	for _, ms := range []int64{1, 2, 3} {
		outcomes <- pose.OK(1, result(ms))
	}
	outcomes <- pose.Failed(1, pose.Errorf(pose.CodeEngineBackend, nil, "boom"))
	close(outcomes)
	d.Run(ctx)
	loop.Sync(func() {})

	for name, r := range map[string]*recorder{"a": a, "b": b} {
		r.mu.Lock()
		if len(r.results) != 3 {
			t.Fatalf("%s got %d results", name, len(r.results))
		}
		for i, res := range r.results {
			if res.InferenceTimeMs != int64(i+1) {
				t.Errorf("%s result %d = r%d", name, i, res.InferenceTimeMs)
			}
		}
		if len(r.errs) != 1 || r.errs[0].Code != pose.CodeEngineBackend {
			t.Errorf("%s errors = %v", name, r.errs)
		}
		r.mu.Unlock()
	}
	if st := d.Stats(); st.Results != 3 || st.Errors != 1 || st.Observers != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStaleOutcomesNeverReachObservers(t *testing.T) {
	gen := &fakeGen{}
	gen.v.Store(5)
	loop := &manualLoop{}
	d := New(nil, gen, loop)
	rec := &recorder{}
	d.Subscribe(rec)

	// older generation: dropped before posting
	d.dispatch(pose.OK(4, result(1)))
	if len(loop.queue) != 0 {
		t.Fatal("stale outcome was posted")
	}

	// current when read, stale by the time the loop runs it
	d.dispatch(pose.OK(5, result(2)))
	gen.v.Store(6)
	loop.runAll()

	if len(rec.results) != 0 {
		t.Errorf("observer received %d stale results", len(rec.results))
	}
	if st := d.Stats(); st.Stale != 2 {
		t.Errorf("stale = %d, want 2", st.Stale)
	}
}

func TestUnsubscribe(t *testing.T) {
	gen := &fakeGen{}
	loop := &manualLoop{}
	d := New(nil, gen, loop)
	a, b := &recorder{}, &recorder{}
	cancelA := d.Subscribe(a)
	d.Subscribe(b)

	cancelA()
	cancelA()
	d.dispatch(pose.OK(0, result(1)))
	loop.runAll()

	if len(a.results) != 0 || len(b.results) != 1 {
		t.Errorf("a=%d b=%d, want 0 and 1", len(a.results), len(b.results))
	}
}

func TestClosedLoopRejects(t *testing.T) {
	loop := &manualLoop{closed: true}
	d := New(nil, &fakeGen{}, loop)
	d.dispatch(pose.OK(0, result(1)))
	if d.Stats().Rejected != 1 {
		t.Errorf("rejected = %d", d.Stats().Rejected)
	}
}

func TestFuncsSkipsNil(t *testing.T) {
	var got int64
	f := Funcs{Result: func(r pose.DetectionResult) { got = r.InferenceTimeMs }}
	f.OnResult(result(7))
	f.OnError(pose.ErrWrongMode)
	if got != 7 {
		t.Errorf("got %d", got)
	}
}
