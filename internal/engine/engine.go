// Package engine owns the lifecycle of the pose inference backend and turns
// its callbacks into one ordered channel of outcomes.
package engine

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// State is the engine lifecycle state
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

const DefaultOutcomeBuffer = 64

// Config holds the engine's fixed parameters
type Config struct {
	ModelAssetPath string
	MaxPoses       int
	// OutcomeBuffer is the capacity of the outcome channel
	OutcomeBuffer int
	// Clock defaults to pose.Now
	Clock func() time.Duration
}

// Stats is a snapshot of engine counters
type Stats struct {
	State         string `json:"state"`
	Mode          string `json:"mode"`
	Backend       string `json:"backend"`
	Generation    uint64 `json:"generation"`
	Reinits       uint64 `json:"reinits"`
	Results       uint64 `json:"results"`
	Errors        uint64 `json:"errors"`
	LateCallbacks uint64 `json:"lateCallbacks"`
	OutcomeDrops  uint64 `json:"outcomeDrops"`
	LastInference int64  `json:"lastInferenceMs"`
}

// Engine wraps a pose backend. Lifecycle transitions hold the write lock;
// detect calls take the read lock without waiting.
type Engine struct {
	factory Factory
	cfg     Config
	clock   func() time.Duration

	mu         sync.RWMutex
	state      State
	mode       pose.Mode
	backend    pose.Backend
	landmarker Landmarker
	lastVideo  atomic.Int64

	generation atomic.Uint64
	reinits    atomic.Uint64
	outcomes   chan pose.Outcome

	results       atomic.Uint64
	errors        atomic.Uint64
	lateCallbacks atomic.Uint64
	outcomeDrops  atomic.Uint64
	lastInference atomic.Int64
}

// New creates an uninitialized engine
func New(factory Factory, cfg Config) *Engine {
	if cfg.MaxPoses < 1 {
		cfg.MaxPoses = 1
	}
	if cfg.OutcomeBuffer < 1 {
		cfg.OutcomeBuffer = DefaultOutcomeBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = pose.Now
	}
	return &Engine{
		factory:  factory,
		cfg:      cfg,
		clock:    clock,
		outcomes: make(chan pose.Outcome, cfg.OutcomeBuffer),
	}
}

// Outcomes is the single ordered stream of results and errors
func (e *Engine) Outcomes() <-chan pose.Outcome {
	return e.outcomes
}

// Generation changes on every initialize and dispose. Outcomes tagged with an
// older generation are stale.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Reinits counts re-initializations triggered by SetMode and SetBackend
func (e *Engine) Reinits() uint64 {
	return e.reinits.Load()
}

// Initialize builds the backend. It is a no-op when already initialized with
// the same parameters. On failure it emits an error outcome and returns false.
func (e *Engine) Initialize(mode pose.Mode, backend pose.Backend) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initLocked(mode, backend)
}

func (e *Engine) initLocked(mode pose.Mode, backend pose.Backend) bool {
	log := logger.WithComponent("engine")

	if e.state == StateInitialized {
		if e.mode == mode && e.backend == backend {
			log.Debug().Msg("Already initialized")
			return true
		}
		e.disposeLocked()
	}

	e.mode = mode
	e.backend = backend
	e.lastVideo.Store(-1)
	gen := e.generation.Add(1)

	opts := Options{
		ModelAssetPath: e.cfg.ModelAssetPath,
		Mode:           mode,
		Backend:        backend,
		MaxPoses:       e.cfg.MaxPoses,
	}
	switch mode {
	case pose.ModeStream:
		opts.OnResult = e.resultHandler(gen)
		opts.OnError = e.errorHandler(gen)
	case pose.ModeSingleImage, pose.ModeRecordedVideo:
	}

	log.Debug().Str("mode", mode.String()).Str("backend", backend.String()).Uint64("generation", gen).Msg("Initializing pose backend")

	if e.factory == nil {
		e.state = StateUninitialized
		e.emit(pose.Failed(gen, pose.Errorf(pose.CodeEngineBackend, nil, "no pose backend configured")))
		return false
	}
	lm, err := e.factory(opts)
	if err != nil {
		e.state = StateUninitialized
		perr := pose.Errorf(pose.CodeEngineBackend, err, "failed to initialize pose backend")
		log.Error().Err(err).Str("mode", mode.String()).Str("backend", backend.String()).Msg("Pose backend initialization failed")
		e.emit(pose.Failed(gen, perr))
		return false
	}

	e.landmarker = lm
	e.state = StateInitialized
	log.Info().Str("mode", mode.String()).Str("backend", backend.String()).Msg("Pose backend initialized")
	return true
}

// SetMode re-initializes with mode, keeping the backend selection. No-op if
// the mode is unchanged, in any state; the result then reports whether a
// backend is live.
func (e *Engine) SetMode(mode pose.Mode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if mode == e.mode {
		return e.state == StateInitialized
	}
	logger.WithComponent("engine").Info().Str("from", e.mode.String()).Str("to", mode.String()).Msg("Mode changed, re-initializing")
	e.reinits.Add(1)
	return e.initLocked(mode, e.backend)
}

// SetBackend re-initializes with backend, keeping the mode. No-op if the
// backend is unchanged.
func (e *Engine) SetBackend(backend pose.Backend) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if backend == e.backend {
		return e.state == StateInitialized
	}
	logger.WithComponent("engine").Info().Str("from", e.backend.String()).Str("to", backend.String()).Msg("Backend changed, re-initializing")
	e.reinits.Add(1)
	return e.initLocked(e.mode, backend)
}

// Dispose releases the backend. Safe to call repeatedly; callbacks that arrive
// afterwards are dropped.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposeLocked()
}

func (e *Engine) disposeLocked() {
	if e.state != StateInitialized {
		return
	}
	e.generation.Add(1)
	lm := e.landmarker
	e.landmarker = nil
	e.state = StateDisposed

	if err := lm.Close(); err != nil {
		logger.WithComponent("engine").Warn().Err(err).Msg("Error disposing pose backend")
	}
	logger.WithComponent("engine").Info().Msg("Pose backend disposed")
}

// acquire takes the read lock and checks preconditions. The caller must
// RUnlock when err is nil.
func (e *Engine) acquire(want pose.Mode) (Landmarker, error) {
	if !e.mu.TryRLock() {
		return nil, pose.Errorf(pose.CodeEngineNotInitialized, nil, "lifecycle transition in progress")
	}
	if e.state != StateInitialized || e.landmarker == nil {
		state := e.state
		e.mu.RUnlock()
		return nil, pose.Errorf(pose.CodeEngineNotInitialized, nil, "engine is %s", state)
	}
	if e.mode != want {
		mode := e.mode
		e.mu.RUnlock()
		return nil, pose.Errorf(pose.CodeWrongMode, nil, "%s requires %s mode, engine is in %s mode", detectName(want), want, mode)
	}
	return e.landmarker, nil
}

func detectName(mode pose.Mode) string {
	switch mode {
	case pose.ModeSingleImage:
		return "DetectSync"
	case pose.ModeStream:
		return "DetectAsync"
	case pose.ModeRecordedVideo:
		return "DetectVideoFrame"
	}
	return "detect"
}

// DetectSync runs inference on a single image. Valid only in single image mode.
func (e *Engine) DetectSync(img *image.RGBA) (pose.DetectionResult, error) {
	lm, err := e.acquire(pose.ModeSingleImage)
	if err != nil {
		return pose.DetectionResult{}, err
	}
	defer e.mu.RUnlock()
	return e.detectLocked(lm, img)
}

// DetectVideoFrame runs inference on one decoded frame of a recorded video.
// Valid only in recorded video mode; timestamps must increase.
func (e *Engine) DetectVideoFrame(img *image.RGBA, timestampMs int64) (pose.DetectionResult, error) {
	lm, err := e.acquire(pose.ModeRecordedVideo)
	if err != nil {
		return pose.DetectionResult{}, err
	}
	defer e.mu.RUnlock()

	for {
		last := e.lastVideo.Load()
		if timestampMs <= last {
			return pose.DetectionResult{}, pose.Errorf(pose.CodeEngineBackend, nil, "video timestamp %d not after %d", timestampMs, last)
		}
		if e.lastVideo.CompareAndSwap(last, timestampMs) {
			break
		}
	}
	return e.detectLocked(lm, img)
}

func (e *Engine) detectLocked(lm Landmarker, img *image.RGBA) (pose.DetectionResult, error) {
	if img == nil || img.Bounds().Empty() {
		return pose.DetectionResult{}, pose.Errorf(pose.CodeConversion, nil, "empty image")
	}
	start := e.clock()
	br, err := lm.Detect(img)
	latency := (e.clock() - start).Milliseconds()
	if err != nil {
		e.errors.Add(1)
		return pose.DetectionResult{}, pose.Errorf(pose.CodeEngineBackend, err, "detect failed")
	}
	e.results.Add(1)
	e.lastInference.Store(latency)
	return toResult(br, latency, img.Bounds()), nil
}

// DetectAsync queues a streaming inference. Valid only in stream mode;
// failures are reported on the outcome channel.
func (e *Engine) DetectAsync(img *image.RGBA, timestampMs int64) {
	lm, err := e.acquire(pose.ModeStream)
	if err != nil {
		e.errors.Add(1)
		e.emit(pose.Failed(e.generation.Load(), pose.AsError(err)))
		return
	}
	gen := e.generation.Load()
	defer e.mu.RUnlock()

	if err := lm.DetectAsync(img, timestampMs); err != nil {
		e.errors.Add(1)
		logger.WithComponent("engine").Error().Err(err).Msg("DetectAsync failed")
		e.emit(pose.Failed(gen, pose.Errorf(pose.CodeEngineBackend, err, "detectAsync failed")))
	}
}

func (e *Engine) resultHandler(gen uint64) func(BackendResult) {
	return func(br BackendResult) {
		if e.generation.Load() != gen {
			e.lateCallbacks.Add(1)
			return
		}
		latency := pose.Millis(e.clock()) - br.TimestampMs
		if latency < 0 {
			latency = 0
		}
		e.results.Add(1)
		e.lastInference.Store(latency)
		e.emit(pose.OK(gen, toResult(br, latency, image.Rectangle{})))
	}
}

func (e *Engine) errorHandler(gen uint64) func(error) {
	return func(err error) {
		if e.generation.Load() != gen {
			e.lateCallbacks.Add(1)
			return
		}
		e.errors.Add(1)
		logger.WithComponent("engine").Error().Err(err).Msg("Pose backend error")
		e.emit(pose.Failed(gen, pose.AsError(err)))
	}
}

// emit never blocks the caller; a full channel drops the outcome
func (e *Engine) emit(o pose.Outcome) {
	select {
	case e.outcomes <- o:
	default:
		e.outcomeDrops.Add(1)
		logger.WithComponent("engine").Warn().Uint64("generation", o.Generation).Msg("Outcome channel full, dropping")
	}
}

// toResult keeps the first pose. Geometry falls back to bounds when the
// backend does not echo it.
func toResult(br BackendResult, latency int64, bounds image.Rectangle) pose.DetectionResult {
	r := pose.DetectionResult{
		InferenceTimeMs: latency,
		ImageWidth:      br.Width,
		ImageHeight:     br.Height,
		Landmarks:       []pose.Landmark{},
	}
	if r.ImageWidth <= 0 || r.ImageHeight <= 0 {
		r.ImageWidth, r.ImageHeight = bounds.Dx(), bounds.Dy()
	}
	if len(br.Poses) > 0 {
		r.Landmarks = append(r.Landmarks, br.Poses[0]...)
	}
	return r
}

// Mode returns the current or last requested mode
func (e *Engine) Mode() pose.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Backend returns the current or last requested backend
func (e *Engine) Backend() pose.Backend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend
}

// State returns the lifecycle state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Stats returns a snapshot of the counters
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	state, mode, backend := e.state, e.mode, e.backend
	e.mu.RUnlock()

	return Stats{
		State:         state.String(),
		Mode:          mode.String(),
		Backend:       backend.String(),
		Generation:    e.generation.Load(),
		Reinits:       e.reinits.Load(),
		Results:       e.results.Load(),
		Errors:        e.errors.Load(),
		LateCallbacks: e.lateCallbacks.Load(),
		OutcomeDrops:  e.outcomeDrops.Load(),
		LastInference: e.lastInference.Load(),
	}
}
