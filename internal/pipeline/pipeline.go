// Package pipeline wires the frame source, the inference engine, the result
// dispatcher and the overlay renderer together and exposes the host command
// set.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/dispatch"
	"github.com/bryanchriswhite/PoseStreamer/internal/engine"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/overlay"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/ui"
)

// Surface is a drawing surface the host can resize
type Surface interface {
	overlay.Surface
	Resize(width, height int) error
}

// Decoder turns encoded image bytes into an image
type Decoder func(data []byte) (*image.RGBA, error)

// Deps are the platform pieces the pipeline runs on
type Deps struct {
	Sensor  capture.Sensor
	Factory engine.Factory
	Surface Surface
	Decode  Decoder
}

// Options configures the pipeline
type Options struct {
	Engine  engine.Config
	Source  capture.Config
	Overlay overlay.Options
	// Backend is used when capture or detection has to initialize the engine
	Backend pose.Backend
}

// Status is the host-visible runtime state
type Status struct {
	Engine   engine.Stats   `json:"engine"`
	Capture  capture.Stats  `json:"capture"`
	Dispatch dispatch.Stats `json:"dispatch"`
	Overlay  overlay.Stats  `json:"overlay"`
	Uptime   string         `json:"uptime"`
}

// Pipeline owns every component. Host commands are serialized.
type Pipeline struct {
	deps Deps
	opts Options

	loop       *ui.Loop
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	renderer   *overlay.Renderer
	source     *capture.FrameSource

	cmdMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// New builds a stopped pipeline
func New(deps Deps, opts Options) *Pipeline {
	p := &Pipeline{deps: deps, opts: opts, loop: ui.NewLoop()}

	p.engine = engine.New(deps.Factory, opts.Engine)
	p.dispatcher = dispatch.New(p.engine.Outcomes(), p.engine, p.loop)
	p.renderer = overlay.NewRenderer(deps.Surface, p.loop, opts.Overlay)

	srcCfg := opts.Source
	srcCfg.Preview = p.renderer.SetPreview
	p.source = capture.NewFrameSource(deps.Sensor, p.engine, srcCfg)

	p.dispatcher.Subscribe(dispatch.Funcs{
		Result: func(r pose.DetectionResult) {
			p.renderer.SetResults(r, r.ImageWidth, r.ImageHeight)
		},
		Error: func(err *pose.Error) {
			logger.WithComponent("pipeline").Warn().Str("code", string(err.Code)).Msg(err.Wire().Message)
		},
	})
	return p
}

// Start runs the UI loop and the dispatcher until ctx is done or Close is
// called
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.started = time.Now()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.loop.Run(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.dispatcher.Run(ctx)
	}()

	logger.WithComponent("pipeline").Info().Msg("Pipeline started")
}

// Close stops capture, disposes the engine and stops the background loops
func (p *Pipeline) Close() error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	err := p.source.Stop()
	p.engine.Dispose()
	if p.cancel != nil {
		p.cancel()
	}
	p.loop.Close()
	p.wg.Wait()

	logger.WithComponent("pipeline").Info().Msg("Pipeline stopped")
	return err
}

// Subscribe registers a host observer. Calls arrive on the UI loop.
func (p *Pipeline) Subscribe(obs dispatch.Observer) func() {
	return p.dispatcher.Subscribe(obs)
}

// Initialize (re)builds the engine with the given parameters. Capture only
// runs in stream mode, so other modes are rejected while it is running.
func (p *Pipeline) Initialize(mode pose.Mode, backend pose.Backend) error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if mode != pose.ModeStream && p.source.IsRunning() {
		return pose.Errorf(pose.CodeWrongMode, nil, "stop capture before initializing in %s mode", mode)
	}

	if !p.engine.Initialize(mode, backend) {
		return pose.Errorf(pose.CodeEngineBackend, nil, "engine initialization failed (%s, %s)", mode, backend)
	}
	p.opts.Backend = backend
	return nil
}

// SetBackend switches the compute path, keeping the mode
func (p *Pipeline) SetBackend(backend pose.Backend) error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.opts.Backend = backend
	if p.engine.State() != engine.StateInitialized {
		return pose.ErrEngineNotInitialized
	}
	if !p.engine.SetBackend(backend) {
		return pose.Errorf(pose.CodeEngineBackend, nil, "backend switch to %s failed", backend)
	}
	return nil
}

// ensureMode puts the engine in mode, initializing or re-initializing it.
// Caller holds cmdMu.
func (p *Pipeline) ensureMode(mode pose.Mode) error {
	if p.engine.State() == engine.StateInitialized && p.engine.Mode() == mode {
		return nil
	}

	log := logger.WithComponent("pipeline")
	var ok bool
	if p.engine.State() == engine.StateInitialized {
		log.Info().Str("from", p.engine.Mode().String()).Str("to", mode.String()).Msg("Switching engine mode")
		ok = p.engine.SetMode(mode)
	} else {
		log.Info().Str("mode", mode.String()).Str("backend", p.opts.Backend.String()).Msg("Initializing engine")
		ok = p.engine.Initialize(mode, p.opts.Backend)
	}
	if !ok {
		return pose.Errorf(pose.CodeEngineBackend, nil, "engine could not enter %s mode", mode)
	}
	return nil
}

// StartCapture puts the engine in stream mode and opens the sensor with the
// requested facing
func (p *Pipeline) StartCapture(ctx context.Context, useFrontFacing bool) error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.source.IsRunning() {
		return nil
	}
	if err := p.ensureMode(pose.ModeStream); err != nil {
		return err
	}
	return p.source.Start(ctx, useFrontFacing)
}

// StopCapture closes the sensor and clears the overlay
func (p *Pipeline) StopCapture() error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	err := p.source.Stop()
	p.renderer.SetPreview(nil)
	p.renderer.Clear()
	return err
}

// SwitchCamera restarts capture on the opposite facing. The overlay is
// cleared so no skeleton from the old sensor is shown.
func (p *Pipeline) SwitchCamera(ctx context.Context) error {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if !p.source.IsRunning() {
		return pose.Errorf(pose.CodeCameraUnavailable, nil, "capture is not running")
	}
	p.renderer.Clear()
	return p.source.SwitchFacing(ctx)
}

// DetectImage runs single-image detection and shows the result. It is
// rejected while capture is running; otherwise the engine is moved to single
// image mode first.
func (p *Pipeline) DetectImage(img *image.RGBA) (pose.DetectionResult, error) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.source.IsRunning() {
		return pose.DetectionResult{}, pose.Errorf(pose.CodeWrongMode, nil, "stop capture before detecting a single image")
	}
	if err := p.ensureMode(pose.ModeSingleImage); err != nil {
		return pose.DetectionResult{}, err
	}
	res, err := p.engine.DetectSync(img)
	if err != nil {
		return res, err
	}
	p.renderer.SetPreview(img)
	p.renderer.SetResults(res, res.ImageWidth, res.ImageHeight)
	return res, nil
}

// DetectEncoded decodes data and runs DetectImage
func (p *Pipeline) DetectEncoded(data []byte) (pose.DetectionResult, error) {
	if p.deps.Decode == nil {
		return pose.DetectionResult{}, pose.Errorf(pose.CodeConversion, nil, "no image decoder configured")
	}
	img, err := p.deps.Decode(data)
	if err != nil {
		return pose.DetectionResult{}, pose.Errorf(pose.CodeConversion, err, "decode image")
	}
	return p.DetectImage(img)
}

// DetectVideoFrame runs detection on one frame of a recorded video, with the
// same capture restriction as DetectImage. Timestamps must increase.
func (p *Pipeline) DetectVideoFrame(img *image.RGBA, timestampMs int64) (pose.DetectionResult, error) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.source.IsRunning() {
		return pose.DetectionResult{}, pose.Errorf(pose.CodeWrongMode, nil, "stop capture before processing a video")
	}
	if err := p.ensureMode(pose.ModeRecordedVideo); err != nil {
		return pose.DetectionResult{}, err
	}
	res, err := p.engine.DetectVideoFrame(img, timestampMs)
	if err != nil {
		return res, err
	}
	p.renderer.SetPreview(img)
	p.renderer.SetResults(res, res.ImageWidth, res.ImageHeight)
	return res, nil
}

// ResizeSurface changes the drawing surface size and redraws
func (p *Pipeline) ResizeSurface(width, height int) error {
	if err := p.deps.Surface.Resize(width, height); err != nil {
		return err
	}
	p.renderer.Invalidate()
	return nil
}

// Render draws the current overlay into a new width x height image on the UI
// loop. Returns nil if the loop has stopped.
func (p *Pipeline) Render(width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if !p.loop.Sync(func() { p.renderer.Render(dst) }) {
		return nil
	}
	return dst
}

// Sensors lists the sensors the capture backend can open
func (p *Pipeline) Sensors() ([]capture.SensorInfo, error) {
	return p.deps.Sensor.Sensors()
}

// Dispose releases the engine; Initialize can build it again
func (p *Pipeline) Dispose() {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()
	p.engine.Dispose()
}

// Status returns the runtime counters of every component
func (p *Pipeline) Status() Status {
	s := Status{
		Engine:   p.engine.Stats(),
		Capture:  p.source.Stats(),
		Dispatch: p.dispatcher.Stats(),
		Overlay:  p.renderer.Stats(),
	}
	if !p.started.IsZero() {
		s.Uptime = time.Since(p.started).Round(time.Second).String()
	}
	return s
}
