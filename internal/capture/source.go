package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

const (
	DefaultSkipFactor = 3
	DefaultQueueDepth = 2
)

// AsyncDetector receives admitted, converted frames. DetectAsync must not block.
type AsyncDetector interface {
	DetectAsync(img *image.RGBA, timestampMs int64)
}

// Config controls a FrameSource
type Config struct {
	Session SessionConfig
	// SkipFactor K forwards only every K-th frame
	SkipFactor int
	// Preview receives oriented preview frames. May be nil.
	Preview func(img *image.RGBA)
}

// Stats is a snapshot of FrameSource counters
type Stats struct {
	Running            bool   `json:"running"`
	Facing             string `json:"facing"`
	SessionID          string `json:"sessionId,omitempty"`
	Captured           uint64 `json:"captured"`
	Admitted           uint64 `json:"admitted"`
	Skipped            uint64 `json:"skipped"`
	QueueDrops         uint64 `json:"queueDrops"`
	ConversionFailures uint64 `json:"conversionFailures"`
	StaleDiscards      uint64 `json:"staleDiscards"`
}

// Throttle admits every K-th call to Admit
type Throttle struct {
	k       uint64
	counter uint64
}

// NewThrottle creates a throttle with skip factor k (values below 1 mean 1)
func NewThrottle(k int) *Throttle {
	if k < 1 {
		k = 1
	}
	return &Throttle{k: uint64(k)}
}

// Admit counts one frame and reports whether it should be processed
func (t *Throttle) Admit() bool {
	t.counter++
	return t.counter%t.k == 0
}

// FrameSource turns a sensor stream into a throttled stream of oriented RGBA
// images handed to a detector
type FrameSource struct {
	sensor   Sensor
	detector AsyncDetector
	cfg      Config

	mu        sync.Mutex
	running   bool
	facing    Facing
	session   Session
	queue     *frameQueue
	sessionID string
	wg        sync.WaitGroup

	generation atomic.Uint64
	throttle   *Throttle

	captured      atomic.Uint64
	admitted      atomic.Uint64
	skipped       atomic.Uint64
	queueDrops    atomic.Uint64
	convFailures  atomic.Uint64
	staleDiscards atomic.Uint64
}

// NewFrameSource creates a stopped frame source
func NewFrameSource(sensor Sensor, detector AsyncDetector, cfg Config) *FrameSource {
	if cfg.SkipFactor < 1 {
		cfg.SkipFactor = DefaultSkipFactor
	}
	if cfg.Session.QueueDepth < 1 {
		cfg.Session.QueueDepth = DefaultQueueDepth
	}
	return &FrameSource{
		sensor:   sensor,
		detector: detector,
		cfg:      cfg,
		throttle: NewThrottle(cfg.SkipFactor),
	}
}

// Start opens a capture session on the first sensor with the requested facing
func (s *FrameSource) Start(ctx context.Context, useFrontFacing bool) error {
	facing := FacingBack
	if useFrontFacing {
		facing = FacingFront
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, facing)
}

func (s *FrameSource) startLocked(ctx context.Context, facing Facing) error {
	if s.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := s.resolve(facing)
	if err != nil {
		return err
	}

	gen := s.generation.Add(1)
	queue := newFrameQueue(s.cfg.Session.QueueDepth)
	sessionID := uuid.NewString()
	log := logger.WithSession("capture", sessionID)

	sinks := Sinks{
		Analysis: func(f *RawFrame) {
			s.captured.Add(1)
			f.generation = gen
			f.Facing = info.Facing
			f.Orientation = info.Orientation
			if !queue.Push(f) {
				f.Release()
			}
		},
	}
	if s.cfg.Preview != nil {
		preview := s.cfg.Preview
		sinks.Preview = func(img *image.RGBA) {
			if s.generation.Load() != gen {
				return
			}
			oriented, err := Orient(img, info.Orientation, info.Facing == FacingFront)
			if err != nil {
				return
			}
			preview(oriented)
		}
	}

	session, err := s.sensor.Open(info, s.cfg.Session, sinks)
	if err != nil {
		queue.Close()
		s.generation.Add(1)
		if pe := classified(err); pe != nil {
			return pe
		}
		return pose.Errorf(pose.CodeConfigurationFailed, err, "open sensor %s", info.ID)
	}

	s.running = true
	s.facing = facing
	s.session = session
	s.queue = queue
	s.sessionID = sessionID

	s.wg.Add(1)
	go s.work(queue, gen)

	log.Info().
		Str("sensor", info.ID).
		Str("device", info.Device).
		Str("facing", facing.String()).
		Int("orientation", info.Orientation).
		Int("skip_factor", s.cfg.SkipFactor).
		Msg("Capture started")
	return nil
}

// classified returns err's *pose.Error, or nil if the backend left it unclassified
func classified(err error) *pose.Error {
	var pe *pose.Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

func (s *FrameSource) resolve(facing Facing) (SensorInfo, error) {
	if s.sensor == nil {
		return SensorInfo{}, pose.Errorf(pose.CodeCameraUnavailable, nil, "no sensor backend")
	}
	sensors, err := s.sensor.Sensors()
	if err != nil {
		if pe := classified(err); pe != nil {
			return SensorInfo{}, pe
		}
		return SensorInfo{}, pose.Errorf(pose.CodeCameraUnavailable, err, "enumerate sensors")
	}
	for _, info := range sensors {
		if info.Facing == facing {
			return info, nil
		}
	}
	return SensorInfo{}, pose.Errorf(pose.CodeCameraUnavailable, nil, "no %s-facing sensor among %d", facing, len(sensors))
}

// Stop closes the session, the queue and the worker. Safe when already stopped.
func (s *FrameSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *FrameSource) stopLocked() error {
	if !s.running {
		return nil
	}

	// invalidate in-flight work before tearing anything down
	s.generation.Add(1)

	var err error
	if s.session != nil {
		err = s.session.Close()
	}
	s.queueDrops.Add(s.queue.Drops())
	s.queue.Close()
	s.wg.Wait()

	logger.WithSession("capture", s.sessionID).Info().Msg("Capture stopped")

	s.running = false
	s.session = nil
	s.queue = nil
	s.sessionID = ""
	return err
}

// SwitchFacing restarts capture with the opposite facing
func (s *FrameSource) SwitchFacing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.facing.Invert()
	if err := s.stopLocked(); err != nil {
		logger.WithComponent("capture").Warn().Err(err).Msg("Session close failed during switch")
	}
	return s.startLocked(ctx, next)
}

// work is the capture worker: one goroutine per session, sequential
func (s *FrameSource) work(queue *frameQueue, gen uint64) {
	defer s.wg.Done()
	for {
		f, ok := queue.Pop()
		if !ok {
			return
		}
		s.handle(f, gen)
	}
}

func (s *FrameSource) handle(f *RawFrame, gen uint64) {
	defer f.Release()

	if f.generation != gen || s.generation.Load() != gen {
		s.staleDiscards.Add(1)
		return
	}
	if !s.throttle.Admit() {
		s.skipped.Add(1)
		return
	}

	img, err := Convert(f)
	if err != nil {
		s.convFailures.Add(1)
		logger.WithComponent("capture").Debug().Err(err).Msg("Dropping frame")
		return
	}

	if s.generation.Load() != gen {
		s.staleDiscards.Add(1)
		return
	}
	s.admitted.Add(1)
	if s.detector != nil {
		s.detector.DetectAsync(img, pose.Millis(f.Timestamp))
	}
}

// Facing returns the facing of the current or last session
func (s *FrameSource) Facing() Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// IsRunning reports whether a session is active
func (s *FrameSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of the counters
func (s *FrameSource) Stats() Stats {
	s.mu.Lock()
	running, facing, id := s.running, s.facing, s.sessionID
	drops := s.queueDrops.Load()
	if s.queue != nil {
		drops += s.queue.Drops()
	}
	s.mu.Unlock()

	return Stats{
		Running:            running,
		Facing:             facing.String(),
		SessionID:          id,
		Captured:           s.captured.Load(),
		Admitted:           s.admitted.Load(),
		Skipped:            s.skipped.Load(),
		QueueDrops:         drops,
		ConversionFailures: s.convFailures.Load(),
		StaleDiscards:      s.staleDiscards.Load(),
	}
}
