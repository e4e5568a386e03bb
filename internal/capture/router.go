package capture

import (
	"sync"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Router routes sensor requests to the first backend that is available in
// the current environment
type Router struct {
	backends []Sensor
	active   Sensor
	mu       sync.RWMutex
	started  bool
}

// NewRouter creates a router over backends, in order of preference
func NewRouter(backends ...Sensor) *Router {
	return &Router{backends: backends}
}

// Start selects the backend. Calling it again is a no-op.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("sensor-router")

	for _, b := range r.backends {
		if b == nil {
			continue
		}
		if !b.IsAvailable() {
			log.Warn().Str("backend", b.Name()).Msg("Sensor backend not available")
			continue
		}
		r.active = b
		log.Info().Str("backend", b.Name()).Msg("Sensor backend selected")
		break
	}

	if r.active == nil {
		return pose.Errorf(pose.CodeCameraUnavailable, nil, "no sensor backends available")
	}

	r.started = true
	return nil
}

// Stop forgets the selected backend
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = nil
	r.started = false
	return nil
}

func (r *Router) current() (Sensor, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active != nil {
		return active, nil
	}
	if err := r.Start(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, nil
}

// Name returns the selected backend's name, or "router" before selection
func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active != nil {
		return r.active.Name()
	}
	return "router"
}

// IsAvailable reports whether any backend can be used
func (r *Router) IsAvailable() bool {
	for _, b := range r.backends {
		if b != nil && b.IsAvailable() {
			return true
		}
	}
	return false
}

// Sensors lists the sensors of the selected backend
func (r *Router) Sensors() ([]SensorInfo, error) {
	s, err := r.current()
	if err != nil {
		return nil, err
	}
	return s.Sensors()
}

// Open opens a session on the selected backend
func (r *Router) Open(info SensorInfo, cfg SessionConfig, sinks Sinks) (Session, error) {
	s, err := r.current()
	if err != nil {
		return nil, err
	}
	return s.Open(info, cfg, sinks)
}
