// Package dispatch delivers engine outcomes to observers on the UI loop.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Observer receives results and errors. Calls happen on the UI loop.
type Observer interface {
	OnResult(r pose.DetectionResult)
	OnError(err *pose.Error)
}

// Funcs adapts plain functions to Observer. Nil fields are skipped.
type Funcs struct {
	Result func(pose.DetectionResult)
	Error  func(*pose.Error)
}

func (f Funcs) OnResult(r pose.DetectionResult) {
	if f.Result != nil {
		f.Result(r)
	}
}

func (f Funcs) OnError(err *pose.Error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// GenerationSource reports the engine's current generation
type GenerationSource interface {
	Generation() uint64
}

// Poster runs closures on the UI execution context
type Poster interface {
	Post(fn func()) bool
}

// Stats is a snapshot of dispatcher counters
type Stats struct {
	Results   uint64 `json:"results"`
	Errors    uint64 `json:"errors"`
	Stale     uint64 `json:"stale"`
	Rejected  uint64 `json:"rejected"`
	Observers int    `json:"observers"`
}

type subscription struct {
	id  uint64
	obs Observer
}

// Dispatcher reads outcomes in order and forwards the current-generation ones
type Dispatcher struct {
	outcomes <-chan pose.Outcome
	gen      GenerationSource
	loop     Poster

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	results  atomic.Uint64
	errors   atomic.Uint64
	stale    atomic.Uint64
	rejected atomic.Uint64
}

// New creates a dispatcher. Call Run to start consuming outcomes.
func New(outcomes <-chan pose.Outcome, gen GenerationSource, loop Poster) *Dispatcher {
	return &Dispatcher{outcomes: outcomes, gen: gen, loop: loop}
}

// Subscribe adds an observer; the returned func removes it
func (d *Dispatcher) Subscribe(obs Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, obs: obs})

	return func() { d.unsubscribe(id) }
}

func (d *Dispatcher) unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Run consumes outcomes until ctx is done or the channel is closed
func (d *Dispatcher) Run(ctx context.Context) {
	log := logger.WithComponent("dispatch")
	log.Debug().Msg("Dispatcher started")
	defer log.Debug().Msg("Dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-d.outcomes:
			if !ok {
				return
			}
			d.dispatch(o)
		}
	}
}

func (d *Dispatcher) current(o pose.Outcome) bool {
	if o.Generation != d.gen.Generation() {
		d.stale.Add(1)
		return false
	}
	return true
}

func (d *Dispatcher) dispatch(o pose.Outcome) {
	if !d.current(o) {
		return
	}
	if !d.loop.Post(func() { d.deliver(o) }) {
		d.rejected.Add(1)
	}
}

// deliver runs on the UI loop
func (d *Dispatcher) deliver(o pose.Outcome) {
	// the engine may have been disposed while this was queued
	if !d.current(o) {
		return
	}

	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	switch {
	case o.Err != nil:
		d.errors.Add(1)
		for _, s := range subs {
			s.obs.OnError(o.Err)
		}
	case o.Result != nil:
		d.results.Add(1)
		for _, s := range subs {
			s.obs.OnResult(*o.Result)
		}
	}
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	n := len(d.subs)
	d.mu.RUnlock()

	return Stats{
		Results:   d.results.Load(),
		Errors:    d.errors.Load(),
		Stale:     d.stale.Load(),
		Rejected:  d.rejected.Load(),
		Observers: n,
	}
}
