// Package onnxpose runs a BlazePose-style landmark model with ONNX Runtime
// and implements the engine's backend contract.
package onnxpose

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PoseStreamer/internal/engine"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

var errClosed = errors.New("landmarker closed")

// Config configures the backend factory
type Config struct {
	// RuntimeLibrary is the path of the onnxruntime shared library
	RuntimeLibrary string
	Model          ModelConfig
}

// NewFactory returns an engine.Factory that loads models with ONNX Runtime
func NewFactory(cfg Config) engine.Factory {
	return func(opts engine.Options) (engine.Landmarker, error) {
		if err := InitializeRuntime(cfg.RuntimeLibrary); err != nil {
			return nil, err
		}
		model, err := NewModel(opts.ModelAssetPath, opts.Backend, cfg.Model)
		if err != nil {
			return nil, err
		}
		return newLandmarker(model, opts), nil
	}
}

// inferer is the part of Model the landmarker needs
type inferer interface {
	Infer(img *image.RGBA) (engine.BackendResult, error)
	Destroy() error
}

type request struct {
	img *image.RGBA
	ts  int64
}

// Landmarker adapts a Model to the engine contract. In stream mode a worker
// goroutine runs one request at a time and frames that arrive while it is
// busy are dropped.
type Landmarker struct {
	model inferer
	opts  engine.Options

	requests  chan request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

func newLandmarker(model inferer, opts engine.Options) *Landmarker {
	l := &Landmarker{
		model: model,
		opts:  opts,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if opts.MaxPoses > 1 {
		logger.WithComponent("onnxpose").Debug().Int("max_poses", opts.MaxPoses).Msg("Model reports a single pose")
	}

	switch opts.Mode {
	case pose.ModeStream:
		l.requests = make(chan request, 1)
		go l.run()
	case pose.ModeSingleImage, pose.ModeRecordedVideo:
		close(l.done)
	}
	return l
}

// Detect runs inference inline
func (l *Landmarker) Detect(img *image.RGBA) (engine.BackendResult, error) {
	if l.closed.Load() {
		return engine.BackendResult{}, errClosed
	}
	return l.model.Infer(img)
}

// DetectAsync hands img to the worker without waiting
func (l *Landmarker) DetectAsync(img *image.RGBA, timestampMs int64) error {
	if l.requests == nil {
		return pose.Errorf(pose.CodeWrongMode, nil, "landmarker was not created in stream mode")
	}
	if l.closed.Load() {
		return errClosed
	}
	select {
	case l.requests <- request{img: img, ts: timestampMs}:
	default:
		l.dropped.Add(1)
	}
	return nil
}

func (l *Landmarker) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case req := <-l.requests:
			res, err := l.model.Infer(req.img)
			if err != nil {
				if l.opts.OnError != nil {
					l.opts.OnError(err)
				}
				continue
			}
			res.TimestampMs = req.ts
			if l.opts.OnResult != nil {
				l.opts.OnResult(res)
			}
		}
	}
}

// Dropped counts stream frames discarded while the worker was busy
func (l *Landmarker) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops the worker and releases the model
func (l *Landmarker) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		<-l.done
		err = l.model.Destroy()
		logger.WithComponent("onnxpose").Debug().Uint64("dropped", l.dropped.Load()).Msg("Landmarker closed")
	})
	return err
}
