// Package gstsensor captures from V4L2 devices through a GStreamer pipeline
// that tees each frame into an RGBA preview sink and an I420 analysis sink.
package gstsensor

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

var initOnce sync.Once

func initGst() {
	initOnce.Do(func() { gst.Init(nil) })
}

// Sensor is a capture.Sensor backed by v4l2src
type Sensor struct {
	devices []capture.SensorInfo
	pattern string
}

// New creates a sensor backend. If devices is empty, nodes matching
// pattern are discovered at enumeration time.
func New(devices []capture.SensorInfo, pattern string) *Sensor {
	if pattern == "" {
		pattern = "/dev/video*"
	}
	return &Sensor{devices: devices, pattern: pattern}
}

func (s *Sensor) Name() string {
	return "gstreamer"
}

// IsAvailable reports whether GStreamer has the v4l2src element
func (s *Sensor) IsAvailable() bool {
	initGst()
	return gst.Find("v4l2src") != nil
}

func (s *Sensor) Sensors() ([]capture.SensorInfo, error) {
	if len(s.devices) > 0 {
		return s.devices, nil
	}
	return capture.DiscoverDevices(s.pattern)
}

// Open builds and starts the pipeline for info
func (s *Sensor) Open(info capture.SensorInfo, cfg capture.SessionConfig, sinks capture.Sinks) (capture.Session, error) {
	if err := capture.ProbeDevice(info.Device); err != nil {
		return nil, err
	}
	initGst()

	p := &pipeline{
		info:  info,
		sinks: sinks,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if err := p.start(cfg); err != nil {
		return nil, pose.Errorf(pose.CodeConfigurationFailed, err, "gstreamer session on %s", info.Device)
	}
	return p, nil
}

func pipelineString(device string, cfg capture.SessionConfig, withPreview bool) string {
	caps := "video/x-raw"
	if cfg.Width > 0 && cfg.Height > 0 {
		caps += fmt.Sprintf(",width=%d,height=%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", cfg.FPS)
	}
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = capture.DefaultQueueDepth
	}

	str := fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! videoconvert ! videoscale ! %s ! tee name=t "+
			"t. ! queue leaky=downstream max-size-buffers=%d ! videoconvert ! video/x-raw,format=I420 ! "+
			"appsink name=analysis emit-signals=false max-buffers=%d drop=true",
		device, caps, depth, depth,
	)
	if withPreview {
		str += " t. ! queue leaky=downstream max-size-buffers=1 ! videoconvert ! video/x-raw,format=RGBA ! " +
			"appsink name=preview emit-signals=false max-buffers=1 drop=true"
	}
	return str
}

// pipeline is one running capture session
type pipeline struct {
	info     capture.SensorInfo
	sinks    capture.Sinks
	pipe     *gst.Pipeline
	analysis *app.Sink
	preview  *app.Sink

	pool sync.Pool

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func (p *pipeline) start(cfg capture.SessionConfig) error {
	log := logger.WithComponent("gstsensor")

	str := pipelineString(p.info.Device, cfg, p.sinks.Preview != nil)
	log.Debug().Str("pipeline", str).Msg("Creating GStreamer pipeline")

	pipe, err := gst.NewPipelineFromString(str)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	el, err := pipe.GetElementByName("analysis")
	if err != nil {
		pipe.Unref()
		return fmt.Errorf("failed to get analysis sink: %w", err)
	}
	p.analysis = app.SinkFromElement(el)

	if p.sinks.Preview != nil {
		el, err := pipe.GetElementByName("preview")
		if err != nil {
			pipe.Unref()
			return fmt.Errorf("failed to get preview sink: %w", err)
		}
		p.preview = app.SinkFromElement(el)
	}

	if err := pipe.SetState(gst.StatePlaying); err != nil {
		pipe.SetState(gst.StateNull)
		pipe.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	p.pipe = pipe

	// poll instead of new-sample signals to keep cgo callbacks out of the picture
	interval := 5 * time.Millisecond
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS) / 4
	}
	go p.poll(interval)

	log.Info().
		Str("device", p.info.Device).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("fps", cfg.FPS).
		Msg("GStreamer pipeline started")
	return nil
}

func (p *pipeline) poll(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		if p.preview != nil {
			if sample := p.preview.TryPullSample(0); sample != nil {
				if img := rgbaFromSample(sample); img != nil {
					p.sinks.Preview(img)
				}
			}
		}
		if sample := p.analysis.TryPullSample(time.Millisecond); sample != nil {
			if f := p.frameFromSample(sample); f != nil {
				p.sinks.Analysis(f)
			}
		}
	}
}

func sampleSize(sample *gst.Sample) (int, int, bool) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0, false
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0, false
	}
	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return 0, 0, false
	}
	h, ok := height.(int)
	if !ok {
		return 0, 0, false
	}
	return w, h, true
}

func rgbaFromSample(sample *gst.Sample) *image.RGBA {
	w, h, ok := sampleSize(sample)
	buffer := sample.GetBuffer()
	if !ok || buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < w*h*4 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[:w*h*4])
	return img
}

// frameFromSample copies an I420 sample into a pooled buffer; the frame's
// release hook returns the buffer to the pool
func (p *pipeline) frameFromSample(sample *gst.Sample) *capture.RawFrame {
	w, h, ok := sampleSize(sample)
	buffer := sample.GetBuffer()
	if !ok || buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	src := mapInfo.Bytes()
	bp, _ := p.pool.Get().(*[]byte)
	if bp == nil || cap(*bp) < len(src) {
		b := make([]byte, len(src))
		bp = &b
	}
	buf := (*bp)[:len(src)]
	copy(buf, src)

	f, err := capture.NewI420Frame(buf, w, h, pose.Now())
	if err != nil {
		logger.WithComponent("gstsensor").Debug().Err(err).Msg("Skipping sample")
		p.pool.Put(bp)
		return nil
	}
	f.ReleaseFunc = func() { p.pool.Put(bp) }
	return f
}

// Close stops polling and tears the pipeline down. No sink runs after it returns.
func (p *pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done

		if p.pipe != nil {
			p.pipe.SetState(gst.StateNull)
			p.pipe.Unref()
			p.pipe = nil
		}
		logger.WithComponent("gstsensor").Info().Str("device", p.info.Device).Msg("GStreamer pipeline stopped")
	})
	return nil
}
