// Package cvsensor captures through OpenCV's VideoCapture
package cvsensor

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Sensor is a capture.Sensor backed by gocv.VideoCapture
type Sensor struct {
	devices []capture.SensorInfo
	pattern string
}

// New creates a sensor backend over the given devices, or over the nodes
// matching pattern when devices is empty
func New(devices []capture.SensorInfo, pattern string) *Sensor {
	if pattern == "" {
		pattern = "/dev/video*"
	}
	return &Sensor{devices: devices, pattern: pattern}
}

func (s *Sensor) Name() string {
	return "opencv"
}

// IsAvailable is always true when the binary links OpenCV
func (s *Sensor) IsAvailable() bool {
	return true
}

func (s *Sensor) Sensors() ([]capture.SensorInfo, error) {
	if len(s.devices) > 0 {
		return s.devices, nil
	}
	return capture.DiscoverDevices(s.pattern)
}

// Open starts reading from the device in a background goroutine
func (s *Sensor) Open(info capture.SensorInfo, cfg capture.SessionConfig, sinks capture.Sinks) (capture.Session, error) {
	var device interface{} = info.Device
	if strings.HasPrefix(info.Device, "/") {
		if err := capture.ProbeDevice(info.Device); err != nil {
			return nil, err
		}
	} else if idx, ok := capture.DeviceIndex(info.Device); ok {
		device = idx
	}
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, pose.Errorf(pose.CodeCameraUnavailable, err, "failed to open camera %s", info.Device)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	// camera may not support the requested resolution
	width := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	height := int(webcam.Get(gocv.VideoCaptureFrameHeight))
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		webcam.Close()
		return nil, pose.Errorf(pose.CodeConfigurationFailed, nil, "unsupported geometry %dx%d on %s", width, height, info.Device)
	}

	c := &session{
		webcam: webcam,
		info:   info,
		sinks:  sinks,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.run()

	logger.WithComponent("cvsensor").Info().
		Str("device", info.Device).
		Int("width", width).
		Int("height", height).
		Msg("OpenCV capture started")
	return c, nil
}

type session struct {
	webcam *gocv.VideoCapture
	info   capture.SensorInfo
	sinks  capture.Sinks

	mu        sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func (c *session) run() {
	defer close(c.done)
	log := logger.WithComponent("cvsensor")

	frame := gocv.NewMat()
	defer frame.Close()
	yuv := gocv.NewMat()
	defer yuv.Close()
	rgba := gocv.NewMat()
	defer rgba.Close()

	misses := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.mu.Lock()
		ok := c.webcam.Read(&frame)
		c.mu.Unlock()
		if !ok || frame.Empty() {
			misses++
			if misses%100 == 1 {
				log.Warn().Str("device", c.info.Device).Int("misses", misses).Msg("Camera returned no frame")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0
		ts := pose.Now()

		if c.sinks.Preview != nil {
			gocv.CvtColor(frame, &rgba, gocv.ColorBGRToRGBA)
			if img, err := matToRGBA(rgba); err == nil {
				c.sinks.Preview(img)
			}
		}

		gocv.CvtColor(frame, &yuv, gocv.ColorBGRToYUVI420)
		if yuv.Empty() {
			continue
		}
		f, err := capture.NewI420Frame(yuv.ToBytes(), frame.Cols(), frame.Rows(), ts)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping frame")
			continue
		}
		c.sinks.Analysis(f)
	}
}

func matToRGBA(m gocv.Mat) (*image.RGBA, error) {
	w, h := m.Cols(), m.Rows()
	data := m.ToBytes()
	if len(data) < w*h*4 {
		return nil, fmt.Errorf("short RGBA mat: %d bytes for %dx%d", len(data), w, h)
	}
	return &image.RGBA{Pix: data[:w*h*4], Stride: w * 4, Rect: image.Rect(0, 0, w, h)}, nil
}

// Close stops the reader and releases the camera
func (c *session) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		defer c.mu.Unlock()
		err = c.webcam.Close()
		logger.WithComponent("cvsensor").Info().Str("device", c.info.Device).Msg("OpenCV capture stopped")
	})
	return err
}
