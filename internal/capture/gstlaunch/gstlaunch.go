// Package gstlaunch captures from V4L2 devices through a gst-launch-1.0
// subprocess. It needs no cgo and serves hosts where the GStreamer bindings
// cannot be linked but the command-line tools are installed.
package gstlaunch

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// DefaultBinary is the launcher looked up on PATH
const DefaultBinary = "gst-launch-1.0"

// Sensor is a capture.Sensor that reads raw I420 frames from a gst-launch
// pipeline on stdout
type Sensor struct {
	devices []capture.SensorInfo
	pattern string
	binary  string

	// command builds the process for a pipeline description
	command func(binary string, args ...string) *exec.Cmd
}

// New creates a subprocess sensor backend. If devices is empty, nodes
// matching pattern are discovered at enumeration time.
func New(devices []capture.SensorInfo, pattern string) *Sensor {
	if pattern == "" {
		pattern = "/dev/video*"
	}
	return &Sensor{devices: devices, pattern: pattern, binary: DefaultBinary, command: exec.Command}
}

func (s *Sensor) Name() string {
	return "gst-launch"
}

// IsAvailable reports whether the launcher is on PATH
func (s *Sensor) IsAvailable() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

func (s *Sensor) Sensors() ([]capture.SensorInfo, error) {
	if len(s.devices) > 0 {
		return s.devices, nil
	}
	return capture.DiscoverDevices(s.pattern)
}

// pipelineArgs describes a fixed-size I420 stream written to stdout. The size
// is forced so frames can be split without parsing caps.
func pipelineArgs(device string, w, h, fps int) []string {
	caps := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d", w, h)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	str := fmt.Sprintf(
		"v4l2src device=%s do-timestamp=true ! videoconvert ! videoscale ! videorate ! %s ! fdsink fd=1 sync=false",
		device, caps,
	)
	return append([]string{"-q"}, strings.Fields(str)...)
}

// Open probes the device and starts the subprocess
func (s *Sensor) Open(info capture.SensorInfo, cfg capture.SessionConfig, sinks capture.Sinks) (capture.Session, error) {
	if err := capture.ProbeDevice(info.Device); err != nil {
		return nil, err
	}
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	return s.start(s.command(s.binary, pipelineArgs(info.Device, w, h, cfg.FPS)...), info, w, h, sinks)
}

func (s *Sensor) start(cmd *exec.Cmd, info capture.SensorInfo, w, h int, sinks capture.Sinks) (*session, error) {
	log := logger.WithComponent("gstlaunch")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pose.Errorf(pose.CodeConfigurationFailed, err, "failed to get stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, pose.Errorf(pose.CodeConfigurationFailed, err, "failed to get stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, pose.Errorf(pose.CodeConfigurationFailed, err, "failed to start %s", s.binary)
	}

	sess := &session{
		cmd:    cmd,
		info:   info,
		width:  w,
		height: h,
		sinks:  sinks,
		stop:   make(chan struct{}),
	}
	sess.readers.Add(2)
	go sess.readFrames(stdout)
	go sess.logStderr(stderr)

	log.Info().
		Str("device", info.Device).
		Int("width", w).
		Int("height", h).
		Int("pid", cmd.Process.Pid).
		Msg("gst-launch subprocess started")
	return sess, nil
}

// session is one running subprocess
type session struct {
	cmd    *exec.Cmd
	info   capture.SensorInfo
	width  int
	height int
	sinks  capture.Sinks
	pool   sync.Pool

	stop      chan struct{}
	readers   sync.WaitGroup
	closeOnce sync.Once
}

// frameSize is the padded size fdsink writes per frame
func (c *session) frameSize() int {
	return capture.GstI420Layout(c.width, c.height).Size
}

func (c *session) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// readFrames splits stdout into frames until EOF or Close
func (c *session) readFrames(stdout io.Reader) {
	defer c.readers.Done()
	log := logger.WithComponent("gstlaunch")

	size := c.frameSize()
	reader := bufio.NewReaderSize(stdout, size*2)
	frames := 0

	for {
		bp, _ := c.pool.Get().(*[]byte)
		if bp == nil {
			b := make([]byte, size)
			bp = &b
		}
		if _, err := io.ReadFull(reader, *bp); err != nil {
			c.pool.Put(bp)
			if !c.stopped() {
				log.Warn().Err(err).Str("device", c.info.Device).Int("frames", frames).Msg("gst-launch stream ended")
			}
			return
		}
		if c.stopped() {
			c.pool.Put(bp)
			return
		}

		f, err := capture.NewI420Frame(*bp, c.width, c.height, pose.Now())
		if err != nil {
			c.pool.Put(bp)
			log.Debug().Err(err).Msg("Skipping frame")
			continue
		}
		frames++

		if c.sinks.Preview != nil {
			if img := previewImage(f); img != nil {
				c.sinks.Preview(img)
			}
		}
		f.ReleaseFunc = func() { c.pool.Put(bp) }
		if c.sinks.Analysis != nil {
			c.sinks.Analysis(f)
		} else {
			f.Release()
		}
	}
}

// previewImage converts f without rotation; the frame source orients it
func previewImage(f *capture.RawFrame) *image.RGBA {
	ycc := &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        f.YStride,
		CStride:        f.CStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, f.Width, f.Height),
	}
	img, err := capture.Orient(ycc, 0, false)
	if err != nil {
		return nil
	}
	return img
}

// logStderr logs any output from the subprocess
func (c *session) logStderr(stderr io.Reader) {
	defer c.readers.Done()
	log := logger.WithComponent("gstlaunch")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Close kills the subprocess and waits for the readers. No sink runs after
// it returns.
func (c *session) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		c.readers.Wait()
		c.cmd.Wait()
		logger.WithComponent("gstlaunch").Info().Str("device", c.info.Device).Msg("gst-launch subprocess stopped")
	})
	return nil
}
