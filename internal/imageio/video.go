package imageio

import (
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// FrameFunc receives one decoded video frame and its presentation time.
// Returning an error stops the read.
type FrameFunc func(img *image.RGBA, timestampMs int64) error

// ReadVideo decodes the video at path frame by frame. Timestamps are strictly
// increasing even when the container reports none.
func ReadVideo(path string, fn FrameFunc) error {
	if _, err := os.Stat(path); err != nil {
		return pose.Errorf(pose.CodeConversion, err, "failed to open video: %s", path)
	}
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return pose.Errorf(pose.CodeConversion, err, "failed to open video: %s", path)
	}
	defer vc.Close()

	fps := vc.Get(gocv.VideoCaptureFPS)
	mat := gocv.NewMat()
	defer mat.Close()

	last := int64(-1)
	for i := 0; ; i++ {
		if ok := vc.Read(&mat); !ok || mat.Empty() {
			return nil
		}
		img, err := toRGBA(mat)
		if err != nil {
			return err
		}
		ts := frameTime(vc.Get(gocv.VideoCapturePosMsec), i, fps, last)
		last = ts
		if err := fn(img, ts); err != nil {
			return err
		}
	}
}

// frameTime prefers the container position, then the frame rate
func frameTime(posMs float64, index int, fps float64, last int64) int64 {
	ts := int64(posMs)
	if ts <= last && fps > 0 {
		ts = int64(float64(index) * 1000 / fps)
	}
	if ts <= last {
		ts = last + 1
	}
	return ts
}
