// Package imageio reads images and videos for offline detection and writes
// rendered overlays
package imageio

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Load reads and decodes the image at path
func Load(path string) (*image.RGBA, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, pose.Errorf(pose.CodeConversion, err, "failed to load image: %s", path)
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return nil, pose.Errorf(pose.CodeConversion, nil, "failed to load image: %s", path)
	}
	defer img.Close()
	return toRGBA(img)
}

// Decode decodes an encoded image (JPEG, PNG, BMP, WebP, ...)
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, pose.Errorf(pose.CodeConversion, nil, "empty image data")
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, pose.Errorf(pose.CodeConversion, err, "failed to decode image")
	}
	defer img.Close()
	if img.Empty() {
		return nil, pose.Errorf(pose.CodeConversion, nil, "failed to decode image")
	}
	return toRGBA(img)
}

// Save encodes img to path; the format follows the extension
func Save(path string, img *image.RGBA) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return pose.Errorf(pose.CodeConversion, err, "failed to convert image")
	}
	defer mat.Close()
	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to write image: %s", path)
	}
	return nil
}

// toRGBA converts a BGR mat; ToImage reorders the channels
func toRGBA(mat gocv.Mat) (*image.RGBA, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, pose.Errorf(pose.CodeConversion, err, "failed to convert image")
	}
	if out, ok := img.(*image.RGBA); ok {
		return out, nil
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
