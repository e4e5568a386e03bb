package capture

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// ProbeDevice checks that a device node exists and can be opened for reading,
// classifying failures as PermissionDenied or CameraUnavailable
func ProbeDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return pose.Errorf(pose.CodePermissionDenied, err, "access to %s", path)
		case errors.Is(err, fs.ErrNotExist):
			return pose.Errorf(pose.CodeCameraUnavailable, err, "device %s", path)
		default:
			return pose.Errorf(pose.CodeCameraUnavailable, err, "open %s", path)
		}
	}
	return f.Close()
}

// DiscoverDevices lists video device nodes matching pattern (for example
// /dev/video*) as user-facing sensors with no mounting rotation, in index order
func DiscoverDevices(pattern string) ([]SensorInfo, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		return deviceIndex(paths[i]) < deviceIndex(paths[j])
	})

	sensors := make([]SensorInfo, 0, len(paths))
	for _, p := range paths {
		sensors = append(sensors, SensorInfo{
			ID:     strconv.Itoa(deviceIndex(p)),
			Device: p,
			Facing: FacingFront,
		})
	}
	return sensors, nil
}

// deviceIndex extracts the trailing number of a device path, -1 if none
func deviceIndex(path string) int {
	base := filepath.Base(path)
	i := len(base)
	for i > 0 && base[i-1] >= '0' && base[i-1] <= '9' {
		i--
	}
	n, err := strconv.Atoi(base[i:])
	if err != nil {
		return -1
	}
	return n
}

// DeviceIndex returns the numeric index of a device given as a path
// (/dev/video2) or a bare number ("2")
func DeviceIndex(device string) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(device)); err == nil {
		return n, true
	}
	n := deviceIndex(device)
	return n, n >= 0
}
