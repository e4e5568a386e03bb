package capture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

func TestProbeDevice(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "video0")
	if err := os.WriteFile(ok, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ProbeDevice(ok); err != nil {
		t.Errorf("readable device: %v", err)
	}
	if err := ProbeDevice(filepath.Join(dir, "video9")); !errors.Is(err, pose.ErrCameraUnavailable) {
		t.Errorf("missing device: err = %v", err)
	}
}

func TestDiscoverDevicesOrdersByIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	sensors, err := DiscoverDevices(filepath.Join(dir, "video*"))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range sensors {
		ids = append(ids, s.ID)
	}
	if len(ids) != 3 || ids[0] != "0" || ids[1] != "2" || ids[2] != "10" {
		t.Errorf("ids = %v, want [0 2 10]", ids)
	}
}

func TestDeviceIndex(t *testing.T) {
	tests := map[string]int{"/dev/video3": 3, "1": 1, "cam12": 12}
	for in, want := range tests {
		if got, ok := DeviceIndex(in); !ok || got != want {
			t.Errorf("DeviceIndex(%q) = %d,%v", in, got, ok)
		}
	}
	if _, ok := DeviceIndex("/dev/camera"); ok {
		t.Error("expected no index")
	}
}
