package output

import (
	"bufio"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResize(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 640, Height: 480})
	if got := m.Size(); got != image.Pt(640, 480) {
		t.Fatalf("size = %v", got)
	}
	if err := m.Resize(1080, 1920); err != nil {
		t.Fatal(err)
	}
	if got := m.Size(); got != image.Pt(1080, 1920) {
		t.Errorf("size after resize = %v", got)
	}
	for _, bad := range [][2]int{{0, 10}, {10, -1}} {
		if err := m.Resize(bad[0], bad[1]); err == nil {
			t.Errorf("Resize(%v) should fail", bad)
		}
	}
	if got := m.Size(); got != image.Pt(1080, 1920) {
		t.Errorf("failed resize changed size to %v", got)
	}
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 4, Height: 4})
	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := m.WriteFrame(frame); err == nil {
		t.Error("expected error before Start")
	}
	m.Present(frame) // logged, not fatal

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err == nil {
		t.Error("second Start should fail")
	}
	m.Present(frame)
	if s := m.Stats(); s.Frames != 1 || !s.Running {
		t.Errorf("stats = %+v", s)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 4, Height: 4})
	m.Start()
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status before first frame = %d", rec.Code)
	}

	m.Present(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("status = %d, type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	// JPEG SOI marker
	if b := rec.Body.Bytes(); len(b) < 2 || b[0] != 0xFF || b[1] != 0xD8 {
		t.Error("body is not a JPEG")
	}
}

func TestStreamDeliversFrames(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 8, Height: 8})
	m.Start()
	defer m.Stop()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Present(image.NewRGBA(image.Rect(0, 0, 8, 8)))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Errorf("first line = %q", line)
	}
}

func TestSlowClientDropsFrames(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 2, Height: 2})
	m.Start()
	defer m.Stop()

	ch := make(chan []byte, 2)
	m.clientsMu.Lock()
	m.clients[ch] = struct{}{}
	m.clientsMu.Unlock()

	frame := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 5; i++ {
		m.Present(frame)
	}
	if got := m.Stats().Dropped; got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}
