package pose

import (
	"fmt"
	"strings"
)

// Landmark is one normalized keypoint. X and Y are fractions of the source
// image width and height and may fall slightly outside [0,1] near the edges.
type Landmark struct {
	X          float32 `json:"x" msgpack:"x"`
	Y          float32 `json:"y" msgpack:"y"`
	Z          float32 `json:"z" msgpack:"z"`
	Visibility float32 `json:"visibility" msgpack:"visibility"`
}

// DetectionResult holds the first detected pose and the geometry of the
// image it was computed against. Surface mapping is never stored here.
type DetectionResult struct {
	Landmarks       []Landmark `json:"landmarks" msgpack:"landmarks"`
	InferenceTimeMs int64      `json:"inferenceTimeMs" msgpack:"inferenceTimeMs"`
	ImageWidth      int        `json:"imageWidth" msgpack:"imageWidth"`
	ImageHeight     int        `json:"imageHeight" msgpack:"imageHeight"`
}

// Landmark returns the landmark at index t, or false if the result does not
// contain it
func (r *DetectionResult) Landmark(t LandmarkType) (Landmark, bool) {
	if r == nil || t < 0 || int(t) >= len(r.Landmarks) {
		return Landmark{}, false
	}
	return r.Landmarks[t], true
}

// Mode is the inference running mode
type Mode int

const (
	ModeSingleImage Mode = iota
	ModeStream
	ModeRecordedVideo
)

func (m Mode) String() string {
	switch m {
	case ModeSingleImage:
		return "single_image"
	case ModeStream:
		return "stream"
	case ModeRecordedVideo:
		return "recorded_video"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the config names plus the upper-case names used by
// mobile hosts (IMAGE, LIVE_STREAM, VIDEO)
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single_image", "image", "single":
		return ModeSingleImage, nil
	case "stream", "live_stream", "livestream":
		return ModeStream, nil
	case "recorded_video", "video":
		return ModeRecordedVideo, nil
	default:
		return 0, fmt.Errorf("unknown mode: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Backend selects the compute path of the inference backend
type Backend int

const (
	BackendGeneralPurpose Backend = iota
	BackendAccelerated
)

func (b Backend) String() string {
	switch b {
	case BackendGeneralPurpose:
		return "general_purpose"
	case BackendAccelerated:
		return "accelerated"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend accepts config names and the cpu/gpu shorthands
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "general_purpose", "cpu":
		return BackendGeneralPurpose, nil
	case "accelerated", "gpu", "cuda":
		return BackendAccelerated, nil
	default:
		return 0, fmt.Errorf("unknown backend: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Outcome is the tagged result of one detection: exactly one of Result and
// Err is set. Generation is the engine generation the outcome belongs to.
type Outcome struct {
	Generation uint64
	Result     *DetectionResult
	Err        *Error
}

// OK builds a successful outcome
func OK(gen uint64, r DetectionResult) Outcome {
	return Outcome{Generation: gen, Result: &r}
}

// Failed builds an error outcome
func Failed(gen uint64, err *Error) Outcome {
	return Outcome{Generation: gen, Err: err}
}
