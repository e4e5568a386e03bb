package onnxpose

import (
	"fmt"
	"image"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/engine"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// ModelConfig describes the tensors of a BlazePose-style landmark model
type ModelConfig struct {
	InputSize      int
	InputName      string
	LandmarkOutput string
	PresenceOutput string
	// LandmarkStride is the number of values per landmark (x, y, z, visibility, presence)
	LandmarkStride int
	// LandmarkCount is the number of landmarks in the output tensor; only the
	// first 33 are reported
	LandmarkCount int
	MinPresence   float32
}

// DefaultModelConfig matches the full-body BlazePose landmark model
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputSize:      256,
		InputName:      "input_1",
		LandmarkOutput: "Identity",
		PresenceOutput: "Identity_1",
		LandmarkStride: 5,
		LandmarkCount:  39,
		MinPresence:    0.5,
	}
}

func (c ModelConfig) withDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.InputSize <= 0 {
		c.InputSize = d.InputSize
	}
	if c.InputName == "" {
		c.InputName = d.InputName
	}
	if c.LandmarkOutput == "" {
		c.LandmarkOutput = d.LandmarkOutput
	}
	if c.PresenceOutput == "" {
		c.PresenceOutput = d.PresenceOutput
	}
	if c.LandmarkStride < 4 {
		c.LandmarkStride = d.LandmarkStride
	}
	if c.LandmarkCount < pose.NumLandmarks {
		c.LandmarkCount = d.LandmarkCount
	}
	if c.MinPresence <= 0 {
		c.MinPresence = d.MinPresence
	}
	return c
}

// Model runs the landmark network. Inference is serialized because the
// tensors are reused between runs.
type Model struct {
	cfg     ModelConfig
	path    string
	session *ort.DynamicAdvancedSession

	mu        sync.Mutex
	input     *ort.Tensor[float32]
	landmarks *ort.Tensor[float32]
	presence  *ort.Tensor[float32]
	canvas    *image.RGBA
}

// NewModel loads the model at path on the requested backend. The accelerated
// backend uses CUDA and falls back to CPU when the provider is unavailable.
func NewModel(path string, backend pose.Backend, cfg ModelConfig) (*Model, error) {
	cfg = cfg.withDefaults()
	log := logger.WithComponent("onnxpose")

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	switch backend {
	case pose.BackendAccelerated:
		if err := appendCUDA(options); err != nil {
			log.Warn().Err(err).Str("model", path).Msg("CUDA unavailable, falling back to CPU")
		} else {
			log.Info().Str("model", path).Msg("Using CUDA execution provider")
		}
	case pose.BackendGeneralPurpose:
		log.Info().Str("model", path).Msg("Using CPU execution provider")
	}

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{cfg.InputName},
		[]string{cfg.LandmarkOutput, cfg.PresenceOutput},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", path, err)
	}

	m := &Model{cfg: cfg, path: path, session: session}
	if err := m.allocate(); err != nil {
		m.Destroy()
		return nil, err
	}
	return m, nil
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

func (m *Model) allocate() error {
	size := int64(m.cfg.InputSize)
	var err error
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, 3))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	m.landmarks, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.cfg.LandmarkCount*m.cfg.LandmarkStride)))
	if err != nil {
		return fmt.Errorf("failed to create landmark tensor: %w", err)
	}
	m.presence, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return fmt.Errorf("failed to create presence tensor: %w", err)
	}
	m.canvas = image.NewRGBA(image.Rect(0, 0, m.cfg.InputSize, m.cfg.InputSize))
	return nil
}

// Infer runs the model on img and returns poses in normalized source coordinates
func (m *Model) Infer(img *image.RGBA) (engine.BackendResult, error) {
	b := img.Bounds()
	res := engine.BackendResult{Width: b.Dx(), Height: b.Dy()}
	if b.Empty() {
		return res, pose.Errorf(pose.CodeConversion, nil, "empty image")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lb := letterbox(m.canvas, img)
	fillTensor(m.input.GetData(), m.canvas)

	if err := m.session.Run([]ort.Value{m.input}, []ort.Value{m.landmarks, m.presence}); err != nil {
		return res, fmt.Errorf("pose inference failed: %w", err)
	}

	lms, ok := decode(m.landmarks.GetData(), m.presence.GetData()[0], lb, m.cfg)
	if ok {
		res.Poses = [][]pose.Landmark{lms}
	}
	return res, nil
}

// Destroy releases the session and tensors
func (m *Model) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range []*ort.Tensor[float32]{m.input, m.landmarks, m.presence} {
		if t != nil {
			t.Destroy()
		}
	}
	m.input, m.landmarks, m.presence = nil, nil, nil
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}

// letterbox scales src into canvas preserving aspect ratio, centered on black,
// and returns the mapping from normalized source to canvas pixels
func letterbox(canvas *image.RGBA, src *image.RGBA) pose.Letterbox {
	cb := canvas.Bounds()
	sb := src.Bounds()
	lb := pose.Fit(sb.Dx(), sb.Dy(), cb.Dx(), cb.Dy())

	for i := range canvas.Pix {
		canvas.Pix[i] = 0
	}
	x0, y0 := lb.Map(0, 0)
	x1, y1 := lb.Map(1, 1)
	dr := image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
	draw.BiLinear.Scale(canvas, dr, src, sb, draw.Src, nil)
	return lb
}

// fillTensor writes canvas RGB into an NHWC float tensor scaled to [0,1]
func fillTensor(dst []float32, canvas *image.RGBA) {
	b := canvas.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			dst[i] = float32(row[x]) / 255
			dst[i+1] = float32(row[x+1]) / 255
			dst[i+2] = float32(row[x+2]) / 255
			i += 3
		}
	}
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// decode converts raw landmark output (canvas pixels) into normalized source
// coordinates. Returns false when the presence score is below threshold.
func decode(raw []float32, presence float32, lb pose.Letterbox, cfg ModelConfig) ([]pose.Landmark, bool) {
	if presence < cfg.MinPresence || lb.Empty() {
		return nil, false
	}
	if len(raw) < pose.NumLandmarks*cfg.LandmarkStride {
		return nil, false
	}

	zScale := lb.SourceWidth * lb.Scale
	lms := make([]pose.Landmark, pose.NumLandmarks)
	for i := range lms {
		v := raw[i*cfg.LandmarkStride:]
		x, y := lb.Unmap(float64(v[0]), float64(v[1]))
		lms[i] = pose.Landmark{
			X:          float32(x),
			Y:          float32(y),
			Z:          float32(float64(v[2]) / zScale),
			Visibility: sigmoid(v[3]),
		}
	}
	return lms, true
}
