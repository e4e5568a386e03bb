// Package onnxposture runs a posture classification network with ONNX Runtime
package onnxposture

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/PoseStreamer/internal/engine/onnxpose"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/posture"
)

// Config describes the model file and its tensors. Empty names are read from
// the model.
type Config struct {
	RuntimeLibrary string
	ModelPath      string
	InputSize      int
	InputName      string
	OutputName     string
}

const defaultInputSize = 224

// Model is a posture.Model backed by an ONNX session. Runs are serialized
// because the tensors are reused.
type Model struct {
	size    int
	session *ort.DynamicAdvancedSession

	mu     sync.Mutex
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
	canvas *image.RGBA
}

// Load initializes the runtime and opens the model on the CPU provider
func Load(cfg Config) (*Model, error) {
	if err := onnxpose.InitializeRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = defaultInputSize
	}
	if cfg.InputName == "" || cfg.OutputName == "" {
		inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", cfg.ModelPath, err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("model %s has no inputs or outputs", cfg.ModelPath)
		}
		if cfg.InputName == "" {
			cfg.InputName = inputs[0].Name
		}
		if cfg.OutputName == "" {
			cfg.OutputName = outputs[0].Name
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", cfg.ModelPath, err)
	}
	m := &Model{
		size:    cfg.InputSize,
		session: session,
		canvas:  image.NewRGBA(image.Rect(0, 0, cfg.InputSize, cfg.InputSize)),
	}

	size := int64(cfg.InputSize)
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, 3))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(posture.Classes))))
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	logger.WithComponent("onnxposture").Info().Str("model", cfg.ModelPath).Str("input", cfg.InputName).Str("output", cfg.OutputName).Int("size", cfg.InputSize).Msg("Posture model loaded")
	return m, nil
}

// InputSize is the square edge the image is resized to
func (m *Model) InputSize() int {
	return m.size
}

// Scores stretches img to the input size and runs the network
func (m *Model) Scores(img *image.RGBA) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("model closed")
	}
	resize(m.canvas, img)
	fillTensor(m.input.GetData(), m.canvas)
	if err := m.session.Run([]ort.Value{m.input}, []ort.Value{m.output}); err != nil {
		return nil, fmt.Errorf("posture inference failed: %w", err)
	}
	return append([]float32(nil), m.output.GetData()...), nil
}

// Close releases the session and tensors
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range []*ort.Tensor[float32]{m.input, m.output} {
		if t != nil {
			t.Destroy()
		}
	}
	m.input, m.output = nil, nil
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// resize scales src over the whole canvas, ignoring aspect ratio
func resize(canvas, src *image.RGBA) {
	draw.BiLinear.Scale(canvas, canvas.Bounds(), src, src.Bounds(), draw.Src, nil)
}

// fillTensor writes canvas RGB as NHWC floats in [0,1]
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

var _ posture.Model = (*Model)(nil)
