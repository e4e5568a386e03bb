// Package posture classifies a whole-body photo into a posture category and
// attaches findings and exercise suggestions.
package posture

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Model produces one raw score per class for an image
type Model interface {
	Scores(img *image.RGBA) ([]float32, error)
	InputSize() int
	Close() error
}

// Decoder turns encoded image bytes into RGBA
type Decoder func([]byte) (*image.RGBA, error)

// Prediction is the classifier's answer for one image
type Prediction struct {
	Class      Class    `json:"class"`
	Confidence float64  `json:"confidence"`
	Analysis   Analysis `json:"analysis"`
	// Probabilities are per-class percentages
	Probabilities map[Class]float64 `json:"classProbabilities"`
	Timestamp     time.Time         `json:"timestamp"`
}

// ModelInfo describes the loaded model
type ModelInfo struct {
	Classes      []Class `json:"classes"`
	InputSize    int     `json:"inputSize"`
	TotalClasses int     `json:"totalClasses"`
}

// Classifier runs a Model and interprets its scores
type Classifier struct {
	model  Model
	decode Decoder
	now    func() time.Time
}

// New creates a classifier. decode may be nil when only Classify is used.
func New(model Model, decode Decoder) *Classifier {
	return &Classifier{model: model, decode: decode, now: time.Now}
}

// Classify scores img and picks the most likely class
func (c *Classifier) Classify(img *image.RGBA) (Prediction, error) {
	if img == nil || img.Bounds().Empty() {
		return Prediction{}, pose.Errorf(pose.CodeConversion, nil, "empty image")
	}
	raw, err := c.model.Scores(img)
	if err != nil {
		return Prediction{}, pose.Errorf(pose.CodeEngineBackend, err, "posture inference failed")
	}
	if len(raw) != len(Classes) {
		return Prediction{}, pose.Errorf(pose.CodeEngineBackend, nil, "model returned %d scores, want %d", len(raw), len(Classes))
	}

	probs := softmax(raw)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	pred := Prediction{
		Class:         Classes[best],
		Confidence:    round2(100 * probs[best]),
		Analysis:      Analyze(Classes[best]),
		Probabilities: make(map[Class]float64, len(Classes)),
		Timestamp:     c.now(),
	}
	for i, cls := range Classes {
		pred.Probabilities[cls] = round2(100 * probs[i])
	}

	logger.WithComponent("posture").Debug().Str("class", string(pred.Class)).Float64("confidence", pred.Confidence).Msg("Posture classified")
	return pred, nil
}

// ClassifyEncoded decodes data and classifies it
func (c *Classifier) ClassifyEncoded(data []byte) (Prediction, error) {
	if c.decode == nil {
		return Prediction{}, pose.Errorf(pose.CodeConversion, nil, "no image decoder configured")
	}
	img, err := c.decode(data)
	if err != nil {
		return Prediction{}, pose.Errorf(pose.CodeConversion, err, "failed to decode image")
	}
	return c.Classify(img)
}

// Info reports the classes and input size of the model
func (c *Classifier) Info() ModelInfo {
	return ModelInfo{
		Classes:      append([]Class(nil), Classes...),
		InputSize:    c.model.InputSize(),
		TotalClasses: len(Classes),
	}
}

// Close releases the model
func (c *Classifier) Close() error {
	return c.model.Close()
}

func softmax(v []float32) []float64 {
	hi := math.Inf(-1)
	for _, x := range v {
		hi = math.Max(hi, float64(x))
	}
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = math.Exp(float64(x) - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.2f%%)", p.Class, p.Confidence)
}
