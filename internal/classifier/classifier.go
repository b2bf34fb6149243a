// Package classifier wraps a pre-trained URL classification model and the
// bundle it is shipped in.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/phishcheck/phishcheck/internal/features"
)

// ErrInference marks failures raised while the model evaluates a vector.
var ErrInference = errors.New("inference failed")

// Model is the capability contract of a loaded classifier.
type Model interface {
	Predict(ctx context.Context, vec features.Vector) (int64, error)
	PredictProbabilities(ctx context.Context, vec features.Vector) ([]float64, error)
}

// RawPrediction is the model's label and class distribution for one vector.
type RawPrediction struct {
	Label         int64
	Probabilities []float64
}

// Evaluator is implemented by models that produce label and probabilities in
// one pass. Classifier prefers it over two separate calls.
type Evaluator interface {
	Evaluate(ctx context.Context, vec features.Vector) (RawPrediction, error)
}

// Outcome is the decoded classification of one vector.
type Outcome struct {
	RawLabel      int64
	Label         string
	Probabilities []float64
	Confidence    float64
}

// Classifier pairs a model with the decoder chosen for it at load time.
type Classifier struct {
	model   Model
	decoder Decoder
}

// New builds a classifier. The model and decoder are never mutated afterwards.
func New(model Model, decoder Decoder) *Classifier {
	return &Classifier{model: model, decoder: decoder}
}

// Decoder returns the active decoder variant.
func (c *Classifier) Decoder() Decoder {
	return c.decoder
}

// Classify runs the model and decodes its output. The vector is not
// validated here.
func (c *Classifier) Classify(ctx context.Context, vec features.Vector) (Outcome, error) {
	if c == nil || c.model == nil {
		return Outcome{}, fmt.Errorf("%w: classifier not initialized", ErrInference)
	}

	raw, err := c.evaluate(ctx, vec)
	if err != nil {
		if errors.Is(err, ErrInference) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	confidence, err := maxProbability(raw.Probabilities)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	label, err := c.decoder.Decode(raw.Label)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	return Outcome{
		RawLabel:      raw.Label,
		Label:         label,
		Probabilities: raw.Probabilities,
		Confidence:    confidence,
	}, nil
}

func (c *Classifier) evaluate(ctx context.Context, vec features.Vector) (RawPrediction, error) {
	if ev, ok := c.model.(Evaluator); ok {
		return ev.Evaluate(ctx, vec)
	}
	label, err := c.model.Predict(ctx, vec)
	if err != nil {
		return RawPrediction{}, err
	}
	probs, err := c.model.PredictProbabilities(ctx, vec)
	if err != nil {
		return RawPrediction{}, err
	}
	return RawPrediction{Label: label, Probabilities: probs}, nil
}

func maxProbability(probs []float64) (float64, error) {
	if len(probs) == 0 {
		return 0, errors.New("model returned an empty probability distribution")
	}
	best := math.Inf(-1)
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("model returned non-finite probability at class %d", i)
		}
		if p > best {
			best = p
		}
	}
	return math.Max(0, math.Min(1, best)), nil
}

func argmax(probs []float64) int64 {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return int64(best)
}

func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(v - maxVal)
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
