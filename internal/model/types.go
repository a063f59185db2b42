package model

import (
	"errors"
	"fmt"
	"math"
)

// Class is the numeric class index a predictor returns.
type Class int

const (
	ClassTruthful  Class = 0
	ClassDeceptive Class = 1
)

// Label is the client-facing name of a class.
type Label string

const (
	LabelTruthful  Label = "Truthful"
	LabelDeceptive Label = "Deceptive"
)

// LabelFor maps class 1 to Deceptive and every other class to Truthful.
func LabelFor(c Class) Label {
	if c == ClassDeceptive {
		return LabelDeceptive
	}
	return LabelTruthful
}

// ErrNoProbabilities is returned by PredictProba when the underlying model
// cannot estimate class probabilities.
var ErrNoProbabilities = errors.New("model: probability estimation not supported")

// Result is one prediction with its per-class probabilities.
type Result struct {
	Class Class
	// Probabilities is indexed by class. When the model cannot estimate
	// probabilities it holds 1 for the predicted class and 0 for the other.
	Probabilities [2]float64
	// Estimated is false when Probabilities is the deterministic fallback.
	Estimated bool
}

func (r Result) Label() Label { return LabelFor(r.Class) }

// Confidence is the probability of the predicted class.
func (r Result) Confidence() float64 {
	if r.Class < 0 || int(r.Class) >= len(r.Probabilities) {
		return 0
	}
	return r.Probabilities[r.Class]
}

// MaxProbability is the larger of the two class probabilities.
func (r Result) MaxProbability() float64 {
	return math.Max(r.Probabilities[0], r.Probabilities[1])
}

// ByLabel returns the probabilities keyed by label.
func (r Result) ByLabel() map[Label]float64 {
	return map[Label]float64{
		LabelTruthful:  r.Probabilities[ClassTruthful],
		LabelDeceptive: r.Probabilities[ClassDeceptive],
	}
}

func fallbackProbabilities(c Class) [2]float64 {
	var p [2]float64
	if c == ClassTruthful || c == ClassDeceptive {
		p[c] = 1
	}
	return p
}

// binaryProbabilities validates a probability vector from a model and clamps
// each entry into [0, 1].
func binaryProbabilities(probs []float64) ([2]float64, error) {
	var p [2]float64
	if len(probs) != 2 {
		return p, fmt.Errorf("model: expected 2 class probabilities, got %d", len(probs))
	}
	for i, v := range probs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return p, fmt.Errorf("model: probability %d is not finite", i)
		}
		p[i] = math.Min(1, math.Max(0, v))
	}
	return p, nil
}
