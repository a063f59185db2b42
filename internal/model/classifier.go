// Package model holds the pretrained predictor handles the service serves:
// an audio classifier over MFCC vectors and a text classifier over raw
// strings.
//
// A handle always predicts a class. Probability estimation is an optional
// capability ([ProbabilityEstimator]); callers use [Evaluate], which falls
// back to a deterministic 1/0 distribution when it is missing.
package model

import (
	"errors"
	"fmt"
)

// Classifier is a loaded, read-only predictor. Implementations must be safe
// for concurrent use.
type Classifier[In any] interface {
	Predict(in In) (Class, error)
	Close() error
}

// ProbabilityEstimator is implemented by classifiers that can report
// per-class probabilities, indexed by class.
type ProbabilityEstimator[In any] interface {
	PredictProba(in In) ([]float64, error)
}

// AudioClassifier predicts from a fixed-length audio feature vector.
type AudioClassifier = Classifier[[]float64]

// TextClassifier predicts from raw text.
type TextClassifier = Classifier[string]

// Evaluate runs c on in and attaches class probabilities.
func Evaluate[In any](c Classifier[In], in In) (Result, error) {
	class, err := c.Predict(in)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	if class != ClassTruthful && class != ClassDeceptive {
		return Result{}, fmt.Errorf("predict: unexpected class %d", class)
	}
	res := Result{Class: class, Probabilities: fallbackProbabilities(class)}

	pe, ok := c.(ProbabilityEstimator[In])
	if !ok {
		return res, nil
	}
	probs, err := pe.PredictProba(in)
	if errors.Is(err, ErrNoProbabilities) {
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("predict proba: %w", err)
	}
	p, err := binaryProbabilities(probs)
	if err != nil {
		return Result{}, err
	}
	res.Probabilities = p
	res.Estimated = true
	return res, nil
}
