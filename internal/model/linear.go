package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

const (
	kindLinearSVM          = "linear_svm"
	kindLogisticRegression = "logistic_regression"
)

// linearArtifact is the JSON export of a binary linear classifier. Text
// models carry a vectorizer; vector models may carry a standard scaler.
type linearArtifact struct {
	Kind       string            `json:"kind"`
	Classes    []int             `json:"classes"`
	Coef       flexFloats        `json:"coef"`
	Intercept  flexFloats        `json:"intercept"`
	Platt      *plattParams      `json:"platt"`
	Vectorizer *VectorizerConfig `json:"vectorizer"`
	Scaler     *scalerParams     `json:"scaler"`
}

// plattParams are the sigmoid calibration of an SVM decision value:
// P(positive) = 1 / (1 + exp(A*f + B)).
type plattParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

type scalerParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// flexFloats accepts a number, a flat list, or a single-row nested list, so
// both coef_[0] and coef_ (shape [1, n]) exports load.
type flexFloats []float64

func (f *flexFloats) UnmarshalJSON(b []byte) error {
	var one float64
	if err := json.Unmarshal(b, &one); err == nil {
		*f = flexFloats{one}
		return nil
	}
	var flat []float64
	if err := json.Unmarshal(b, &flat); err == nil {
		*f = flat
		return nil
	}
	var nested [][]float64
	if err := json.Unmarshal(b, &nested); err != nil {
		return err
	}
	if len(nested) != 1 {
		return fmt.Errorf("expected a single row, got %d", len(nested))
	}
	*f = nested[0]
	return nil
}

type linearHead struct {
	coef      []float64
	intercept float64
	classes   [2]Class // classes[1] wins when the decision value is positive
	sigmoid   func(f float64) float64
}

func (h *linearHead) class(f float64) Class {
	if f > 0 {
		return h.classes[1]
	}
	return h.classes[0]
}

func (h *linearHead) proba(f float64) []float64 {
	p := h.sigmoid(f)
	out := make([]float64, 2)
	out[h.classes[1]] = p
	out[h.classes[0]] = 1 - p
	return out
}

// Linear is a binary linear classifier over inputs of type In.
type Linear[In any] struct {
	head     linearHead
	features func(in In) (dot float64, err error)
}

// Decision returns the signed distance of in from the separating hyperplane.
func (m *Linear[In]) Decision(in In) (float64, error) {
	dot, err := m.features(in)
	if err != nil {
		return 0, err
	}
	return dot + m.head.intercept, nil
}

func (m *Linear[In]) Predict(in In) (Class, error) {
	f, err := m.Decision(in)
	if err != nil {
		return 0, err
	}
	return m.head.class(f), nil
}

func (m *Linear[In]) Close() error { return nil }

// ProbabilisticLinear is a Linear classifier with calibrated probabilities.
type ProbabilisticLinear[In any] struct {
	*Linear[In]
}

func (m ProbabilisticLinear[In]) PredictProba(in In) ([]float64, error) {
	f, err := m.Decision(in)
	if err != nil {
		return nil, err
	}
	return m.head.proba(f), nil
}

// LoadLinearText reads a JSON TF-IDF + linear model.
func LoadLinearText(path string) (TextClassifier, error) {
	art, head, err := readLinear(path)
	if err != nil {
		return nil, err
	}
	if art.Vectorizer == nil {
		return nil, fmt.Errorf("%s: text model has no vectorizer", path)
	}
	vec, err := newVectorizer(*art.Vectorizer, len(head.coef))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m := &Linear[string]{
		head: head,
		features: func(text string) (float64, error) {
			var dot float64
			for idx, w := range vec.Transform(text) {
				dot += w * head.coef[idx]
			}
			return dot, nil
		},
	}
	return wrapLinear(m), nil
}

// LoadLinearVector reads a JSON linear model over dense feature vectors,
// optionally standardized first.
func LoadLinearVector(path string) (AudioClassifier, error) {
	art, head, err := readLinear(path)
	if err != nil {
		return nil, err
	}
	n := len(head.coef)
	var mean, scale []float64
	if art.Scaler != nil {
		mean, scale = art.Scaler.Mean, art.Scaler.Scale
		if len(mean) != n || len(scale) != n {
			return nil, fmt.Errorf("%s: scaler has %d/%d entries for %d features", path, len(mean), len(scale), n)
		}
	}
	m := &Linear[[]float64]{
		head: head,
		features: func(x []float64) (float64, error) {
			if len(x) != n {
				return 0, fmt.Errorf("expected %d features, got %d", n, len(x))
			}
			var dot float64
			for i, v := range x {
				if scale != nil {
					s := scale[i]
					if s == 0 {
						s = 1
					}
					v = (v - mean[i]) / s
				}
				dot += v * head.coef[i]
			}
			return dot, nil
		},
	}
	return wrapLinear(m), nil
}

func wrapLinear[In any](m *Linear[In]) Classifier[In] {
	if m.head.sigmoid != nil {
		return ProbabilisticLinear[In]{m}
	}
	return m
}

func readLinear(path string) (linearArtifact, linearHead, error) {
	var art linearArtifact
	data, err := os.ReadFile(path)
	if err != nil {
		return art, linearHead{}, fmt.Errorf("read model: %w", err)
	}
	if err := json.Unmarshal(data, &art); err != nil {
		return art, linearHead{}, fmt.Errorf("parse %s: %w", path, err)
	}

	head := linearHead{
		coef:    art.Coef,
		classes: [2]Class{ClassTruthful, ClassDeceptive},
	}
	if len(head.coef) == 0 {
		return art, head, fmt.Errorf("%s: empty coef", path)
	}
	if len(art.Intercept) > 1 {
		return art, head, fmt.Errorf("%s: expected one intercept, got %d", path, len(art.Intercept))
	}
	if len(art.Intercept) == 1 {
		head.intercept = art.Intercept[0]
	}
	if len(art.Classes) != 0 {
		if len(art.Classes) != 2 || art.Classes[0] == art.Classes[1] ||
			!validClass(art.Classes[0]) || !validClass(art.Classes[1]) {
			return art, head, fmt.Errorf("%s: classes must be a permutation of [0, 1], got %v", path, art.Classes)
		}
		head.classes = [2]Class{Class(art.Classes[0]), Class(art.Classes[1])}
	}

	switch art.Kind {
	case kindLogisticRegression:
		head.sigmoid = func(f float64) float64 { return 1 / (1 + math.Exp(-f)) }
	case kindLinearSVM:
		if pp := art.Platt; pp != nil {
			head.sigmoid = func(f float64) float64 { return 1 / (1 + math.Exp(pp.A*f+pp.B)) }
		}
	default:
		return art, head, fmt.Errorf("%s: unknown model kind %q", path, art.Kind)
	}
	return art, head, nil
}

func validClass(c int) bool {
	return c == int(ClassTruthful) || c == int(ClassDeceptive)
}
