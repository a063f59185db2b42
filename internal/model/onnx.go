package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// InitONNX initializes the process-wide ONNX Runtime environment. libPath
// overrides the shared library location when non-empty. Only the first call
// has any effect.
func InitONNX(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return ortErr
}

// DestroyONNX tears down the ONNX Runtime environment if it was started.
func DestroyONNX() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// ONNXClassifier runs a classifier exported from scikit-learn with
// skl2onnx (zipmap disabled): one float input of shape [N, F], an int64
// label output and, optionally, a float probability output of shape [N, C].
type ONNXClassifier struct {
	session     *ort.DynamicAdvancedSession
	numFeatures int64 // 0 when the model leaves it dynamic
	hasProba    bool
}

// NewONNXClassifier loads the model at path. InitONNX must have succeeded.
func NewONNXClassifier(path string) (*ONNXClassifier, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	sig, err := inspectSignature(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	outputNames := []string{sig.label}
	if sig.proba != "" {
		outputNames = append(outputNames, sig.proba)
	}
	session, err := ort.NewDynamicAdvancedSession(path, []string{sig.input}, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXClassifier{
		session:     session,
		numFeatures: sig.numFeatures,
		hasProba:    sig.proba != "",
	}, nil
}

type signature struct {
	input       string
	label       string
	proba       string
	numFeatures int64
}

// inspectSignature picks the input and the label/probability outputs.
func inspectSignature(inputs, outputs []ort.InputOutputInfo) (signature, error) {
	var sig signature
	if len(inputs) != 1 {
		return sig, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	in := inputs[0]
	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		return sig, fmt.Errorf("input %q must be a float tensor", in.Name)
	}
	sig.input = in.Name
	if dims := in.Dimensions; len(dims) == 2 && dims[1] > 0 {
		sig.numFeatures = dims[1]
	}

	for _, out := range outputs {
		if out.OrtValueType != ort.ONNXTypeTensor {
			// A sequence-of-maps output means the model was exported with
			// zipmap enabled; it is skipped and the model has no
			// probabilities.
			continue
		}
		switch out.DataType {
		case ort.TensorElementDataTypeInt64:
			if sig.label == "" {
				sig.label = out.Name
			}
		case ort.TensorElementDataTypeFloat:
			if sig.proba == "" {
				sig.proba = out.Name
			}
		}
	}
	if sig.label == "" {
		return sig, fmt.Errorf("no int64 label output")
	}
	return sig, nil
}

// run executes one inference and returns the label and, when the model has a
// probability output, the class probabilities.
func (c *ONNXClassifier) run(features []float64) (Class, []float64, error) {
	if c.numFeatures > 0 && int64(len(features)) != c.numFeatures {
		return 0, nil, fmt.Errorf("expected %d features, got %d", c.numFeatures, len(features))
	}
	data := make([]float32, len(features))
	for i, v := range features {
		data[i] = float32(v)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 1, 2)
	if c.hasProba {
		outputs = append(outputs, nil)
	}
	if err := c.session.Run([]ort.Value{input}, outputs); err != nil {
		return 0, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	labels, ok := outputs[0].(*ort.Tensor[int64])
	if !ok || len(labels.GetData()) == 0 {
		return 0, nil, fmt.Errorf("unexpected label output %T", outputs[0])
	}
	class := Class(labels.GetData()[0])
	if !c.hasProba {
		return class, nil, nil
	}

	probs, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return 0, nil, fmt.Errorf("unexpected probability output %T", outputs[1])
	}
	raw := probs.GetData()
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return class, out, nil
}

func (c *ONNXClassifier) Predict(features []float64) (Class, error) {
	class, _, err := c.run(features)
	return class, err
}

func (c *ONNXClassifier) PredictProba(features []float64) ([]float64, error) {
	if !c.hasProba {
		return nil, ErrNoProbabilities
	}
	_, probs, err := c.run(features)
	return probs, err
}

func (c *ONNXClassifier) Close() error {
	if c.session != nil {
		return c.session.Destroy()
	}
	return nil
}
