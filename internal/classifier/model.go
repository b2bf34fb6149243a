package classifier

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/phishcheck/phishcheck/internal/features"
)

const (
	defaultSessions     = 1
	defaultIntraThreads = 1
	defaultInterThreads = 1

	OutputProbabilities = "probabilities"
	OutputLogits        = "logits"
)

// Options configures how a bundle's ONNX graph is bound. Empty tensor names
// are discovered from the graph.
type Options struct {
	ModelFile         string
	SharedLibraryPath string
	InputName         string
	LabelOutput       string
	ProbabilityOutput string
	// OutputKind is "probabilities" (default) or "logits"; logits go through softmax.
	OutputKind   string
	Sessions     int
	IntraThreads int
	InterThreads int
}

// ONNXModel runs a tabular classifier exported to ONNX, e.g. a scikit-learn
// estimator converted with skl2onnx and zipmap disabled.
type ONNXModel struct {
	modelPath string
	width     int
	classes   int
	inputName string
	labelName string
	probName  string
	logits    bool
	sessions  chan *onnxSession
	poolSize  int
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	label   *ort.Tensor[int64]
	probs   *ort.Tensor[float32]
}

type graphBinding struct {
	inputName string
	labelName string
	probName  string
	classes   int
}

// NewONNXModel initializes the runtime and a pool of sessions for a model
// taking width features. classesHint is used when the graph leaves the class
// dimension dynamic.
func NewONNXModel(modelPath string, width, classesHint int, opts Options) (*ONNXModel, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if width <= 0 {
		return nil, errors.New("feature width must be positive")
	}

	if err := initRuntime(opts.SharedLibraryPath, modelPath); err != nil {
		return nil, err
	}

	binding, err := bindGraph(modelPath, width, classesHint, opts)
	if err != nil {
		return nil, err
	}

	poolSize := opts.Sessions
	if poolSize <= 0 {
		poolSize = defaultSessions
	}
	intraThr := opts.IntraThreads
	if intraThr <= 0 {
		intraThr = defaultIntraThreads
	}
	interThr := opts.InterThreads
	if interThr <= 0 {
		interThr = defaultInterThreads
	}

	m := &ONNXModel{
		modelPath: modelPath,
		width:     width,
		classes:   binding.classes,
		inputName: binding.inputName,
		labelName: binding.labelName,
		probName:  binding.probName,
		logits:    strings.EqualFold(strings.TrimSpace(opts.OutputKind), OutputLogits),
		sessions:  make(chan *onnxSession, poolSize),
		poolSize:  poolSize,
	}
	for i := 0; i < poolSize; i++ {
		ss, err := newONNXSession(modelPath, width, binding, intraThr, interThr)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, poolSize, err)
		}
		m.sessions <- ss
	}
	return m, nil
}

func initRuntime(explicitLib, modelPath string) error {
	libPath := resolveSharedLibraryPath(explicitLib, filepath.Dir(modelPath))
	if libPath == "" {
		return fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	return nil
}

func bindGraph(modelPath string, width, classesHint int, opts Options) (graphBinding, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return graphBinding{}, fmt.Errorf("inspect onnx graph: %w", err)
	}

	input, err := pickInput(inputs, opts.InputName)
	if err != nil {
		return graphBinding{}, err
	}
	if n := len(input.Dimensions); n > 0 {
		if last := input.Dimensions[n-1]; last > 0 && int(last) != width {
			return graphBinding{}, fmt.Errorf("model input %s expects %d features, schema has %d", input.Name, last, width)
		}
	}

	prob, err := pickOutput(outputs, opts.ProbabilityOutput, ort.TensorElementDataTypeFloat, "prob")
	if err != nil {
		return graphBinding{}, fmt.Errorf("probability output: %w", err)
	}
	if prob == nil {
		return graphBinding{}, errors.New("model has no float probability output")
	}

	labelName := ""
	label, err := pickOutput(outputs, opts.LabelOutput, ort.TensorElementDataTypeInt64, "label")
	if err != nil {
		return graphBinding{}, fmt.Errorf("label output: %w", err)
	}
	if label != nil {
		labelName = label.Name
	}

	classes := 0
	if n := len(prob.Dimensions); n > 0 && prob.Dimensions[n-1] > 0 {
		classes = int(prob.Dimensions[n-1])
	}
	if classes <= 0 {
		classes = classesHint
	}
	if classes <= 0 {
		return graphBinding{}, errors.New("cannot determine class count from graph or label map")
	}

	return graphBinding{
		inputName: input.Name,
		labelName: labelName,
		probName:  prob.Name,
		classes:   classes,
	}, nil
}

func pickInput(inputs []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		for _, in := range inputs {
			if in.Name == name {
				return in, nil
			}
		}
		return ort.InputOutputInfo{}, fmt.Errorf("model has no input named %q (inputs: %v)", name, ioNames(inputs))
	}
	if len(inputs) != 1 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has %d inputs %v; configure classifier.input_name", len(inputs), ioNames(inputs))
	}
	return inputs[0], nil
}

// pickOutput returns the named output, or the first output of the wanted
// element type preferring names containing hint. A nil result means none matched.
func pickOutput(outputs []ort.InputOutputInfo, name string, want ort.TensorElementDataType, hint string) (*ort.InputOutputInfo, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		for i := range outputs {
			if outputs[i].Name == name {
				return &outputs[i], nil
			}
		}
		return nil, fmt.Errorf("model has no output named %q (outputs: %v)", name, ioNames(outputs))
	}
	var first *ort.InputOutputInfo
	for i := range outputs {
		if outputs[i].DataType != want {
			continue
		}
		if strings.Contains(strings.ToLower(outputs[i].Name), hint) {
			return &outputs[i], nil
		}
		if first == nil {
			first = &outputs[i]
		}
	}
	return first, nil
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

func newONNXSession(modelPath string, width int, b graphBinding, intraThr, interThr int) (*onnxSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(intraThr); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(interThr); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	ss := &onnxSession{}
	ss.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(width)))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	ss.probs, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(b.classes)))
	if err != nil {
		ss.destroy()
		return nil, fmt.Errorf("allocate probability tensor: %w", err)
	}

	outputNames := []string{b.probName}
	outputValues := []ort.Value{ss.probs}
	if b.labelName != "" {
		ss.label, err = ort.NewEmptyTensor[int64](ort.NewShape(1))
		if err != nil {
			ss.destroy()
			return nil, fmt.Errorf("allocate label tensor: %w", err)
		}
		outputNames = append(outputNames, b.labelName)
		outputValues = append(outputValues, ss.label)
	}

	ss.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{b.inputName},
		outputNames,
		[]ort.Value{ss.input},
		outputValues,
		opts,
	)
	if err != nil {
		ss.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return ss, nil
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		_ = s.session.Destroy()
	}
	if s.input != nil {
		_ = s.input.Destroy()
	}
	if s.probs != nil {
		_ = s.probs.Destroy()
	}
	if s.label != nil {
		_ = s.label.Destroy()
	}
}

// Evaluate runs one vector through a pooled session.
func (m *ONNXModel) Evaluate(ctx context.Context, vec features.Vector) (RawPrediction, error) {
	if m == nil || m.sessions == nil {
		return RawPrediction{}, fmt.Errorf("%w: onnx model not initialized", ErrInference)
	}
	if len(vec) != m.width {
		return RawPrediction{}, fmt.Errorf("%w: model expects %d features, got %d", ErrInference, m.width, len(vec))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var ss *onnxSession
	select {
	case ss = <-m.sessions:
	case <-ctx.Done():
		return RawPrediction{}, ctx.Err()
	}
	defer func() { m.sessions <- ss }()

	copy(ss.input.GetData(), vec.Float32())
	if err := ss.session.Run(); err != nil {
		return RawPrediction{}, fmt.Errorf("%w: onnx run: %w", ErrInference, err)
	}

	raw := ss.probs.GetData()
	probs := make([]float64, len(raw))
	for i, p := range raw {
		probs[i] = float64(p)
	}
	if m.logits {
		probs = softmax(probs)
	}

	var label int64
	if ss.label != nil {
		label = ss.label.GetData()[0]
	} else {
		label = argmax(probs)
	}
	return RawPrediction{Label: label, Probabilities: probs}, nil
}

// Predict returns the raw class id.
func (m *ONNXModel) Predict(ctx context.Context, vec features.Vector) (int64, error) {
	raw, err := m.Evaluate(ctx, vec)
	if err != nil {
		return 0, err
	}
	return raw.Label, nil
}

// PredictProbabilities returns the class distribution.
func (m *ONNXModel) PredictProbabilities(ctx context.Context, vec features.Vector) ([]float64, error) {
	raw, err := m.Evaluate(ctx, vec)
	if err != nil {
		return nil, err
	}
	return raw.Probabilities, nil
}

// Classes reports the width of the probability output.
func (m *ONNXModel) Classes() int {
	return m.classes
}

// Close destroys all pooled sessions. It must not race with Evaluate.
func (m *ONNXModel) Close() error {
	if m == nil || m.sessions == nil {
		return nil
	}
	for {
		select {
		case ss := <-m.sessions:
			ss.destroy()
		default:
			return nil
		}
	}
}
