// internal/inference/inference.go
package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures how an ONNX model file is loaded.
type ONNXOptions struct {
	ModelPath string
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	// InputName and OutputName select graph tensors; empty picks the first one.
	InputName  string
	OutputName string
	// NumClasses is used when the model's output class axis is dynamic.
	NumClasses int64
}

// ONNXModel wraps an ONNX runtime session. Run is safe for concurrent use,
// so the lock only keeps Predict from racing with Close.
type ONNXModel struct {
	mu         sync.RWMutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputShape []int64
	numClasses int64
}

// NewONNXModel loads the model at opts.ModelPath and inspects its input and
// output tensors.
func NewONNXModel(opts ONNXOptions) (*ONNXModel, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}

	// Initialize the ONNX runtime environment
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}

	in, err := pickTensor(inputs, opts.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := pickTensor(outputs, opts.OutputName, "output")
	if err != nil {
		return nil, err
	}

	numClasses := opts.NumClasses
	if dims := out.Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		numClasses = dims[len(dims)-1]
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("output %q has a dynamic class axis and no class count was configured", out.Name)
	}

	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{in.Name},
		[]string{out.Name},
		nil, // Use default session options
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
		inputShape: append([]int64(nil), in.Dimensions...),
		numClasses: numClasses,
	}, nil
}

func pickTensor(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensors", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensor named %q", kind, name)
}

// InputShape returns the model's declared input shape. Dynamic axes are
// reported as -1.
func (m *ONNXModel) InputShape() []int64 {
	return append([]int64(nil), m.inputShape...)
}

// NumClasses returns the size of the model's output class axis.
func (m *ONNXModel) NumClasses() int64 {
	return m.numClasses
}

// Predict runs one forward pass over batch.
func (m *ONNXModel) Predict(ctx context.Context, batch BatchTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}

	if !ShapesCompatible(m.inputShape, batch.Shape) {
		return nil, &ModelInputError{Want: m.InputShape(), Got: batch.Shape}
	}
	if int64(len(batch.Data)) != batch.Size() {
		return nil, &ModelInputError{
			Want:   m.InputShape(),
			Got:    batch.Shape,
			Reason: fmt.Sprintf("data length %d does not match shape", len(batch.Data)),
		}
	}
	if batch.Shape[0] != 1 {
		return nil, &ModelInputError{Want: m.InputShape(), Got: batch.Shape, Reason: "batch size must be 1"}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(batch.Shape...), batch.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, m.numClasses))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = m.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("session run failed: %w", err)
	}

	out := make([]float32, m.numClasses)
	copy(out, outputTensor.GetData())
	return out, nil
}

// Close releases the ONNX session resources
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return ort.DestroyEnvironment()
}

// Ensure ONNXModel implements Model at compile time
var _ Model = (*ONNXModel)(nil)
