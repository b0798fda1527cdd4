// internal/inference/interface.go
package inference

import "context"

// Model maps a batched image tensor to per-class probabilities.
// This abstraction allows the ONNX runtime, a mock, or another runtime's
// loader to be swapped in without touching the request path.
type Model interface {
	// Predict runs one forward pass over batch and returns the scores of its
	// single element, one per class, in the model's output order.
	Predict(ctx context.Context, batch BatchTensor) ([]float32, error)

	// Close releases any resources held by the model.
	Close() error
}
