// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"
)

// MockModel is a mock implementation of Model for testing.
// It returns a fixed probability vector without requiring the ONNX shared library.
type MockModel struct {
	mu sync.Mutex
	// Probabilities is returned for every call
	Probabilities []float32
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// Err, when set, is returned as-is instead of ErrorMessage
	Err error

	callCount int
	lastShape []int64
}

// NewMock creates a MockModel that favors the last default class ("Healthy").
func NewMock() *MockModel {
	return &MockModel{
		Probabilities: []float32{0.1, 0.2, 0.7},
	}
}

// NewMockWithProbabilities creates a MockModel returning probs.
func NewMockWithProbabilities(probs []float32) *MockModel {
	return &MockModel{
		Probabilities: append([]float32(nil), probs...),
	}
}

// Predict returns the configured probabilities after validating the batch.
func (m *MockModel) Predict(ctx context.Context, batch BatchTensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.lastShape = append([]int64(nil), batch.Shape...)

	if m.Err != nil {
		return nil, m.Err
	}
	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}

	if len(batch.Shape) == 0 || batch.Shape[0] != 1 {
		return nil, fmt.Errorf("expected batch of 1, got shape %v", batch.Shape)
	}
	if int64(len(batch.Data)) != batch.Size() {
		return nil, fmt.Errorf("batch data has wrong size: got %d, expected %d", len(batch.Data), batch.Size())
	}

	return append([]float32(nil), m.Probabilities...), nil
}

// Close is a no-op for the mock implementation
func (m *MockModel) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockModel) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockModel) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
	m.Err = nil
}

// CallCount returns the number of Predict calls so far.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastShape returns the batch shape seen by the most recent Predict call.
func (m *MockModel) LastShape() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.lastShape...)
}

// Ensure MockModel implements Model at compile time
var _ Model = (*MockModel)(nil)
