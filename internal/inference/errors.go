// internal/inference/errors.go
package inference

import "fmt"

// ModelInputError means the tensor handed to the model does not match the
// shape the model was exported with. It points at code/model skew rather
// than bad user input and is never retried.
type ModelInputError struct {
	Want   []int64
	Got    []int64
	Reason string
}

func (e *ModelInputError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("model input mismatch: %s (want shape %v, got %v)", e.Reason, e.Want, e.Got)
	}
	return fmt.Sprintf("model input mismatch: want shape %v, got %v", e.Want, e.Got)
}

// InferenceFailure wraps any error raised while evaluating the model.
type InferenceFailure struct {
	Err error
}

func (e *InferenceFailure) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceFailure) Unwrap() error {
	return e.Err
}
