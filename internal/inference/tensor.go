// internal/inference/tensor.go
package inference

import (
	"github.com/SyedDaiam9101/leaf-disease-service/internal/preprocess"
)

// BatchTensor is a preprocessed image with a leading batch dimension of size 1.
type BatchTensor struct {
	Shape []int64
	Data  []float32
}

// NewBatch wraps t as a [1, H, W, C] batch. The data slice is shared, not copied.
func NewBatch(t *preprocess.Tensor) BatchTensor {
	return BatchTensor{
		Shape: []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)},
		Data:  t.Data,
	}
}

// Size returns the number of elements implied by the shape.
func (b BatchTensor) Size() int64 {
	return shapeSize(b.Shape)
}

func shapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// ShapesCompatible reports whether got satisfies want. A non-positive
// dimension in want (a dynamic axis in an exported model) matches any size.
func ShapesCompatible(want, got []int64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] > 0 && want[i] != got[i] {
			return false
		}
	}
	return true
}
