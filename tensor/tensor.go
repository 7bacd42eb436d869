package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	default:
		return "Unknown"
	}
}

// Tensor is a dense row-major (NCHW for 4-D data) CPU tensor. Float32 is the
// compute dtype; Float16 is storage-only and must be converted before math.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)",
		t.Shape, t.DType, t.NumElems)
}

// rowMajorStrides lays dimensions out innermost-last, so the final axis is
// contiguous.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for axis := len(shape) - 1; axis >= 0; axis-- {
		strides[axis] = acc
		acc *= shape[axis]
	}
	return strides
}

func elementCount(shape []int) int {
	count := 1
	for _, dim := range shape {
		count *= dim
	}
	return count
}

// validateShape accepts zero-size dimensions: empty batches are legal inputs
// throughout the pipeline and must flow through every operation.
func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be non-negative", i, dim)
		}
	}
	return nil
}
