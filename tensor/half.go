package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// ToFloat16 converts a Float32 tensor to Float16 storage. The conversion is
// lossy; Float16 tensors hold raw IEEE 754 half bits and must be converted
// back before any arithmetic.
func (t *Tensor) ToFloat16() (*Tensor, error) {
	switch t.DType {
	case Float16:
		return t.Clone()
	case Float32:
		data := t.Data.([]float32)
		half := make([]uint16, len(data))
		for i, v := range data {
			half[i] = float16.Fromfloat32(v).Bits()
		}
		return NewTensor(t.Shape, Float16, half)
	default:
		return nil, fmt.Errorf("unsupported dtype for ToFloat16: %s", t.DType)
	}
}

// ToFloat32 converts a Float16 tensor back to Float32.
func (t *Tensor) ToFloat32() (*Tensor, error) {
	switch t.DType {
	case Float32:
		return t.Clone()
	case Float16:
		data := t.Data.([]uint16)
		full := make([]float32, len(data))
		for i, v := range data {
			full[i] = float16.Frombits(v).Float32()
		}
		return NewTensor(t.Shape, Float32, full)
	default:
		return nil, fmt.Errorf("unsupported dtype for ToFloat32: %s", t.DType)
	}
}

// HalfBits exposes the raw half-precision payload of a Float16 tensor.
func (t *Tensor) HalfBits() ([]uint16, error) {
	if t.DType != Float16 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float16", t.DType)
	}
	return t.Data.([]uint16), nil
}
