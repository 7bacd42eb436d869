package tensor

import (
	"fmt"
	"slices"
)

// Reshape returns a tensor sharing the same underlying data with a new shape.
// One dimension may be -1 and is inferred from the element count.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	resolved := make([]int, len(newShape))
	copy(resolved, newShape)

	newNumElems := 1
	negOneIdx := -1

	for i, dim := range resolved {
		switch {
		case dim == -1:
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		case dim < 0:
			return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
		default:
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if newNumElems == 0 {
			return nil, fmt.Errorf("cannot infer -1 dimension when remaining shape has zero elements")
		}
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d",
				t.NumElems, newNumElems)
		}
		inferred := t.NumElems / newNumElems
		resolved[negOneIdx] = inferred
		newNumElems *= inferred
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, resolved, newNumElems)
	}

	return &Tensor{
		Shape:    resolved,
		Strides:  rowMajorStrides(resolved),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

func (t *Tensor) Clone() (*Tensor, error) {
	if t.Data == nil {
		return nil, fmt.Errorf("tensor has nil data")
	}

	clone := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		NumElems: t.NumElems,
	}
	switch data := t.Data.(type) {
	case []float32:
		clone.Data = append([]float32(nil), data...)
	case []uint16:
		clone.Data = append([]uint16(nil), data...)
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}
	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item() can only be called on tensors with exactly one element, got %d", t.NumElems)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
	return t.Data.([]float32)[0], nil
}

// offsetOf validates one index per dimension and resolves the flat offset.
func (t *Tensor) offsetOf(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return offset, nil
}

func (t *Tensor) At(indices ...int) (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("unsupported dtype for At: %s", t.DType)
	}
	offset, err := t.offsetOf(indices)
	if err != nil {
		return 0, err
	}
	return t.Data.([]float32)[offset], nil
}

func (t *Tensor) SetAt(value float32, indices ...int) error {
	if t.DType != Float32 {
		return fmt.Errorf("unsupported dtype for SetAt: %s", t.DType)
	}
	offset, err := t.offsetOf(indices)
	if err != nil {
		return err
	}
	t.Data.([]float32)[offset] = value
	return nil
}

func (t *Tensor) Size() []int {
	return append([]int(nil), t.Shape...)
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false, nil
	}

	switch t.DType {
	case Float32:
		return slices.Equal(t.Data.([]float32), other.Data.([]float32)), nil
	case Float16:
		return slices.Equal(t.Data.([]uint16), other.Data.([]uint16)), nil
	default:
		return false, fmt.Errorf("unsupported dtype for Equal: %s", t.DType)
	}
}
