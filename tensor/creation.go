package tensor

import (
	"fmt"
	"math/rand"
	"time"
)

// NewTensor builds a tensor over the given backing data. A nil data argument
// leaves the tensor unbacked; a scalar float32 broadcasts to every element.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	t := &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  rowMajorStrides(shape),
		DType:    dtype,
		NumElems: elementCount(shape),
	}
	if data == nil {
		return t, nil
	}
	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch d := data.(type) {
	case []float32:
		if t.DType != Float32 {
			return fmt.Errorf("cannot back a %s tensor with []float32", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	case float32:
		if t.DType != Float32 {
			return fmt.Errorf("cannot back a %s tensor with a float32 scalar", t.DType)
		}
		slice := make([]float32, t.NumElems)
		for i := range slice {
			slice[i] = d
		}
		t.Data = slice
	case []uint16:
		if t.DType != Float16 {
			return fmt.Errorf("cannot back a %s tensor with []uint16", t.DType)
		}
		if len(d) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
		}
		t.Data = d
	default:
		return fmt.Errorf("unsupported data type %T for %s tensor", data, t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, elementCount(shape)))
	case Float16:
		return NewTensor(shape, dtype, make([]uint16, elementCount(shape)))
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}
}

func Ones(shape []int, dtype DType) (*Tensor, error) {
	if dtype != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
	return Full(shape, 1)
}

func Full(shape []int, value float32) (*Tensor, error) {
	return NewTensor(shape, Float32, value)
}

// FromScalar wraps a single value as a shape-[1] tensor.
func FromScalar(value float32) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, []float32{value})
	return t
}

// randomFilled allocates a Float32 tensor and fills it from a freshly seeded
// source.
func randomFilled(shape []int, draw func(rng *rand.Rand) float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	slice := make([]float32, elementCount(shape))
	for i := range slice {
		slice[i] = draw(rng)
	}
	return NewTensor(shape, Float32, slice)
}

// Random fills a tensor with uniform values in [0, 1).
func Random(shape []int, dtype DType) (*Tensor, error) {
	if dtype != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Random: %s", dtype)
	}
	return randomFilled(shape, func(rng *rand.Rand) float32 {
		return rng.Float32()
	})
}

// RandomNormal fills a tensor with gaussian values of the given moments.
func RandomNormal(shape []int, mean, std float32) (*Tensor, error) {
	return randomFilled(shape, func(rng *rand.Rand) float32 {
		return float32(rng.NormFloat64())*std + mean
	})
}
