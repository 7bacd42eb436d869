package tensor

import (
	"fmt"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}

	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}

	return shape1, nil
}

// binaryOp runs fn over two identically shaped Float32 tensors. All the
// elementwise arithmetic funnels through here so shape and dtype rules stay
// in one place.
func binaryOp(op string, t1, t2 *Tensor, fn func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for %s: %s", op, t1.DType)
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := result.Data.([]float32)
	for i := range out {
		out[i] = fn(a[i], b[i])
	}
	return result, nil
}

// unaryOp runs fn over every element of a Float32 tensor.
func unaryOp(op string, t *Tensor, fn func(v float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for %s: %s", op, t.DType)
	}

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}
	src := t.Data.([]float32)
	out := result.Data.([]float32)
	for i := range out {
		out[i] = fn(src[i])
	}
	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp("Add", t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp("Sub", t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp("Mul", t1, t2, func(a, b float32) float32 { return a * b })
}

// Div rejects zero divisors rather than producing Inf.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Div: %s", t1.DType)
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := result.Data.([]float32)
	for i := range out {
		if b[i] == 0 {
			return nil, fmt.Errorf("division by zero at index %d", i)
		}
		out[i] = a[i] / b[i]
	}
	return result, nil
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unaryOp("Scale", t, func(v float32) float32 { return v * s })
}

// Clamp limits every element to the closed interval [min, max].
func Clamp(t *Tensor, min, max float32) (*Tensor, error) {
	if min > max {
		return nil, fmt.Errorf("clamp bounds inverted: min %f > max %f", min, max)
	}
	return unaryOp("Clamp", t, func(v float32) float32 {
		if v < min {
			return min
		}
		if v > max {
			return max
		}
		return v
	})
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unaryOp("ReLU", t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}
