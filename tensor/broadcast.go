package tensor

import (
	"fmt"
)

// BroadcastShapes resolves the result shape of combining two shapes under
// NumPy-style rules: align trailing dimensions, sizes must match or one of
// them must be 1; missing leading dimensions are treated as 1.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	resultShape := make([]int, maxDims)

	for i := 0; i < maxDims; i++ {
		dim1Idx := len(shape1) - 1 - i
		dim2Idx := len(shape2) - 1 - i
		resultIdx := maxDims - 1 - i

		dim1 := 1
		dim2 := 1
		if dim1Idx >= 0 {
			dim1 = shape1[dim1Idx]
		}
		if dim2Idx >= 0 {
			dim2 = shape2[dim2Idx]
		}

		switch {
		case dim1 == dim2:
			resultShape[resultIdx] = dim1
		case dim1 == 1:
			resultShape[resultIdx] = dim2
		case dim2 == 1:
			resultShape[resultIdx] = dim1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable: dimension %d (%d vs %d)",
				shape1, shape2, i, dim1, dim2)
		}
	}

	return resultShape, nil
}

// BroadcastTo materializes t expanded to targetShape.
func BroadcastTo(t *Tensor, targetShape []int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for BroadcastTo: %s", t.DType)
	}

	if shapesEqual(t.Shape, targetShape) {
		return t.Clone()
	}

	if _, err := BroadcastShapes(t.Shape, targetShape); err != nil {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v: %v", t.Shape, targetShape, err)
	}

	result, err := Zeros(targetShape, t.DType)
	if err != nil {
		return nil, err
	}

	srcData := t.Data.([]float32)
	dstData := result.Data.([]float32)

	numDims := len(targetShape)
	srcDims := len(t.Shape)
	coords := make([]int, numDims)

	for dstIdx := 0; dstIdx < result.NumElems; dstIdx++ {
		remaining := dstIdx
		for i := numDims - 1; i >= 0; i-- {
			coords[i] = remaining % targetShape[i]
			remaining /= targetShape[i]
		}

		srcIdx := 0
		srcStride := 1
		for i := numDims - 1; i >= 0; i-- {
			srcDimIdx := i - (numDims - srcDims)
			if srcDimIdx < 0 {
				continue
			}
			srcDim := t.Shape[srcDimIdx]
			coord := coords[i]
			if srcDim == 1 {
				coord = 0
			}
			srcIdx += coord * srcStride
			srcStride *= srcDim
		}

		dstData[dstIdx] = srcData[srcIdx]
	}

	return result, nil
}

// AddBroadcast adds two tensors, broadcasting either to the common shape.
func AddBroadcast(t1, t2 *Tensor) (*Tensor, error) {
	b1, b2, err := broadcastPair(t1, t2)
	if err != nil {
		return nil, err
	}
	return Add(b1, b2)
}

// MulBroadcast multiplies two tensors elementwise, broadcasting either to the
// common shape.
func MulBroadcast(t1, t2 *Tensor) (*Tensor, error) {
	b1, b2, err := broadcastPair(t1, t2)
	if err != nil {
		return nil, err
	}
	return Mul(b1, b2)
}

func broadcastPair(t1, t2 *Tensor) (*Tensor, *Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, nil, err
	}

	shape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, nil, err
	}

	b1, err := BroadcastTo(t1, shape)
	if err != nil {
		return nil, nil, err
	}
	b2, err := BroadcastTo(t2, shape)
	if err != nil {
		return nil, nil, err
	}
	return b1, b2, nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
