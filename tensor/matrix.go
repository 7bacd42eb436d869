package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

func getIndex(indices []int, strides []int) int {
	index := 0
	for i, idx := range indices {
		index += idx * strides[i]
	}
	return index
}

func getIndicesFromLinear(linearIndex int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = linearIndex % shape[i]
		linearIndex /= shape[i]
	}
	return indices
}

func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2-D tensors, got %v x %v", t1.Shape, t2.Shape)
	}

	rows1 := t1.Shape[0]
	cols1 := t1.Shape[1]
	rows2 := t2.Shape[0]
	cols2 := t2.Shape[1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, cols2}, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < rows1; i++ {
			for j := 0; j < cols2; j++ {
				var sum float32
				for k := 0; k < cols1; k++ {
					sum += data1[i*cols1+k] * data2[k*cols2+j]
				}
				resultData[i*cols2+j] = sum
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	return result, nil
}

func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) {
		return nil, fmt.Errorf("dim0 %d out of range for tensor with %d dimensions", dim0, len(t.Shape))
	}
	if dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("dim1 %d out of range for tensor with %d dimensions", dim1, len(t.Shape))
	}

	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[dim0], outputShape[dim1] = outputShape[dim1], outputShape[dim0]

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t.NumElems; i++ {
			indices := getIndicesFromLinear(i, t.Shape)
			indices[dim0], indices[dim1] = indices[dim1], indices[dim0]
			resultData[getIndex(indices, result.Strides)] = data[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	return result, nil
}

func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Sum: %s", t.DType)
	}

	var outputShape []int
	if keepDim {
		outputShape = make([]int, len(t.Shape))
		copy(outputShape, t.Shape)
		outputShape[dim] = 1
	} else {
		outputShape = make([]int, 0, len(t.Shape)-1)
		for i, size := range t.Shape {
			if i != dim {
				outputShape = append(outputShape, size)
			}
		}
	}

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	for i := 0; i < t.NumElems; i++ {
		indices := getIndicesFromLinear(i, t.Shape)

		var resultIndices []int
		if keepDim {
			resultIndices = make([]int, len(indices))
			copy(resultIndices, indices)
			resultIndices[dim] = 0
		} else {
			resultIndices = make([]int, 0, len(indices)-1)
			for j, idx := range indices {
				if j != dim {
					resultIndices = append(resultIndices, idx)
				}
			}
		}

		resultData[getIndex(resultIndices, result.Strides)] += data[i]
	}

	return result, nil
}

// Concat joins tensors along dim. All inputs must agree on dtype, rank and
// every dimension except dim.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	first := tensors[0]
	if dim < 0 || dim >= len(first.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(first.Shape))
	}
	if first.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Concat: %s", first.DType)
	}

	concatSize := 0
	for n, t := range tensors {
		if t.DType != first.DType {
			return nil, fmt.Errorf("tensors must have same dtype: %s vs %s", first.DType, t.DType)
		}
		if len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("tensor %d has rank %d, expected %d", n, len(t.Shape), len(first.Shape))
		}
		for i := range t.Shape {
			if i != dim && t.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v along dim %d",
					n, t.Shape, first.Shape, dim)
			}
		}
		concatSize += t.Shape[dim]
	}

	outputShape := make([]int, len(first.Shape))
	copy(outputShape, first.Shape)
	outputShape[dim] = concatSize

	result, err := Zeros(outputShape, first.DType)
	if err != nil {
		return nil, err
	}

	inner := 1
	for i := dim + 1; i < len(first.Shape); i++ {
		inner *= first.Shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= first.Shape[i]
	}

	resultData := result.Data.([]float32)
	rowSize := concatSize * inner

	for o := 0; o < outer; o++ {
		offset := o * rowSize
		for _, t := range tensors {
			block := t.Shape[dim] * inner
			data := t.Data.([]float32)
			copy(resultData[offset:offset+block], data[o*block:(o+1)*block])
			offset += block
		}
	}

	return result, nil
}

// Narrow returns a copy of the slice [start, start+length) along dim.
func Narrow(t *Tensor, dim, start, length int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}
	if start < 0 || length < 0 || start+length > t.Shape[dim] {
		return nil, fmt.Errorf("narrow range [%d, %d) out of bounds for dimension %d (size %d)",
			start, start+length, dim, t.Shape[dim])
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Narrow: %s", t.DType)
	}

	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[dim] = length

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t.Shape[i]
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	srcRow := t.Shape[dim] * inner
	dstRow := length * inner

	for o := 0; o < outer; o++ {
		src := o*srcRow + start*inner
		copy(resultData[o*dstRow:(o+1)*dstRow], data[src:src+dstRow])
	}

	return result, nil
}

// NormalizeRows L2-normalizes each row of a 2-D tensor. Rows with norm below
// eps are copied through unchanged. Accumulation is done in float64.
func NormalizeRows(t *Tensor, eps float64) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("normalize requires a 2-D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for NormalizeRows: %s", t.DType)
	}

	rows := t.Shape[0]
	cols := t.Shape[1]

	result, err := Zeros(t.Shape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	row := make([]float64, cols)

	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			row[c] = float64(data[base+c])
		}
		norm := floats.Norm(row, 2)
		if norm < eps {
			copy(resultData[base:base+cols], data[base:base+cols])
			continue
		}
		for c := 0; c < cols; c++ {
			resultData[base+c] = float32(row[c] / norm)
		}
	}

	return result, nil
}
