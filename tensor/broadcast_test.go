package tensor

import (
	"reflect"
	"testing"
)

func TestBroadcastShapes(t *testing.T) {
	t.Run("Bias over batch", func(t *testing.T) {
		result, err := BroadcastShapes([]int{4, 8}, []int{8})
		if err != nil {
			t.Fatalf("BroadcastShapes failed: %v", err)
		}
		if !reflect.DeepEqual(result, []int{4, 8}) {
			t.Errorf("Result = %v, expected [4 8]", result)
		}
	})

	t.Run("Channel broadcast", func(t *testing.T) {
		result, err := BroadcastShapes([]int{2, 3, 4, 4}, []int{2, 1, 4, 4})
		if err != nil {
			t.Fatalf("BroadcastShapes failed: %v", err)
		}
		if !reflect.DeepEqual(result, []int{2, 3, 4, 4}) {
			t.Errorf("Result = %v, expected [2 3 4 4]", result)
		}
	})

	t.Run("Incompatible shapes", func(t *testing.T) {
		_, err := BroadcastShapes([]int{2, 3}, []int{4, 3})
		if err == nil {
			t.Error("Expected error for incompatible shapes")
		}
	})
}

func TestAddBroadcast(t *testing.T) {
	t.Run("Row vector added to each row", func(t *testing.T) {
		a, _ := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
		b, _ := NewTensor([]int{3}, Float32, []float32{10, 20, 30})

		result, err := AddBroadcast(a, b)
		if err != nil {
			t.Fatalf("AddBroadcast failed: %v", err)
		}

		expected := []float32{11, 22, 33, 14, 25, 36}
		resultData := result.Data.([]float32)
		if !reflect.DeepEqual(resultData, expected) {
			t.Errorf("Result = %v, expected %v", resultData, expected)
		}
	})
}

func TestMulBroadcast(t *testing.T) {
	t.Run("Single-channel mask over RGB", func(t *testing.T) {
		// (1, 2, 2, 2) image, (1, 1, 2, 2) mask.
		image, _ := NewTensor([]int{1, 2, 2, 2}, Float32, []float32{
			1, 2, 3, 4,
			5, 6, 7, 8,
		})
		mask, _ := NewTensor([]int{1, 1, 2, 2}, Float32, []float32{1, 0, 0, 1})

		result, err := MulBroadcast(image, mask)
		if err != nil {
			t.Fatalf("MulBroadcast failed: %v", err)
		}

		expected := []float32{1, 0, 0, 4, 5, 0, 0, 8}
		resultData := result.Data.([]float32)
		if !reflect.DeepEqual(resultData, expected) {
			t.Errorf("Result = %v, expected %v", resultData, expected)
		}
	})

	t.Run("Same shapes skip expansion", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, []float32{2, 3})
		b, _ := NewTensor([]int{2}, Float32, []float32{4, 5})

		result, err := MulBroadcast(a, b)
		if err != nil {
			t.Fatalf("MulBroadcast failed: %v", err)
		}

		expected := []float32{8, 15}
		if !reflect.DeepEqual(result.Data.([]float32), expected) {
			t.Errorf("Result = %v, expected %v", result.Data, expected)
		}
	})
}
