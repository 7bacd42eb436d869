package tensor

import (
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("Float32 with data", func(t *testing.T) {
		data := []float32{1.0, 2.0, 3.0, 4.0, 5.0, 6.0}
		tensor, err := NewTensor([]int{2, 3}, Float32, data)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if tensor.NumElems != 6 {
			t.Errorf("NumElems = %d, expected 6", tensor.NumElems)
		}
		if !reflect.DeepEqual(tensor.Strides, []int{3, 1}) {
			t.Errorf("Strides = %v, expected [3 1]", tensor.Strides)
		}
	})

	t.Run("Data length mismatch", func(t *testing.T) {
		_, err := NewTensor([]int{2, 3}, Float32, []float32{1.0, 2.0})
		if err == nil {
			t.Error("Expected error for data length mismatch")
		}
	})

	t.Run("Negative dimension", func(t *testing.T) {
		_, err := NewTensor([]int{2, -1}, Float32, nil)
		if err == nil {
			t.Error("Expected error for negative dimension")
		}
	})

	t.Run("Zero dimension is legal", func(t *testing.T) {
		tensor, err := NewTensor([]int{0, 8}, Float32, []float32{})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tensor.NumElems != 0 {
			t.Errorf("NumElems = %d, expected 0", tensor.NumElems)
		}
	})

	t.Run("Shape is copied", func(t *testing.T) {
		shape := []int{2, 2}
		tensor, err := NewTensor(shape, Float32, []float32{1, 2, 3, 4})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		shape[0] = 99
		if tensor.Shape[0] != 2 {
			t.Error("Tensor shape aliases the caller's slice")
		}
	})
}

func TestZeros(t *testing.T) {
	t.Run("Float32 zeros", func(t *testing.T) {
		tensor, err := Zeros([]int{2, 2}, Float32)
		if err != nil {
			t.Fatalf("Zeros failed: %v", err)
		}

		data := tensor.Data.([]float32)
		for i, v := range data {
			if v != 0 {
				t.Errorf("data[%d] = %f, expected 0", i, v)
			}
		}
	})

	t.Run("Empty batch zeros", func(t *testing.T) {
		tensor, err := Zeros([]int{0, 2, 4, 4}, Float32)
		if err != nil {
			t.Fatalf("Zeros failed: %v", err)
		}
		if len(tensor.Data.([]float32)) != 0 {
			t.Error("Expected empty backing slice")
		}
	})
}

func TestOnes(t *testing.T) {
	tensor, err := Ones([]int{3}, Float32)
	if err != nil {
		t.Fatalf("Ones failed: %v", err)
	}

	expected := []float32{1.0, 1.0, 1.0}
	if !reflect.DeepEqual(tensor.Data.([]float32), expected) {
		t.Errorf("Result = %v, expected %v", tensor.Data, expected)
	}
}

func TestFull(t *testing.T) {
	tensor, err := Full([]int{2, 2}, 0.25)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}

	expected := []float32{0.25, 0.25, 0.25, 0.25}
	if !reflect.DeepEqual(tensor.Data.([]float32), expected) {
		t.Errorf("Result = %v, expected %v", tensor.Data, expected)
	}
}

func TestFromScalar(t *testing.T) {
	tensor := FromScalar(3.5)

	v, err := tensor.Item()
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if v != 3.5 {
		t.Errorf("Item = %f, expected 3.5", v)
	}
}

func TestRandomNormal(t *testing.T) {
	tensor, err := RandomNormal([]int{100}, 0, 1)
	if err != nil {
		t.Fatalf("RandomNormal failed: %v", err)
	}

	data := tensor.Data.([]float32)
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	mean := sum / float64(len(data))

	// Loose sanity bound; 100 samples of a unit normal.
	if mean < -0.5 || mean > 0.5 {
		t.Errorf("Sample mean %f implausibly far from 0", mean)
	}
}
