package tensor

import (
	"reflect"
	"testing"
)

func TestCheckCompatibility(t *testing.T) {
	f32 := &Tensor{DType: Float32}
	f16 := &Tensor{DType: Float16}

	if err := checkCompatibility(f32, &Tensor{DType: Float32}); err != nil {
		t.Errorf("Expected no error for matching dtypes, got %v", err)
	}
	if err := checkCompatibility(f32, f16); err == nil {
		t.Error("Expected error for different dtypes")
	}
}

func TestCheckShapesCompatible(t *testing.T) {
	cases := []struct {
		name   string
		a, b   []int
		wantOK bool
	}{
		{"matching", []int{2, 3}, []int{2, 3}, true},
		{"transposed", []int{2, 3}, []int{3, 2}, false},
		{"extra dimension", []int{2, 3}, []int{2, 3, 4}, false},
		{"empty batches", []int{0, 4}, []int{0, 4}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := checkShapesCompatible(tc.a, tc.b)
			if tc.wantOK {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				if !reflect.DeepEqual(result, tc.a) {
					t.Errorf("Result = %v, expected %v", result, tc.a)
				}
			} else if err == nil {
				t.Error("Expected shape mismatch error")
			}
		})
	}
}

func TestElementwiseArithmetic(t *testing.T) {
	cases := []struct {
		name     string
		op       func(a, b *Tensor) (*Tensor, error)
		a, b     []float32
		expected []float32
	}{
		{"Add", Add, []float32{1, 2, 3, 4}, []float32{5, 6, 7, 8}, []float32{6, 8, 10, 12}},
		{"Sub", Sub, []float32{5, 6, 7, 8}, []float32{1, 2, 3, 4}, []float32{4, 4, 4, 4}},
		{"Mul", Mul, []float32{2, 3, 4, 5}, []float32{2, 2, 2, 2}, []float32{4, 6, 8, 10}},
		{"Div", Div, []float32{8, 6, 4, 2}, []float32{2, 2, 2, 2}, []float32{4, 3, 2, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := NewTensor([]int{2, 2}, Float32, tc.a)
			b, _ := NewTensor([]int{2, 2}, Float32, tc.b)

			result, err := tc.op(a, b)
			if err != nil {
				t.Fatalf("%s failed: %v", tc.name, err)
			}
			if got := result.Data.([]float32); !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Result = %v, expected %v", got, tc.expected)
			}
		})
	}
}

func TestElementwiseErrors(t *testing.T) {
	t.Run("Incompatible dtypes", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
		b, _ := NewTensor([]int{2}, Float16, []uint16{0, 0})
		if _, err := Add(a, b); err == nil {
			t.Error("Expected error for incompatible dtypes")
		}
	})

	t.Run("Float16 operands", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float16, []uint16{0, 0})
		b, _ := NewTensor([]int{2}, Float16, []uint16{0, 0})
		if _, err := Mul(a, b); err == nil {
			t.Error("Expected error for Float16 arithmetic")
		}
	})

	t.Run("Division by zero", func(t *testing.T) {
		a, _ := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
		b, _ := NewTensor([]int{2, 2}, Float32, []float32{1, 0, 3, 4})
		if _, err := Div(a, b); err == nil {
			t.Error("Expected error for division by zero")
		}
	})
}

func TestElementwiseEmptyBatch(t *testing.T) {
	a, _ := Zeros([]int{0, 4}, Float32)
	b, _ := Zeros([]int{0, 4}, Float32)

	result, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if result.NumElems != 0 {
		t.Errorf("Expected 0 elements, got %d", result.NumElems)
	}
	if !reflect.DeepEqual(result.Shape, []int{0, 4}) {
		t.Errorf("Shape = %v, expected [0 4]", result.Shape)
	}
}

func TestScale(t *testing.T) {
	a, _ := NewTensor([]int{3}, Float32, []float32{1, -2, 3})

	result, err := Scale(a, 0.5)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	if got := result.Data.([]float32); !reflect.DeepEqual(got, []float32{0.5, -1, 1.5}) {
		t.Errorf("Result = %v, expected [0.5 -1 1.5]", got)
	}
}

func TestClamp(t *testing.T) {
	t.Run("Values limited to range", func(t *testing.T) {
		a, _ := NewTensor([]int{4}, Float32, []float32{-0.5, 0.25, 0.75, 1.5})

		result, err := Clamp(a, 0, 1)
		if err != nil {
			t.Fatalf("Clamp failed: %v", err)
		}
		if got := result.Data.([]float32); !reflect.DeepEqual(got, []float32{0, 0.25, 0.75, 1}) {
			t.Errorf("Result = %v, expected [0 0.25 0.75 1]", got)
		}
	})

	t.Run("Inverted bounds", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
		if _, err := Clamp(a, 1, 0); err == nil {
			t.Error("Expected error for inverted bounds")
		}
	})
}

func TestReLU(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, []float32{-1, 2, -3, 4})

	result, err := ReLU(a)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	if got := result.Data.([]float32); !reflect.DeepEqual(got, []float32{0, 2, 0, 4}) {
		t.Errorf("Result = %v, expected [0 2 0 4]", got)
	}

	half, _ := NewTensor([]int{2}, Float16, []uint16{0, 0})
	if _, err := ReLU(half); err == nil {
		t.Error("Expected error for Float16 dtype")
	}
}
