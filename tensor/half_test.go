package tensor

import (
	"math"
	"testing"
)

func TestFloat16RoundTrip(t *testing.T) {
	t.Run("Exactly representable values survive", func(t *testing.T) {
		// Powers of two and small integers are exact in half precision.
		original, _ := NewTensor([]int{4}, Float32, []float32{0.5, 1.0, -2.0, 1024.0})

		half, err := original.ToFloat16()
		if err != nil {
			t.Fatalf("ToFloat16 failed: %v", err)
		}
		if half.DType != Float16 {
			t.Errorf("DType = %s, expected Float16", half.DType)
		}

		restored, err := half.ToFloat32()
		if err != nil {
			t.Fatalf("ToFloat32 failed: %v", err)
		}

		origData := original.Data.([]float32)
		restData := restored.Data.([]float32)
		for i := range origData {
			if origData[i] != restData[i] {
				t.Errorf("Value %d: %f != %f", i, origData[i], restData[i])
			}
		}
	})

	t.Run("Conversion error stays small", func(t *testing.T) {
		original, _ := NewTensor([]int{3}, Float32, []float32{0.1, -0.33, 0.77})

		half, err := original.ToFloat16()
		if err != nil {
			t.Fatalf("ToFloat16 failed: %v", err)
		}
		restored, err := half.ToFloat32()
		if err != nil {
			t.Fatalf("ToFloat32 failed: %v", err)
		}

		origData := original.Data.([]float32)
		restData := restored.Data.([]float32)
		for i := range origData {
			if math.Abs(float64(origData[i]-restData[i])) > 1e-3 {
				t.Errorf("Value %d drifted by more than 1e-3: %f vs %f", i, origData[i], restData[i])
			}
		}
	})
}

func TestHalfBits(t *testing.T) {
	half, _ := NewTensor([]int{2}, Float16, []uint16{0x3c00, 0x4000}) // 1.0, 2.0

	bits, err := half.HalfBits()
	if err != nil {
		t.Fatalf("HalfBits failed: %v", err)
	}
	if bits[0] != 0x3c00 || bits[1] != 0x4000 {
		t.Errorf("Bits = %v, expected [0x3c00 0x4000]", bits)
	}

	full, _ := NewTensor([]int{1}, Float32, []float32{1})
	if _, err := full.HalfBits(); err == nil {
		t.Error("Expected error for Float32 tensor")
	}
}
