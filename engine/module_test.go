package engine_test

import (
	"math"
	"testing"

	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/tensor"
)

func TestLinear(t *testing.T) {
	t.Run("Forward with known weights", func(t *testing.T) {
		linear, err := engine.NewLinear(3, 2, true)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}

		params := linear.Parameters()
		if len(params) != 2 {
			t.Fatalf("Expected 2 parameters, got %d", len(params))
		}

		weightData, err := params[0].GetFloat32Data()
		if err != nil {
			t.Fatalf("GetFloat32Data failed: %v", err)
		}
		copy(weightData, []float32{1, 2, 3, 4, 5, 6}) // [3, 2] row-major

		biasData, err := params[1].GetFloat32Data()
		if err != nil {
			t.Fatalf("GetFloat32Data failed: %v", err)
		}
		copy(biasData, []float32{0.5, -0.5})

		input, _ := tensor.NewTensor([]int{1, 3}, tensor.Float32, []float32{1, 1, 1})
		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		// [1+3+5+0.5, 2+4+6-0.5] = [9.5, 11.5]
		result, _ := output.GetFloat32Data()
		expected := []float32{9.5, 11.5}
		for i, v := range expected {
			if math.Abs(float64(result[i]-v)) > 1e-6 {
				t.Errorf("Output[%d]: expected %f, got %f", i, v, result[i])
			}
		}
	})

	t.Run("Forward without bias", func(t *testing.T) {
		linear, err := engine.NewLinear(2, 2, false)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		if len(linear.Parameters()) != 1 {
			t.Errorf("Expected 1 parameter without bias, got %d", len(linear.Parameters()))
		}
	})

	t.Run("Xavier initialization stays in bound", func(t *testing.T) {
		engine.SetRandomSeed(42)
		linear, err := engine.NewLinear(16, 8, false)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}

		bound := float32(math.Sqrt(6.0 / float64(16+8)))
		weightData, _ := linear.Parameters()[0].GetFloat32Data()
		for i, w := range weightData {
			if w < -bound || w > bound {
				t.Fatalf("Weight[%d] = %f outside Xavier bound %f", i, w, bound)
			}
		}
	})

	t.Run("Seeded initialization is reproducible", func(t *testing.T) {
		engine.SetRandomSeed(7)
		first, err := engine.NewLinear(4, 4, false)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		engine.SetRandomSeed(7)
		second, err := engine.NewLinear(4, 4, false)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}

		firstData, _ := first.Parameters()[0].GetFloat32Data()
		secondData, _ := second.Parameters()[0].GetFloat32Data()
		for i := range firstData {
			if firstData[i] != secondData[i] {
				t.Fatalf("Weights differ at %d despite identical seed", i)
			}
		}
	})

	t.Run("Rejects non-2D input", func(t *testing.T) {
		linear, _ := engine.NewLinear(4, 2, true)
		input, _ := tensor.Zeros([]int{2, 2, 2}, tensor.Float32)
		_, err := linear.Forward(input)
		if err == nil {
			t.Error("Expected error for 3D input")
		}
	})

	t.Run("Rejects invalid dimensions", func(t *testing.T) {
		_, err := engine.NewLinear(0, 4, true)
		if err == nil {
			t.Error("Expected error for zero input size")
		}
	})
}

func TestConv2DModule(t *testing.T) {
	t.Run("Forward preserves spatial size with padding", func(t *testing.T) {
		engine.SetRandomSeed(1)
		conv, err := engine.NewConv2D(3, 8, 3, 1, 1, true)
		if err != nil {
			t.Fatalf("NewConv2D failed: %v", err)
		}

		input, _ := tensor.Zeros([]int{2, 3, 16, 16}, tensor.Float32)
		output, err := conv.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		expectedShape := []int{2, 8, 16, 16}
		for i, dim := range expectedShape {
			if output.Shape[i] != dim {
				t.Errorf("Shape[%d]: expected %d, got %d", i, dim, output.Shape[i])
			}
		}
	})

	t.Run("Has weight and bias parameters", func(t *testing.T) {
		conv, _ := engine.NewConv2D(2, 4, 3, 1, 1, true)
		params := conv.Parameters()
		if len(params) != 2 {
			t.Fatalf("Expected 2 parameters, got %d", len(params))
		}

		expectedWeightShape := []int{4, 2, 3, 3}
		for i, dim := range expectedWeightShape {
			if params[0].Shape[i] != dim {
				t.Errorf("Weight shape[%d]: expected %d, got %d", i, dim, params[0].Shape[i])
			}
		}
		if params[1].Shape[0] != 4 {
			t.Errorf("Bias shape: expected [4], got %v", params[1].Shape)
		}
	})

	t.Run("Rejects invalid configuration", func(t *testing.T) {
		if _, err := engine.NewConv2D(0, 4, 3, 1, 1, true); err == nil {
			t.Error("Expected error for zero input channels")
		}
		if _, err := engine.NewConv2D(3, 4, 3, 0, 1, true); err == nil {
			t.Error("Expected error for zero stride")
		}
		if _, err := engine.NewConv2D(3, 4, 3, 1, -1, true); err == nil {
			t.Error("Expected error for negative padding")
		}
	})
}

func TestPoolingModules(t *testing.T) {
	t.Run("MaxPool2D halves spatial size", func(t *testing.T) {
		pool, err := engine.NewMaxPool2D(2, 2)
		if err != nil {
			t.Fatalf("NewMaxPool2D failed: %v", err)
		}

		input, _ := tensor.Zeros([]int{1, 4, 8, 8}, tensor.Float32)
		output, err := pool.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		expectedShape := []int{1, 4, 4, 4}
		for i, dim := range expectedShape {
			if output.Shape[i] != dim {
				t.Errorf("Shape[%d]: expected %d, got %d", i, dim, output.Shape[i])
			}
		}
	})

	t.Run("MaxPool2D stride defaults to kernel size", func(t *testing.T) {
		pool, err := engine.NewMaxPool2D(3, 0)
		if err != nil {
			t.Fatalf("NewMaxPool2D failed: %v", err)
		}

		input, _ := tensor.Zeros([]int{1, 1, 9, 9}, tensor.Float32)
		output, err := pool.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if output.Shape[2] != 3 || output.Shape[3] != 3 {
			t.Errorf("Expected 3x3 output, got %dx%d", output.Shape[2], output.Shape[3])
		}
	})

	t.Run("GlobalAvgPool2D computes channel means", func(t *testing.T) {
		pool := engine.NewGlobalAvgPool2D()
		input, err := tensor.NewTensor([]int{1, 2, 2, 2}, tensor.Float32, []float32{
			1, 2, 3, 4, // channel 0: mean 2.5
			10, 20, 30, 40, // channel 1: mean 25
		})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		output, err := pool.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		result, _ := output.GetFloat32Data()
		expected := []float32{2.5, 25}
		for i, v := range expected {
			if math.Abs(float64(result[i]-v)) > 1e-6 {
				t.Errorf("Output[%d]: expected %f, got %f", i, v, result[i])
			}
		}
	})
}

func TestFlatten(t *testing.T) {
	t.Run("Flattens conv output", func(t *testing.T) {
		flatten := engine.NewFlatten()
		input, _ := tensor.Zeros([]int{2, 4, 3, 3}, tensor.Float32)
		output, err := flatten.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if output.Shape[0] != 2 || output.Shape[1] != 36 {
			t.Errorf("Expected shape [2, 36], got %v", output.Shape)
		}
	})

	t.Run("Rejects 1D input", func(t *testing.T) {
		flatten := engine.NewFlatten()
		input, _ := tensor.Zeros([]int{4}, tensor.Float32)
		if _, err := flatten.Forward(input); err == nil {
			t.Error("Expected error for 1D input")
		}
	})
}

func TestL2NormModule(t *testing.T) {
	t.Run("Normalizes rows to unit length", func(t *testing.T) {
		norm := engine.NewL2Norm()
		input, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{3, 4, 0, 5})
		output, err := norm.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		result, _ := output.GetFloat32Data()
		expected := []float32{0.6, 0.8, 0, 1}
		for i, v := range expected {
			if math.Abs(float64(result[i]-v)) > 1e-6 {
				t.Errorf("Output[%d]: expected %f, got %f", i, v, result[i])
			}
		}
	})
}

func TestSequential(t *testing.T) {
	t.Run("Chains modules in order", func(t *testing.T) {
		engine.SetRandomSeed(3)
		linear, err := engine.NewLinear(4, 3, true)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}
		model := engine.NewSequential(linear, engine.NewReLU())

		input, _ := tensor.Zeros([]int{2, 4}, tensor.Float32)
		output, err := model.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if output.Shape[0] != 2 || output.Shape[1] != 3 {
			t.Errorf("Expected shape [2, 3], got %v", output.Shape)
		}

		// ReLU output must be non-negative
		result, _ := output.GetFloat32Data()
		for i, v := range result {
			if v < 0 {
				t.Errorf("Output[%d] = %f is negative after ReLU", i, v)
			}
		}
	})

	t.Run("Collects parameters from all modules", func(t *testing.T) {
		first, _ := engine.NewLinear(4, 4, true)
		second, _ := engine.NewLinear(4, 2, false)
		model := engine.NewSequential(first, engine.NewReLU(), second)

		if len(model.Parameters()) != 3 {
			t.Errorf("Expected 3 parameter tensors, got %d", len(model.Parameters()))
		}
	})

	t.Run("Training mode propagates", func(t *testing.T) {
		linear, _ := engine.NewLinear(2, 2, true)
		model := engine.NewSequential(linear)

		model.Eval()
		if model.IsTraining() || linear.IsTraining() {
			t.Error("Eval should propagate to child modules")
		}

		model.Train()
		if !model.IsTraining() || !linear.IsTraining() {
			t.Error("Train should propagate to child modules")
		}
	})
}
