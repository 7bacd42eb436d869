package training

import (
	"fmt"
	"math"

	"github.com/tsawler/symalign/tensor"
)

// Loss interface defines methods that all loss functions must implement
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// HuberLoss is quadratic for residuals inside delta and linear outside,
// which bounds the gradient magnitude for outliers.
type HuberLoss struct {
	delta     float64
	reduction string // "mean" or "sum"
}

// NewHuberLoss creates a Huber loss with the given delta. An empty
// reduction defaults to "mean".
func NewHuberLoss(delta float64, reduction string) (*HuberLoss, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("delta must be positive, got %f", delta)
	}
	if reduction == "" {
		reduction = "mean"
	}
	if reduction != "mean" && reduction != "sum" {
		return nil, fmt.Errorf("reduction must be \"mean\" or \"sum\", got %q", reduction)
	}
	return &HuberLoss{delta: delta, reduction: reduction}, nil
}

// Delta returns the quadratic-to-linear transition point
func (h *HuberLoss) Delta() float64 {
	return h.delta
}

// Reduction returns the configured reduction mode
func (h *HuberLoss) Reduction() string {
	return h.reduction
}

// Forward computes the Huber loss between predicted and target tensors.
// An empty input reduces to a scalar 0.
func (h *HuberLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(predicted, target); err != nil {
		return nil, err
	}

	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("subtraction failed: %v", err)
	}
	return h.Apply(diff)
}

// Apply reduces a tensor of residuals to the scalar Huber cost. This is the
// target-zero form used when the residuals are computed upstream.
func (h *HuberLoss) Apply(residuals *tensor.Tensor) (*tensor.Tensor, error) {
	if residuals.DType != tensor.Float32 {
		return nil, fmt.Errorf("unsupported dtype for huber loss: %s", residuals.DType)
	}

	data, err := residuals.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	var total float64
	for _, v := range data {
		e := math.Abs(float64(v))
		if e <= h.delta {
			total += 0.5 * e * e
		} else {
			total += h.delta * (e - 0.5*h.delta)
		}
	}

	if h.reduction == "mean" && len(data) > 0 {
		total /= float64(len(data))
	}

	return tensor.FromScalar(float32(total)), nil
}

// Backward computes the gradient of the Huber loss with respect to the
// predicted tensor. The gradient of each element is its residual clamped
// to [-delta, delta], scaled by the reduction factor.
func (h *HuberLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkPair(predicted, target); err != nil {
		return nil, err
	}

	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("gradient subtraction failed: %v", err)
	}

	grad, err := tensor.Clamp(diff, float32(-h.delta), float32(h.delta))
	if err != nil {
		return nil, fmt.Errorf("gradient clamp failed: %v", err)
	}

	if h.reduction == "mean" && grad.NumElems > 0 {
		grad, err = tensor.Scale(grad, float32(1.0/float64(grad.NumElems)))
		if err != nil {
			return nil, fmt.Errorf("gradient scaling failed: %v", err)
		}
	}

	return grad, nil
}

// checkPair validates that two tensors agree in dtype and shape
func checkPair(predicted, target *tensor.Tensor) error {
	if predicted.DType != target.DType {
		return fmt.Errorf("predicted and target tensors must have the same dtype")
	}
	if len(predicted.Shape) != len(target.Shape) {
		return fmt.Errorf("predicted and target tensors must have the same shape")
	}
	for i, dim := range predicted.Shape {
		if dim != target.Shape[i] {
			return fmt.Errorf("predicted and target tensors must have the same shape")
		}
	}
	return nil
}
