package engine

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/symalign/tensor"
)

// Package-level random number generator for reproducible weight initialization
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the seed for weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface for all neural network modules
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// Linear represents a fully connected layer
type Linear struct {
	weight   *tensor.Tensor // [input_size, output_size]
	bias     *tensor.Tensor // [output_size] or nil
	training bool
}

// NewLinear creates a new linear layer with Xavier initialization
func NewLinear(inputSize, outputSize int, useBias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid layer dimensions: input=%d, output=%d", inputSize, outputSize)
	}

	// Xavier uniform initialization
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}

	var bias *tensor.Tensor
	if useBias {
		bias, err = tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
	}

	return &Linear{
		weight:   weight,
		bias:     bias,
		training: true,
	}, nil
}

// Forward performs the linear transformation: output = input * weight + bias
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output, err := tensor.MatMul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("matrix multiplication failed: %v", err)
	}

	if l.bias != nil {
		output, err = tensor.AddBroadcast(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}

	return output, nil
}

// Parameters returns the layer's trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }

// Conv2D represents a 2D convolutional layer
type Conv2D struct {
	weight   *tensor.Tensor // [out_channels, in_channels, kernel_size, kernel_size]
	bias     *tensor.Tensor // [out_channels] or nil
	stride   int
	padding  int
	training bool
}

// NewConv2D creates a new 2D convolutional layer with Xavier initialization
func NewConv2D(inputChannels, outputChannels, kernelSize, stride, padding int, useBias bool) (*Conv2D, error) {
	if inputChannels <= 0 || outputChannels <= 0 || kernelSize <= 0 {
		return nil, fmt.Errorf("invalid conv2d dimensions: in_channels=%d, out_channels=%d, kernel=%d",
			inputChannels, outputChannels, kernelSize)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("padding must be non-negative, got %d", padding)
	}

	// Xavier initialization for conv layers
	fanIn := inputChannels * kernelSize * kernelSize
	fanOut := outputChannels * kernelSize * kernelSize
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	weightData := make([]float32, outputChannels*inputChannels*kernelSize*kernelSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{outputChannels, inputChannels, kernelSize, kernelSize}, tensor.Float32, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create conv weight tensor: %v", err)
	}

	var bias *tensor.Tensor
	if useBias {
		bias, err = tensor.Zeros([]int{outputChannels}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to create conv bias tensor: %v", err)
		}
	}

	return &Conv2D{
		weight:   weight,
		bias:     bias,
		stride:   stride,
		padding:  padding,
		training: true,
	}, nil
}

// Forward performs the 2D convolution
func (c *Conv2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output, err := tensor.Conv2D(input, c.weight, c.bias, c.stride, c.padding)
	if err != nil {
		return nil, fmt.Errorf("convolution failed: %v", err)
	}
	return output, nil
}

// Parameters returns the layer's trainable parameters
func (c *Conv2D) Parameters() []*tensor.Tensor {
	if c.bias != nil {
		return []*tensor.Tensor{c.weight, c.bias}
	}
	return []*tensor.Tensor{c.weight}
}

func (c *Conv2D) Train()           { c.training = true }
func (c *Conv2D) Eval()            { c.training = false }
func (c *Conv2D) IsTraining() bool { return c.training }

// ReLU activation module
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward applies the ReLU activation function
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ReLU(input)
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (r *ReLU) Train()           { r.training = true }
func (r *ReLU) Eval()            { r.training = false }
func (r *ReLU) IsTraining() bool { return r.training }

// MaxPool2D performs 2D max pooling
type MaxPool2D struct {
	kernelSize int
	stride     int
	training   bool
}

// NewMaxPool2D creates a new max pooling layer
func NewMaxPool2D(kernelSize, stride int) (*MaxPool2D, error) {
	if kernelSize <= 0 {
		return nil, fmt.Errorf("kernel size must be positive, got %d", kernelSize)
	}
	if stride <= 0 {
		stride = kernelSize
	}
	return &MaxPool2D{
		kernelSize: kernelSize,
		stride:     stride,
		training:   true,
	}, nil
}

// Forward performs max pooling on 4D input [batch, channels, height, width]
func (mp *MaxPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output, err := tensor.MaxPool2D(input, mp.kernelSize, mp.stride)
	if err != nil {
		return nil, fmt.Errorf("max pooling failed: %v", err)
	}
	return output, nil
}

// Parameters returns empty slice (pooling has no parameters)
func (mp *MaxPool2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (mp *MaxPool2D) Train()           { mp.training = true }
func (mp *MaxPool2D) Eval()            { mp.training = false }
func (mp *MaxPool2D) IsTraining() bool { return mp.training }

// GlobalAvgPool2D averages each channel over its full spatial extent
type GlobalAvgPool2D struct {
	training bool
}

// NewGlobalAvgPool2D creates a new global average pooling layer
func NewGlobalAvgPool2D() *GlobalAvgPool2D {
	return &GlobalAvgPool2D{training: true}
}

// Forward reduces 4D input [batch, channels, height, width] to [batch, channels]
func (gp *GlobalAvgPool2D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output, err := tensor.GlobalAvgPool2D(input)
	if err != nil {
		return nil, fmt.Errorf("global average pooling failed: %v", err)
	}
	return output, nil
}

// Parameters returns empty slice (pooling has no parameters)
func (gp *GlobalAvgPool2D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (gp *GlobalAvgPool2D) Train()           { gp.training = true }
func (gp *GlobalAvgPool2D) Eval()            { gp.training = false }
func (gp *GlobalAvgPool2D) IsTraining() bool { return gp.training }

// Flatten reshapes input to 2D [batch_size, features]
type Flatten struct {
	training bool
}

// NewFlatten creates a new flatten module
func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

// Forward flattens all dimensions except the batch dimension
func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects input with at least 2 dimensions, got shape %v", input.Shape)
	}
	batchSize := input.Shape[0]
	features := 1
	for _, dim := range input.Shape[1:] {
		features *= dim
	}
	return input.Reshape([]int{batchSize, features})
}

// Parameters returns empty slice (flatten has no parameters)
func (f *Flatten) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (f *Flatten) Train()           { f.training = true }
func (f *Flatten) Eval()            { f.training = false }
func (f *Flatten) IsTraining() bool { return f.training }

// L2Norm normalizes each row of a 2D input to unit Euclidean length
type L2Norm struct {
	eps      float64
	training bool
}

// NewL2Norm creates a new row-wise L2 normalization module
func NewL2Norm() *L2Norm {
	return &L2Norm{eps: 1e-12, training: true}
}

// Forward normalizes each row of [batch_size, features] input
func (n *L2Norm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output, err := tensor.NormalizeRows(input, n.eps)
	if err != nil {
		return nil, fmt.Errorf("row normalization failed: %v", err)
	}
	return output, nil
}

// Parameters returns empty slice (normalization has no parameters)
func (n *L2Norm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (n *L2Norm) Train()           { n.training = true }
func (n *L2Norm) Eval()            { n.training = false }
func (n *L2Norm) IsTraining() bool { return n.training }

// Sequential chains multiple modules together
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Add appends a module to the sequence
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	current := input
	for i, module := range s.modules {
		output, err := module.Forward(current)
		if err != nil {
			return nil, fmt.Errorf("error in module %d: %v", i, err)
		}
		current = output
	}
	return current, nil
}

// Parameters returns all parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
