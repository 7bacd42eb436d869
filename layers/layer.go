package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	MaxPool2D
	GlobalAvgPool2D
	L2Norm
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case MaxPool2D:
		return "MaxPool2D"
	case GlobalAvgPool2D:
		return "GlobalAvgPool2D"
	case L2Norm:
		return "L2Norm"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration for the execution engine.
// This is pure configuration - no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// intParam reads an integer layer parameter. Specs decoded from JSON carry
// numbers as float64, so both forms are accepted.
func (ls *LayerSpec) intParam(key string) (int, bool) {
	switch v := ls.Parameters[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (ls *LayerSpec) intParamOr(key string, fallback int) int {
	if v, ok := ls.intParam(key); ok {
		return v
	}
	return fallback
}

func (ls *LayerSpec) boolParamOr(key string, fallback bool) bool {
	if v, ok := ls.Parameters[key].(bool); ok {
		return v
	}
	return fallback
}

// ModelSpec defines a complete network as layer configuration.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// layerInfo is what compilation derives for a single layer.
type layerInfo struct {
	outputShape []int
	paramShapes [][]int
	paramCount  int64
}

// ModelBuilder helps construct network specifications
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder. The batch dimension of
// inputShape is a placeholder; compiled shapes carry it through but the
// engine accepts any batch size, including zero.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
		compiled:   false,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false
	return mb
}

func (mb *ModelBuilder) add(layerType LayerType, name string, params map[string]interface{}) *ModelBuilder {
	if params == nil {
		params = map[string]interface{}{}
	}
	return mb.AddLayer(LayerSpec{Type: layerType, Name: name, Parameters: params})
}

// AddDense adds a dense layer to the model. The input size is derived during
// compilation from whatever shape feeds the layer.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.add(Dense, name, map[string]interface{}{
		"output_size": outputSize,
		"use_bias":    useBias,
	})
}

// AddConv2D adds a Conv2D layer to the model
func (mb *ModelBuilder) AddConv2D(
	outputChannels, kernelSize, stride, padding int,
	useBias bool, name string,
) *ModelBuilder {
	return mb.add(Conv2D, name, map[string]interface{}{
		"output_channels": outputChannels,
		"kernel_size":     kernelSize,
		"stride":          stride,
		"padding":         padding,
		"use_bias":        useBias,
	})
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.add(ReLU, name, nil)
}

// AddMaxPool2D adds a max pooling layer to the model
func (mb *ModelBuilder) AddMaxPool2D(poolSize, stride int, name string) *ModelBuilder {
	return mb.add(MaxPool2D, name, map[string]interface{}{
		"pool_size": poolSize,
		"stride":    stride,
	})
}

// AddGlobalAvgPool2D adds a global average pooling layer that collapses the
// spatial extent, producing [batch, channels]
func (mb *ModelBuilder) AddGlobalAvgPool2D(name string) *ModelBuilder {
	return mb.add(GlobalAvgPool2D, name, nil)
}

// AddL2Norm adds a row-wise L2 normalization layer. The output of every
// sample has unit Euclidean norm.
func (mb *ModelBuilder) AddL2Norm(name string) *ModelBuilder {
	return mb.add(L2Norm, name, nil)
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	for i := range model.Layers {
		layer := &model.Layers[i]
		layer.InputShape = append([]int(nil), currentShape...)

		info, err := deriveLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = info.outputShape
		layer.ParameterShapes = info.paramShapes
		layer.ParameterCount = info.paramCount

		model.ParameterShapes = append(model.ParameterShapes, info.paramShapes...)
		model.TotalParameters += info.paramCount
		currentShape = info.outputShape
	}

	model.OutputShape = currentShape
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

func deriveLayerInfo(layer *LayerSpec, inputShape []int) (layerInfo, error) {
	switch layer.Type {
	case Dense:
		return denseLayerInfo(layer, inputShape)
	case Conv2D:
		return convLayerInfo(layer, inputShape)
	case MaxPool2D:
		return maxPoolLayerInfo(layer, inputShape)
	case GlobalAvgPool2D:
		return globalAvgPoolLayerInfo(inputShape)
	case ReLU, L2Norm:
		// Shape-preserving, parameterless
		return layerInfo{outputShape: append([]int(nil), inputShape...)}, nil
	default:
		return layerInfo{}, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func denseLayerInfo(layer *LayerSpec, inputShape []int) (layerInfo, error) {
	if len(inputShape) < 2 {
		return layerInfo{}, fmt.Errorf("dense layer requires at least 2D input")
	}

	outputSize, ok := layer.intParam("output_size")
	if !ok {
		return layerInfo{}, fmt.Errorf("missing output_size parameter")
	}
	if outputSize <= 0 {
		return layerInfo{}, fmt.Errorf("output_size must be positive, got %d", outputSize)
	}
	useBias := layer.boolParamOr("use_bias", true)

	// Input size flattens all dimensions except batch. A 4D feature map
	// [batch, channels, height, width] feeds a dense layer as
	// channels*height*width features.
	inputSize := 1
	for _, dim := range inputShape[1:] {
		inputSize *= dim
	}
	layer.Parameters["input_size"] = inputSize

	info := layerInfo{
		outputShape: []int{inputShape[0], outputSize},
		paramShapes: [][]int{{inputSize, outputSize}},
		paramCount:  int64(inputSize * outputSize),
	}
	if useBias {
		info.paramShapes = append(info.paramShapes, []int{outputSize})
		info.paramCount += int64(outputSize)
	}
	return info, nil
}

func convLayerInfo(layer *LayerSpec, inputShape []int) (layerInfo, error) {
	if len(inputShape) != 4 {
		return layerInfo{}, fmt.Errorf("Conv2D layer requires 4D input [batch, channels, height, width]")
	}

	outputChannels, ok := layer.intParam("output_channels")
	if !ok {
		return layerInfo{}, fmt.Errorf("missing output_channels parameter")
	}
	kernelSize, ok := layer.intParam("kernel_size")
	if !ok {
		return layerInfo{}, fmt.Errorf("missing kernel_size parameter")
	}
	stride := layer.intParamOr("stride", 1)
	padding := layer.intParamOr("padding", 0)
	useBias := layer.boolParamOr("use_bias", true)

	inputChannels, inputHeight, inputWidth := inputShape[1], inputShape[2], inputShape[3]
	layer.Parameters["input_channels"] = inputChannels

	outputHeight := (inputHeight+2*padding-kernelSize)/stride + 1
	outputWidth := (inputWidth+2*padding-kernelSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return layerInfo{}, fmt.Errorf("kernel %d does not fit input %dx%d with padding %d",
			kernelSize, inputHeight, inputWidth, padding)
	}

	info := layerInfo{
		outputShape: []int{inputShape[0], outputChannels, outputHeight, outputWidth},
		paramShapes: [][]int{{outputChannels, inputChannels, kernelSize, kernelSize}},
		paramCount:  int64(outputChannels * inputChannels * kernelSize * kernelSize),
	}
	if useBias {
		info.paramShapes = append(info.paramShapes, []int{outputChannels})
		info.paramCount += int64(outputChannels)
	}
	return info, nil
}

func maxPoolLayerInfo(layer *LayerSpec, inputShape []int) (layerInfo, error) {
	if len(inputShape) != 4 {
		return layerInfo{}, fmt.Errorf("MaxPool2D layer requires 4D input [batch, channels, height, width]")
	}

	poolSize, ok := layer.intParam("pool_size")
	if !ok {
		return layerInfo{}, fmt.Errorf("missing pool_size parameter")
	}
	stride := layer.intParamOr("stride", poolSize)

	outputHeight := (inputShape[2]-poolSize)/stride + 1
	outputWidth := (inputShape[3]-poolSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return layerInfo{}, fmt.Errorf("pool size %d does not fit input %dx%d",
			poolSize, inputShape[2], inputShape[3])
	}

	return layerInfo{
		outputShape: []int{inputShape[0], inputShape[1], outputHeight, outputWidth},
	}, nil
}

func globalAvgPoolLayerInfo(inputShape []int) (layerInfo, error) {
	if len(inputShape) != 4 {
		return layerInfo{}, fmt.Errorf("GlobalAvgPool2D layer requires 4D input [batch, channels, height, width]")
	}
	return layerInfo{outputShape: []int{inputShape[0], inputShape[1]}}, nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Model Summary:\n")
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		fmt.Fprintf(&sb, "Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		fmt.Fprintf(&sb, "  Input:  %v\n", layer.InputShape)
		fmt.Fprintf(&sb, "  Output: %v\n", layer.OutputShape)
		fmt.Fprintf(&sb, "  Params: %d\n", layer.ParameterCount)
		if len(layer.Parameters) > 0 {
			fmt.Fprintf(&sb, "  Config: %v\n", layer.Parameters)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// ParameterNames returns the checkpoint names of all learnable parameters in
// layer order: "<layer>.weight" followed by "<layer>.bias" when present.
func (ms *ModelSpec) ParameterNames() ([]string, error) {
	if !ms.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}

	var names []string
	for _, layer := range ms.Layers {
		switch len(layer.ParameterShapes) {
		case 0:
			continue
		case 1:
			names = append(names, layer.Name+".weight")
		case 2:
			names = append(names, layer.Name+".weight", layer.Name+".bias")
		default:
			return nil, fmt.Errorf("layer %s has %d parameter tensors, expected at most 2",
				layer.Name, len(layer.ParameterShapes))
		}
	}
	return names, nil
}
