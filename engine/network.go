package engine

import (
	"fmt"

	"github.com/tsawler/symalign/layers"
	"github.com/tsawler/symalign/tensor"
)

// NamedParameter pairs a trainable tensor with its fully qualified name
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Network is an executable model built from a compiled layer specification
type Network struct {
	spec     *layers.ModelSpec
	modules  []Module
	names    []string
	params   []NamedParameter
	training bool
}

// BuildNetwork instantiates runnable modules for every layer in a compiled spec.
// Parameter tensors are initialized with the package random generator, so call
// SetRandomSeed first for reproducible weights.
func BuildNetwork(spec *layers.ModelSpec) (*Network, error) {
	if spec == nil {
		return nil, fmt.Errorf("model spec cannot be nil")
	}
	if !spec.Compiled {
		return nil, fmt.Errorf("model spec must be compiled before building")
	}

	net := &Network{
		spec:     spec,
		training: true,
	}

	for i, layer := range spec.Layers {
		// Dense shape computation flattens trailing dimensions, so a dense
		// layer fed by a 4D producer needs an explicit flatten at runtime.
		if layer.Type == layers.Dense && len(layer.InputShape) > 2 {
			net.modules = append(net.modules, NewFlatten())
			net.names = append(net.names, layer.Name+".flatten")
		}

		module, err := buildModule(layer)
		if err != nil {
			return nil, fmt.Errorf("failed to build layer %d (%s): %v", i, layer.Name, err)
		}
		net.modules = append(net.modules, module)
		net.names = append(net.names, layer.Name)

		moduleParams := module.Parameters()
		switch len(moduleParams) {
		case 0:
		case 1:
			net.params = append(net.params, NamedParameter{Name: layer.Name + ".weight", Tensor: moduleParams[0]})
		case 2:
			net.params = append(net.params,
				NamedParameter{Name: layer.Name + ".weight", Tensor: moduleParams[0]},
				NamedParameter{Name: layer.Name + ".bias", Tensor: moduleParams[1]})
		default:
			return nil, fmt.Errorf("layer %s has %d parameter tensors, expected at most 2", layer.Name, len(moduleParams))
		}
	}

	return net, nil
}

// buildModule creates the runnable module for a single compiled layer spec
func buildModule(layer layers.LayerSpec) (Module, error) {
	switch layer.Type {
	case layers.Dense:
		inputSize, err := intParam(layer.Parameters, "input_size")
		if err != nil {
			return nil, err
		}
		outputSize, err := intParam(layer.Parameters, "output_size")
		if err != nil {
			return nil, err
		}
		useBias, err := boolParam(layer.Parameters, "use_bias")
		if err != nil {
			return nil, err
		}
		return NewLinear(inputSize, outputSize, useBias)

	case layers.Conv2D:
		inputChannels, err := intParam(layer.Parameters, "input_channels")
		if err != nil {
			return nil, err
		}
		outputChannels, err := intParam(layer.Parameters, "output_channels")
		if err != nil {
			return nil, err
		}
		kernelSize, err := intParam(layer.Parameters, "kernel_size")
		if err != nil {
			return nil, err
		}
		stride, err := intParam(layer.Parameters, "stride")
		if err != nil {
			return nil, err
		}
		padding, err := intParam(layer.Parameters, "padding")
		if err != nil {
			return nil, err
		}
		useBias, err := boolParam(layer.Parameters, "use_bias")
		if err != nil {
			return nil, err
		}
		return NewConv2D(inputChannels, outputChannels, kernelSize, stride, padding, useBias)

	case layers.ReLU:
		return NewReLU(), nil

	case layers.MaxPool2D:
		poolSize, err := intParam(layer.Parameters, "pool_size")
		if err != nil {
			return nil, err
		}
		stride, err := intParam(layer.Parameters, "stride")
		if err != nil {
			return nil, err
		}
		return NewMaxPool2D(poolSize, stride)

	case layers.GlobalAvgPool2D:
		return NewGlobalAvgPool2D(), nil

	case layers.L2Norm:
		return NewL2Norm(), nil

	default:
		return nil, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

// intParam reads an integer layer parameter. Specs decoded from JSON carry
// numbers as float64, so both representations are accepted.
func intParam(params map[string]interface{}, key string) (int, error) {
	value, exists := params[key]
	if !exists {
		return 0, fmt.Errorf("missing parameter %s", key)
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %s has unexpected type %T", key, value)
	}
}

// boolParam reads a boolean layer parameter
func boolParam(params map[string]interface{}, key string) (bool, error) {
	value, exists := params[key]
	if !exists {
		return false, fmt.Errorf("missing parameter %s", key)
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s has unexpected type %T", key, value)
	}
	return b, nil
}

// Forward passes input through every layer in order
func (n *Network) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	current := input
	for i, module := range n.modules {
		output, err := module.Forward(current)
		if err != nil {
			return nil, fmt.Errorf("forward failed at layer %d (%s): %v", i, n.names[i], err)
		}
		current = output
	}
	return current, nil
}

// Spec returns the compiled specification this network was built from
func (n *Network) Spec() *layers.ModelSpec {
	return n.spec
}

// Parameters returns all trainable tensors in layer order
func (n *Network) Parameters() []*tensor.Tensor {
	tensors := make([]*tensor.Tensor, len(n.params))
	for i, p := range n.params {
		tensors[i] = p.Tensor
	}
	return tensors
}

// NamedParameters returns all trainable tensors with their qualified names
func (n *Network) NamedParameters() []NamedParameter {
	out := make([]NamedParameter, len(n.params))
	copy(out, n.params)
	return out
}

// SetParameter overwrites the named parameter with the given values
func (n *Network) SetParameter(name string, data []float32) error {
	for _, p := range n.params {
		if p.Name != name {
			continue
		}
		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %s: %v", name, err)
		}
		if len(data) != len(dst) {
			return fmt.Errorf("parameter %s expects %d values, got %d", name, len(dst), len(data))
		}
		copy(dst, data)
		return nil
	}
	return fmt.Errorf("unknown parameter: %s", name)
}

// Train sets all modules to training mode
func (n *Network) Train() {
	n.training = true
	for _, module := range n.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (n *Network) Eval() {
	n.training = false
	for _, module := range n.modules {
		module.Eval()
	}
}

func (n *Network) IsTraining() bool { return n.training }
