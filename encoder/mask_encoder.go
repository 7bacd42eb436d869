package encoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/layers"
	"github.com/tsawler/symalign/tensor"
)

// normTolerance is the allowed deviation from unit length for embeddings
// produced by an injected mask encoder.
const normTolerance = 1e-3

// MaskEncoder embeds a two-channel mask pair into normalized feature space.
// Implementations receive batches shaped [batch, 2, height, width] and must
// return unit-length rows shaped [batch, embed_dim]. The alignment trainer
// treats mask encoders as frozen: their parameters are never updated.
type MaskEncoder interface {
	EncodeMasks(pairs *tensor.Tensor) (*tensor.Tensor, error)
	EmbedDim() int
}

// NetworkMaskEncoder adapts an executable network to the MaskEncoder
// contract, checking the shape and normalization guarantees on every call.
type NetworkMaskEncoder struct {
	net      *engine.Network
	embedDim int
}

// NewNetworkMaskEncoder wraps a network whose output is [batch, embedDim]
func NewNetworkMaskEncoder(net *engine.Network, embedDim int) (*NetworkMaskEncoder, error) {
	if net == nil {
		return nil, fmt.Errorf("network cannot be nil")
	}
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed dim must be positive, got %d", embedDim)
	}
	return &NetworkMaskEncoder{net: net, embedDim: embedDim}, nil
}

// NewDefaultMaskEncoder builds a fresh convolutional mask encoder with the
// same stack shape as the image branch, adapted to two input channels.
// Weights are randomly initialized; callers typically overwrite them from a
// checkpoint.
func NewDefaultMaskEncoder(width, embedDim int) (*NetworkMaskEncoder, error) {
	spec, err := buildBranchSpec(2, width, embedDim)
	if err != nil {
		return nil, fmt.Errorf("failed to build mask encoder spec: %v", err)
	}
	net, err := engine.BuildNetwork(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build mask encoder network: %v", err)
	}
	return &NetworkMaskEncoder{net: net, embedDim: embedDim}, nil
}

// buildBranchSpec compiles the shared conv-stack architecture used by both
// encoder branches. The 32x32 input size is nominal: every layer in the
// stack is size-agnostic at runtime, so compiled networks accept any
// spatial extent large enough to survive the two pooling stages.
func buildBranchSpec(inputChannels, width, embedDim int) (*layers.ModelSpec, error) {
	return layers.NewModelBuilder([]int{1, inputChannels, 32, 32}).
		AddConv2D(width, 3, 1, 1, true, "conv1").
		AddReLU("relu1").
		AddConv2D(width, 3, 1, 1, true, "conv2").
		AddReLU("relu2").
		AddMaxPool2D(2, 2, "pool1").
		AddConv2D(2*width, 3, 1, 1, true, "conv3").
		AddReLU("relu3").
		AddMaxPool2D(2, 2, "pool2").
		AddConv2D(2*width, 3, 1, 1, true, "conv4").
		AddReLU("relu4").
		AddGlobalAvgPool2D("gap").
		AddDense(embedDim, true, "head").
		AddL2Norm("norm").
		Compile()
}

// EncodeMasks runs the wrapped network and validates its output contract
func (e *NetworkMaskEncoder) EncodeMasks(pairs *tensor.Tensor) (*tensor.Tensor, error) {
	if len(pairs.Shape) != 4 {
		return nil, fmt.Errorf("mask pairs must be 4D [batch, 2, height, width], got shape %v", pairs.Shape)
	}
	if pairs.Shape[1] != 2 {
		return nil, fmt.Errorf("mask pairs must have 2 channels, got %d", pairs.Shape[1])
	}

	output, err := e.net.Forward(pairs)
	if err != nil {
		return nil, fmt.Errorf("mask encoder forward failed: %v", err)
	}

	if len(output.Shape) != 2 || output.Shape[0] != pairs.Shape[0] || output.Shape[1] != e.embedDim {
		return nil, fmt.Errorf("mask encoder produced shape %v, expected [%d, %d]",
			output.Shape, pairs.Shape[0], e.embedDim)
	}
	if err := checkRowsNormalized(output); err != nil {
		return nil, fmt.Errorf("mask encoder output violates normalization contract: %v", err)
	}

	return output, nil
}

// EmbedDim returns the embedding width this encoder produces
func (e *NetworkMaskEncoder) EmbedDim() int {
	return e.embedDim
}

// Network exposes the wrapped network for weight loading
func (e *NetworkMaskEncoder) Network() *engine.Network {
	return e.net
}

// checkRowsNormalized verifies every row of a 2D tensor has unit length
func checkRowsNormalized(t *tensor.Tensor) error {
	data, err := t.GetFloat32Data()
	if err != nil {
		return err
	}

	rows, cols := t.Shape[0], t.Shape[1]
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = float64(data[i*cols+j])
		}
		norm := floats.Norm(row, 2)
		if math.Abs(norm-1.0) > normTolerance {
			return fmt.Errorf("row %d has norm %f", i, norm)
		}
	}
	return nil
}
