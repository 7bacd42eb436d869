package encoder

import (
	"fmt"

	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/layers"
	"github.com/tsawler/symalign/tensor"
)

// ImageEncoder embeds RGB image regions into normalized feature space.
// The network widens from 3 channels to width, pools twice, doubles the
// channel count, then reduces to a dense embedding head.
type ImageEncoder struct {
	net      *engine.Network
	embedDim int
	width    int
}

// NewImageEncoder builds a randomly initialized image branch
func NewImageEncoder(width, embedDim int) (*ImageEncoder, error) {
	if width <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", width)
	}
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed dim must be positive, got %d", embedDim)
	}

	spec, err := buildBranchSpec(3, width, embedDim)
	if err != nil {
		return nil, fmt.Errorf("failed to build image encoder spec: %v", err)
	}
	net, err := engine.BuildNetwork(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to build image encoder network: %v", err)
	}

	return &ImageEncoder{
		net:      net,
		embedDim: embedDim,
		width:    width,
	}, nil
}

// Encode embeds a batch of images shaped [batch, 3, height, width]
func (e *ImageEncoder) Encode(images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("images must be 4D [batch, 3, height, width], got shape %v", images.Shape)
	}
	if images.Shape[1] != 3 {
		return nil, fmt.Errorf("images must have 3 channels, got %d", images.Shape[1])
	}

	output, err := e.net.Forward(images)
	if err != nil {
		return nil, fmt.Errorf("image encoder forward failed: %v", err)
	}
	return output, nil
}

// EmbedDim returns the embedding width this encoder produces
func (e *ImageEncoder) EmbedDim() int {
	return e.embedDim
}

// Width returns the base channel width of the conv stack
func (e *ImageEncoder) Width() int {
	return e.width
}

// Spec returns the compiled architecture description
func (e *ImageEncoder) Spec() *layers.ModelSpec {
	return e.net.Spec()
}

// Network exposes the underlying network for weight loading
func (e *ImageEncoder) Network() *engine.Network {
	return e.net
}

// NamedParameters returns the branch's trainable tensors with their names
func (e *ImageEncoder) NamedParameters() []engine.NamedParameter {
	return e.net.NamedParameters()
}
