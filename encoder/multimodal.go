package encoder

import (
	"fmt"

	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/tensor"
)

// Embeddings holds the three embeddings produced by one encoder pass.
// All three are computed on every call regardless of which one a caller
// consumes.
type Embeddings struct {
	Fused *tensor.Tensor
	Mask  *tensor.Tensor
	Image *tensor.Tensor
}

// Select returns the embedding for an output channel
func (e *Embeddings) Select(channel OutputChannel) (*tensor.Tensor, error) {
	switch channel {
	case Fused:
		return e.Fused, nil
	case MaskOnly:
		return e.Mask, nil
	case ImageOnly:
		return e.Image, nil
	default:
		return nil, fmt.Errorf("unknown output channel: %d", int(channel))
	}
}

// MultiModalEncoder fuses an RGB image region with a two-channel mask pair.
// The mask branch is an injected frozen collaborator; the image branch and
// fusion head hold this encoder's trainable parameters.
type MultiModalEncoder struct {
	config      MultiModalConfig
	maskEncoder MaskEncoder
	imageBranch *ImageEncoder
	fusion      Fusion
}

// NewMultiModalEncoder builds the image branch and fusion head for a config
// and wires in the injected mask encoder.
func NewMultiModalEncoder(config MultiModalConfig, maskEncoder MaskEncoder) (*MultiModalEncoder, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	if maskEncoder == nil {
		return nil, fmt.Errorf("mask encoder cannot be nil")
	}
	if maskEncoder.EmbedDim() != config.EmbedDim {
		return nil, fmt.Errorf("mask encoder produces %d-dim embeddings, config expects %d",
			maskEncoder.EmbedDim(), config.EmbedDim)
	}

	imageBranch, err := NewImageEncoder(config.ImageWidth, config.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("failed to build image branch: %v", err)
	}
	fusion, err := NewFusion(config.Fusion, config.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("failed to build fusion head: %v", err)
	}

	return &MultiModalEncoder{
		config:      config,
		maskEncoder: maskEncoder,
		imageBranch: imageBranch,
		fusion:      fusion,
	}, nil
}

// Forward encodes a batch of paired inputs. Images are shaped
// [batch, 3, height, width] and mask pairs [batch, 2, height, width] with
// matching batch and spatial sizes. The first mask channel is clamped to
// [0, 1] and multiplied into the image before the image branch runs; the
// mask branch sees the raw pair.
func (m *MultiModalEncoder) Forward(images, maskPairs *tensor.Tensor) (*Embeddings, error) {
	if err := m.checkInputs(images, maskPairs); err != nil {
		return nil, err
	}

	maskEmb, err := m.maskEncoder.EncodeMasks(maskPairs)
	if err != nil {
		return nil, err
	}
	if len(maskEmb.Shape) != 2 || maskEmb.Shape[0] != maskPairs.Shape[0] || maskEmb.Shape[1] != m.config.EmbedDim {
		return nil, fmt.Errorf("mask encoder produced shape %v, expected [%d, %d]",
			maskEmb.Shape, maskPairs.Shape[0], m.config.EmbedDim)
	}

	masked, err := m.maskImage(images, maskPairs)
	if err != nil {
		return nil, err
	}
	imageEmb, err := m.imageBranch.Encode(masked)
	if err != nil {
		return nil, err
	}

	fused, err := m.fusion.Fuse(maskEmb, imageEmb)
	if err != nil {
		return nil, fmt.Errorf("fusion failed: %v", err)
	}

	return &Embeddings{
		Fused: fused,
		Mask:  maskEmb,
		Image: imageEmb,
	}, nil
}

// checkInputs validates the paired batch shapes
func (m *MultiModalEncoder) checkInputs(images, maskPairs *tensor.Tensor) error {
	if len(images.Shape) != 4 {
		return fmt.Errorf("images must be 4D [batch, 3, height, width], got shape %v", images.Shape)
	}
	if images.Shape[1] != 3 {
		return fmt.Errorf("images must have 3 channels, got %d", images.Shape[1])
	}
	if len(maskPairs.Shape) != 4 {
		return fmt.Errorf("mask pairs must be 4D [batch, 2, height, width], got shape %v", maskPairs.Shape)
	}
	if maskPairs.Shape[1] != 2 {
		return fmt.Errorf("mask pairs must have 2 channels, got %d", maskPairs.Shape[1])
	}
	if images.Shape[0] != maskPairs.Shape[0] {
		return fmt.Errorf("batch size mismatch: %d images vs %d mask pairs", images.Shape[0], maskPairs.Shape[0])
	}
	if images.Shape[2] != maskPairs.Shape[2] || images.Shape[3] != maskPairs.Shape[3] {
		return fmt.Errorf("spatial size mismatch: images %dx%d vs masks %dx%d",
			images.Shape[2], images.Shape[3], maskPairs.Shape[2], maskPairs.Shape[3])
	}
	return nil
}

// maskImage multiplies the clamped first mask channel into every image channel
func (m *MultiModalEncoder) maskImage(images, maskPairs *tensor.Tensor) (*tensor.Tensor, error) {
	prob, err := tensor.Narrow(maskPairs, 1, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to select mask channel: %v", err)
	}
	clamped, err := tensor.Clamp(prob, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to clamp mask channel: %v", err)
	}
	masked, err := tensor.MulBroadcast(images, clamped)
	if err != nil {
		return nil, fmt.Errorf("failed to mask image: %v", err)
	}
	return masked, nil
}

// Config returns the encoder configuration
func (m *MultiModalEncoder) Config() MultiModalConfig {
	return m.config
}

// ImageBranch returns the trainable image encoder
func (m *MultiModalEncoder) ImageBranch() *ImageEncoder {
	return m.imageBranch
}

// FusionHead returns the trainable fusion module
func (m *MultiModalEncoder) FusionHead() Fusion {
	return m.fusion
}

// MaskBranch returns the injected frozen mask encoder
func (m *MultiModalEncoder) MaskBranch() MaskEncoder {
	return m.maskEncoder
}

// NamedParameters returns all trainable tensors with qualified names.
// Mask encoder parameters are excluded: that branch is frozen.
func (m *MultiModalEncoder) NamedParameters() []engine.NamedParameter {
	var params []engine.NamedParameter
	for _, p := range m.imageBranch.NamedParameters() {
		params = append(params, engine.NamedParameter{Name: "image." + p.Name, Tensor: p.Tensor})
	}
	for _, p := range m.fusion.NamedParameters() {
		params = append(params, engine.NamedParameter{Name: "fusion." + p.Name, Tensor: p.Tensor})
	}
	return params
}

// SetParameter overwrites one named trainable tensor with the given values
func (m *MultiModalEncoder) SetParameter(name string, data []float32) error {
	for _, p := range m.NamedParameters() {
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
