package encoder

import (
	"encoding/json"
	"fmt"
)

// FusionVariant selects how the two branch embeddings are combined
type FusionVariant int

const (
	FusionMLP FusionVariant = iota
	FusionAttention
)

// String returns a human-readable fusion variant name
func (f FusionVariant) String() string {
	switch f {
	case FusionMLP:
		return "mlp"
	case FusionAttention:
		return "attention"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// ParseFusionVariant converts a variant name to its enum value
func ParseFusionVariant(name string) (FusionVariant, error) {
	switch name {
	case "mlp":
		return FusionMLP, nil
	case "attention":
		return FusionAttention, nil
	default:
		return 0, fmt.Errorf("unknown fusion variant: %s", name)
	}
}

// MarshalJSON encodes the variant as its name
func (f FusionVariant) MarshalJSON() ([]byte, error) {
	switch f {
	case FusionMLP, FusionAttention:
		return json.Marshal(f.String())
	default:
		return nil, fmt.Errorf("cannot marshal unknown fusion variant %d", int(f))
	}
}

// UnmarshalJSON decodes a variant from its name
func (f *FusionVariant) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	variant, err := ParseFusionVariant(name)
	if err != nil {
		return err
	}
	*f = variant
	return nil
}

// OutputChannel selects one of the three embeddings an encoder pass produces
type OutputChannel int

const (
	Fused OutputChannel = iota
	MaskOnly
	ImageOnly
)

// String returns a human-readable output channel name
func (c OutputChannel) String() string {
	switch c {
	case Fused:
		return "fused"
	case MaskOnly:
		return "mask"
	case ImageOnly:
		return "image"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ParseOutputChannel converts a channel name to its enum value
func ParseOutputChannel(name string) (OutputChannel, error) {
	switch name {
	case "fused":
		return Fused, nil
	case "mask":
		return MaskOnly, nil
	case "image":
		return ImageOnly, nil
	default:
		return 0, fmt.Errorf("unknown output channel: %s", name)
	}
}

// MarshalJSON encodes the channel as its name
func (c OutputChannel) MarshalJSON() ([]byte, error) {
	switch c {
	case Fused, MaskOnly, ImageOnly:
		return json.Marshal(c.String())
	default:
		return nil, fmt.Errorf("cannot marshal unknown output channel %d", int(c))
	}
}

// UnmarshalJSON decodes a channel from its name
func (c *OutputChannel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	channel, err := ParseOutputChannel(name)
	if err != nil {
		return err
	}
	*c = channel
	return nil
}

// MultiModalConfig describes the encoder architecture
type MultiModalConfig struct {
	EmbedDim   int           `json:"embed_dim"`
	MaskWidth  int           `json:"mask_width"`
	ImageWidth int           `json:"image_width"`
	Fusion     FusionVariant `json:"fusion"`
}

// DefaultMultiModalConfig returns the standard encoder configuration
func DefaultMultiModalConfig() MultiModalConfig {
	return MultiModalConfig{
		EmbedDim:   64,
		MaskWidth:  32,
		ImageWidth: 32,
		Fusion:     FusionMLP,
	}
}

// Validate checks the configuration for usable values
func (c MultiModalConfig) Validate() error {
	if c.EmbedDim <= 0 {
		return fmt.Errorf("embed_dim must be positive, got %d", c.EmbedDim)
	}
	if c.MaskWidth <= 0 {
		return fmt.Errorf("mask_width must be positive, got %d", c.MaskWidth)
	}
	if c.ImageWidth <= 0 {
		return fmt.Errorf("image_width must be positive, got %d", c.ImageWidth)
	}
	switch c.Fusion {
	case FusionMLP, FusionAttention:
	default:
		return fmt.Errorf("unknown fusion variant: %d", int(c.Fusion))
	}
	return nil
}
