package encoder_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/symalign/encoder"
)

func TestDefaultMultiModalConfig(t *testing.T) {
	config := encoder.DefaultMultiModalConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 64, config.EmbedDim)
	assert.Equal(t, 32, config.MaskWidth)
	assert.Equal(t, 32, config.ImageWidth)
	assert.Equal(t, encoder.FusionMLP, config.Fusion)
}

func TestMultiModalConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*encoder.MultiModalConfig)
	}{
		{"zero embed dim", func(c *encoder.MultiModalConfig) { c.EmbedDim = 0 }},
		{"negative mask width", func(c *encoder.MultiModalConfig) { c.MaskWidth = -1 }},
		{"zero image width", func(c *encoder.MultiModalConfig) { c.ImageWidth = 0 }},
		{"unknown fusion", func(c *encoder.MultiModalConfig) { c.Fusion = encoder.FusionVariant(99) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := encoder.DefaultMultiModalConfig()
			tc.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestFusionVariantJSON(t *testing.T) {
	config := encoder.DefaultMultiModalConfig()
	config.Fusion = encoder.FusionAttention

	data, err := json.Marshal(config)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fusion":"attention"`)

	var decoded encoder.MultiModalConfig
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, config, decoded)
}

func TestFusionVariantJSONRejectsUnknown(t *testing.T) {
	var config encoder.MultiModalConfig
	err := json.Unmarshal([]byte(`{"embed_dim":8,"mask_width":4,"image_width":4,"fusion":"bilinear"}`), &config)
	assert.Error(t, err)
}

func TestParseFusionVariant(t *testing.T) {
	variant, err := encoder.ParseFusionVariant("mlp")
	require.NoError(t, err)
	assert.Equal(t, encoder.FusionMLP, variant)

	variant, err = encoder.ParseFusionVariant("attention")
	require.NoError(t, err)
	assert.Equal(t, encoder.FusionAttention, variant)

	_, err = encoder.ParseFusionVariant("concat")
	assert.Error(t, err)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "mlp", encoder.FusionMLP.String())
	assert.Equal(t, "attention", encoder.FusionAttention.String())
	assert.Equal(t, "fused", encoder.Fused.String())
	assert.Equal(t, "mask", encoder.MaskOnly.String())
	assert.Equal(t, "image", encoder.ImageOnly.String())
}
