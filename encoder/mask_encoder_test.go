package encoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/symalign/encoder"
	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/layers"
	"github.com/tsawler/symalign/tensor"
)

func TestDefaultMaskEncoder(t *testing.T) {
	engine.SetRandomSeed(21)
	maskEncoder, err := encoder.NewDefaultMaskEncoder(4, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, maskEncoder.EmbedDim())

	pairs, err := tensor.Random([]int{2, 2, 16, 16}, tensor.Float32)
	require.NoError(t, err)

	emb, err := maskEncoder.EncodeMasks(pairs)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8}, emb.Shape)

	for i, norm := range rowNorms(t, emb) {
		assert.InDeltaf(t, 1.0, norm, 1e-3, "row %d should be unit length", i)
	}
}

func TestMaskEncoderShapeValidation(t *testing.T) {
	engine.SetRandomSeed(21)
	maskEncoder, err := encoder.NewDefaultMaskEncoder(4, 8)
	require.NoError(t, err)

	t.Run("rejects 3D input", func(t *testing.T) {
		pairs, _ := tensor.Zeros([]int{2, 16, 16}, tensor.Float32)
		_, err := maskEncoder.EncodeMasks(pairs)
		assert.Error(t, err)
	})

	t.Run("rejects wrong channel count", func(t *testing.T) {
		pairs, _ := tensor.Zeros([]int{2, 3, 16, 16}, tensor.Float32)
		_, err := maskEncoder.EncodeMasks(pairs)
		assert.Error(t, err)
	})
}

func TestMaskEncoderNormContract(t *testing.T) {
	// A head with no normalization layer and constant weights produces rows
	// far from unit length, which the adapter must reject.
	spec, err := layers.NewModelBuilder([]int{1, 2, 4, 4}).
		AddDense(8, true, "head").
		Compile()
	require.NoError(t, err)

	net, err := engine.BuildNetwork(spec)
	require.NoError(t, err)

	weights := make([]float32, 32*8)
	for i := range weights {
		weights[i] = 0.5
	}
	require.NoError(t, net.SetParameter("head.weight", weights))

	maskEncoder, err := encoder.NewNetworkMaskEncoder(net, 8)
	require.NoError(t, err)

	pairs, err := tensor.Ones([]int{1, 2, 4, 4}, tensor.Float32)
	require.NoError(t, err)

	_, err = maskEncoder.EncodeMasks(pairs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalization")
}

func TestNewNetworkMaskEncoderValidation(t *testing.T) {
	_, err := encoder.NewNetworkMaskEncoder(nil, 8)
	assert.Error(t, err)

	spec, err := layers.NewModelBuilder([]int{1, 2}).
		AddDense(4, true, "head").
		Compile()
	require.NoError(t, err)
	net, err := engine.BuildNetwork(spec)
	require.NoError(t, err)

	_, err = encoder.NewNetworkMaskEncoder(net, 0)
	assert.Error(t, err)
}
