package training_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/symalign/tensor"
	"github.com/tsawler/symalign/training"
)

func TestNewEMAStats(t *testing.T) {
	stats, err := training.NewEMAStats(4, 0.99)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Dim())
	assert.Equal(t, 0.99, stats.Decay())
	assert.False(t, stats.Initialized())

	t.Run("rejects invalid dim", func(t *testing.T) {
		_, err := training.NewEMAStats(0, 0.99)
		assert.Error(t, err)
	})

	t.Run("rejects decay outside (0, 1)", func(t *testing.T) {
		for _, decay := range []float64{0, 1, -0.5, 1.5} {
			_, err := training.NewEMAStats(4, decay)
			assert.Errorf(t, err, "decay %f should be rejected", decay)
		}
	})
}

func TestEMAStatsUpdate(t *testing.T) {
	t.Run("first update seeds state from the batch", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		batch, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{1, 2, 3, 6})
		require.NoError(t, stats.Update(batch))
		require.True(t, stats.Initialized())

		state := stats.State()
		assert.Equal(t, 2.0, state.Mean[0])
		assert.Equal(t, 4.0, state.Mean[1])
		// Population variance: ((1-2)^2 + (3-2)^2) / 2 and ((2-4)^2 + (6-4)^2) / 2
		assert.Equal(t, 1.0, state.Variance[0])
		assert.Equal(t, 4.0, state.Variance[1])
	})

	t.Run("constant batch seeds exact mean and zero variance", func(t *testing.T) {
		stats, err := training.NewEMAStats(3, 0.99)
		require.NoError(t, err)

		batch, _ := tensor.Full([]int{4, 3}, 0.5)
		require.NoError(t, stats.Update(batch))

		state := stats.State()
		for j := 0; j < 3; j++ {
			assert.Equal(t, 0.5, state.Mean[j])
			assert.Equal(t, 0.0, state.Variance[j])
		}
	})

	t.Run("later updates blend with the decay", func(t *testing.T) {
		stats, err := training.NewEMAStats(1, 0.9)
		require.NoError(t, err)

		first, _ := tensor.Full([]int{2, 1}, 2)
		second, _ := tensor.Full([]int{2, 1}, 4)
		require.NoError(t, stats.Update(first))
		require.NoError(t, stats.Update(second))

		state := stats.State()
		// 0.9*2 + 0.1*4
		assert.InDelta(t, 2.2, state.Mean[0], 1e-12)
		assert.InDelta(t, 0.0, state.Variance[0], 1e-12)
	})

	t.Run("empty batch leaves state untouched", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		seed, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{1, 2})
		require.NoError(t, stats.Update(seed))
		before := stats.State()

		empty, _ := tensor.Zeros([]int{0, 2}, tensor.Float32)
		require.NoError(t, stats.Update(empty))
		assert.Equal(t, before, stats.State())
	})

	t.Run("empty batch does not initialize", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		empty, _ := tensor.Zeros([]int{0, 2}, tensor.Float32)
		require.NoError(t, stats.Update(empty))
		assert.False(t, stats.Initialized())
	})

	t.Run("rejects wrong dimensionality", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		batch, _ := tensor.Zeros([]int{2, 3}, tensor.Float32)
		assert.Error(t, stats.Update(batch))

		flat, _ := tensor.Zeros([]int{4}, tensor.Float32)
		assert.Error(t, stats.Update(flat))
	})
}

func TestEMAStatsZScore(t *testing.T) {
	t.Run("fresh statistics fall back to mean 0 variance 1", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		vectors, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{3, -2})
		normalized, mean, variance, err := stats.ZScore(vectors)
		require.NoError(t, err)

		assert.Equal(t, []float64{0, 0}, mean)
		assert.Equal(t, []float64{1, 1}, variance)

		data, err := normalized.GetFloat32Data()
		require.NoError(t, err)
		for _, v := range data {
			assert.False(t, math.IsNaN(float64(v)))
			assert.False(t, math.IsInf(float64(v), 0))
		}
		// (3 - 0) / sqrt(1 + eps)
		assert.InDelta(t, 3.0, float64(data[0]), 1e-4)
		assert.InDelta(t, -2.0, float64(data[1]), 1e-4)
	})

	t.Run("zero variance is guarded by epsilon", func(t *testing.T) {
		stats, err := training.NewEMAStats(1, 0.9)
		require.NoError(t, err)

		seed, _ := tensor.Full([]int{3, 1}, 2)
		require.NoError(t, stats.Update(seed))

		vectors, _ := tensor.NewTensor([]int{2, 1}, tensor.Float32, []float32{2, 3})
		normalized, _, variance, err := stats.ZScore(vectors)
		require.NoError(t, err)
		assert.Equal(t, 0.0, variance[0])

		data, err := normalized.GetFloat32Data()
		require.NoError(t, err)
		assert.InDelta(t, 0.0, float64(data[0]), 1e-6)
		// (3-2)/sqrt(1e-6) = 1000
		assert.InDelta(t, 1000.0, float64(data[1]), 1e-2)
		for _, v := range data {
			assert.False(t, math.IsNaN(float64(v)))
			assert.False(t, math.IsInf(float64(v), 0))
		}
	})

	t.Run("does not mutate state", func(t *testing.T) {
		stats, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)

		seed, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{1, 2, 3, 4})
		require.NoError(t, stats.Update(seed))
		before := stats.State()

		vectors, _ := tensor.Full([]int{5, 2}, 9)
		_, _, _, err = stats.ZScore(vectors)
		require.NoError(t, err)
		assert.Equal(t, before, stats.State())
	})

	t.Run("centers and scales against the running estimate", func(t *testing.T) {
		stats, err := training.NewEMAStats(1, 0.9)
		require.NoError(t, err)

		// Seeds mean 2, variance 1
		seed, _ := tensor.NewTensor([]int{2, 1}, tensor.Float32, []float32{1, 3})
		require.NoError(t, stats.Update(seed))

		vectors, _ := tensor.NewTensor([]int{1, 1}, tensor.Float32, []float32{4})
		normalized, mean, variance, err := stats.ZScore(vectors)
		require.NoError(t, err)
		assert.Equal(t, 2.0, mean[0])
		assert.Equal(t, 1.0, variance[0])

		data, err := normalized.GetFloat32Data()
		require.NoError(t, err)
		assert.InDelta(t, 2.0, float64(data[0]), 1e-4)
	})

	t.Run("empty batch yields empty output", func(t *testing.T) {
		stats, err := training.NewEMAStats(3, 0.9)
		require.NoError(t, err)

		vectors, _ := tensor.Zeros([]int{0, 3}, tensor.Float32)
		normalized, _, _, err := stats.ZScore(vectors)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 3}, normalized.Shape)
	})
}

func TestEMAStatsStateRoundTrip(t *testing.T) {
	stats, err := training.NewEMAStats(3, 0.95)
	require.NoError(t, err)

	batch, _ := tensor.NewTensor([]int{2, 3}, tensor.Float32, []float32{
		0.1, -2.5, 3.75,
		1.9, 0.5, -0.25,
	})
	require.NoError(t, stats.Update(batch))
	state := stats.State()

	t.Run("restore replays the exact state", func(t *testing.T) {
		restored, err := training.NewEMAStats(3, 0.5)
		require.NoError(t, err)
		require.NoError(t, restored.Restore(state))

		assert.Equal(t, state, restored.State())
		assert.Equal(t, 0.95, restored.Decay())
		assert.True(t, restored.Initialized())
	})

	t.Run("JSON round-trip is exact", func(t *testing.T) {
		encoded, err := json.Marshal(state)
		require.NoError(t, err)

		var decoded training.StatsState
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, state, decoded)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		snapshot := stats.State()
		snapshot.Mean[0] = 99
		assert.NotEqual(t, 99.0, stats.State().Mean[0])
	})

	t.Run("restore validates dimensions", func(t *testing.T) {
		other, err := training.NewEMAStats(2, 0.9)
		require.NoError(t, err)
		assert.Error(t, other.Restore(state))

		bad := state
		bad.Decay = 2
		target, err := training.NewEMAStats(3, 0.9)
		require.NoError(t, err)
		assert.Error(t, target.Restore(bad))
	})
}
