package masks_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/symalign/tensor"
	"github.com/tsawler/symalign/vision/masks"
)

// grid builds a height*width buffer with ones at the given (y, x) points
func grid(height, width int, points ...[2]int) []float32 {
	out := make([]float32, height*width)
	for _, p := range points {
		out[p[0]*width+p[1]] = 1
	}
	return out
}

// square fills a size x size block of ones with its top-left corner at (y, x)
func square(height, width, y, x, size int) []float32 {
	out := make([]float32, height*width)
	for dy := 0; dy < size; dy++ {
		for dx := 0; dx < size; dx++ {
			out[(y+dy)*width+(x+dx)] = 1
		}
	}
	return out
}

func TestThreshold(t *testing.T) {
	values := []float32{0.0, 0.5, 0.50001, 0.6, 1.0, -0.2, 2.0}
	expected := []float32{0, 0, 1, 1, 1, 0, 1}
	assert.Equal(t, expected, masks.Threshold(values, 0.5))
}

func TestBoundaryBand(t *testing.T) {
	t.Run("square mask produces ring", func(t *testing.T) {
		// 3x3 square centered in 7x7: dilation grows it to 5x5, erosion
		// shrinks it to the center pixel, so the band is the 5x5 block
		// minus the center.
		mask := square(7, 7, 2, 2, 3)
		band := masks.BoundaryBand(mask, 7, 7, 1)

		expected := square(7, 7, 1, 1, 5)
		expected[3*7+3] = 0
		assert.Equal(t, expected, band)
	})

	t.Run("wider band grows the ring", func(t *testing.T) {
		// Two iterations dilate a single pixel into a 5x5 block and erode
		// it away entirely.
		mask := grid(9, 9, [2]int{4, 4})
		band := masks.BoundaryBand(mask, 9, 9, 2)
		assert.Equal(t, square(9, 9, 2, 2, 5), band)
	})

	t.Run("full mask has no band", func(t *testing.T) {
		// Replicated borders keep edge pixels solid under erosion, so a
		// mask covering the whole image produces nothing.
		mask := make([]float32, 6*6)
		for i := range mask {
			mask[i] = 1
		}
		band := masks.BoundaryBand(mask, 6, 6, 1)
		assert.Equal(t, make([]float32, 6*6), band)
	})

	t.Run("empty mask has no band", func(t *testing.T) {
		band := masks.BoundaryBand(make([]float32, 5*5), 5, 5, 1)
		assert.Equal(t, make([]float32, 5*5), band)
	})

	t.Run("soft values harden at 0.5", func(t *testing.T) {
		// 0.4 drops to 0 and 0.6 rises to 1, so only the 0.6 block
		// contributes a contour.
		mask := make([]float32, 7*7)
		for i := range mask {
			mask[i] = 0.4
		}
		for dy := 2; dy <= 4; dy++ {
			for dx := 2; dx <= 4; dx++ {
				mask[dy*7+dx] = 0.6
			}
		}
		band := masks.BoundaryBand(mask, 7, 7, 1)

		expected := square(7, 7, 1, 1, 5)
		expected[3*7+3] = 0
		assert.Equal(t, expected, band)
	})

	t.Run("output is binary and stable under rethreshold", func(t *testing.T) {
		mask := square(8, 8, 3, 3, 2)
		band := masks.BoundaryBand(mask, 8, 8, 1)
		for _, v := range band {
			assert.Contains(t, []float32{0, 1}, v)
		}
		assert.Equal(t, band, masks.Threshold(band, 0.5))
	})

	t.Run("zero width yields nothing", func(t *testing.T) {
		mask := square(7, 7, 2, 2, 3)
		band := masks.BoundaryBand(mask, 7, 7, 0)
		assert.Equal(t, make([]float32, 7*7), band)
	})
}

func TestBoundaryFromProb(t *testing.T) {
	t.Run("matches per-sample extraction", func(t *testing.T) {
		first := square(6, 6, 1, 1, 3)
		second := grid(6, 6, [2]int{3, 3})

		data := make([]float32, 0, 2*36)
		data = append(data, first...)
		data = append(data, second...)
		prob, err := tensor.NewTensor([]int{2, 1, 6, 6}, tensor.Float32, data)
		require.NoError(t, err)

		out, err := masks.BoundaryFromProb(prob, 1)
		require.NoError(t, err)
		require.Equal(t, []int{2, 1, 6, 6}, out.Shape)

		result, err := out.GetFloat32Data()
		require.NoError(t, err)
		assert.Equal(t, masks.BoundaryBand(first, 6, 6, 1), result[:36])
		assert.Equal(t, masks.BoundaryBand(second, 6, 6, 1), result[36:])
	})

	t.Run("empty batch short-circuits", func(t *testing.T) {
		prob, err := tensor.Zeros([]int{0, 1, 8, 8}, tensor.Float32)
		require.NoError(t, err)

		out, err := masks.BoundaryFromProb(prob, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 8, 8}, out.Shape)
	})

	t.Run("rejects multi-channel input", func(t *testing.T) {
		prob, err := tensor.Zeros([]int{2, 2, 8, 8}, tensor.Float32)
		require.NoError(t, err)
		_, err = masks.BoundaryFromProb(prob, 1)
		assert.Error(t, err)
	})

	t.Run("rejects negative band width", func(t *testing.T) {
		prob, err := tensor.Zeros([]int{1, 1, 8, 8}, tensor.Float32)
		require.NoError(t, err)
		_, err = masks.BoundaryFromProb(prob, -1)
		assert.Error(t, err)
	})
}

func TestBoundaryFromProbParallel(t *testing.T) {
	t.Run("matches serial result", func(t *testing.T) {
		data := make([]float32, 0, 8*49)
		for b := 0; b < 8; b++ {
			data = append(data, square(7, 7, b%3, b%4, 3)...)
		}
		prob, err := tensor.NewTensor([]int{8, 1, 7, 7}, tensor.Float32, data)
		require.NoError(t, err)

		serial, err := masks.BoundaryFromProb(prob, 1)
		require.NoError(t, err)
		parallel, err := masks.BoundaryFromProbParallel(context.Background(), prob, 1, 3)
		require.NoError(t, err)

		eq, err := serial.Equal(parallel)
		require.NoError(t, err)
		assert.True(t, eq)
	})

	t.Run("empty batch short-circuits", func(t *testing.T) {
		prob, err := tensor.Zeros([]int{0, 1, 4, 4}, tensor.Float32)
		require.NoError(t, err)
		out, err := masks.BoundaryFromProbParallel(context.Background(), prob, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 4, 4}, out.Shape)
	})

	t.Run("honors canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		prob, err := tensor.Zeros([]int{16, 1, 8, 8}, tensor.Float32)
		require.NoError(t, err)
		_, err = masks.BoundaryFromProbParallel(ctx, prob, 1, 2)
		assert.Error(t, err)
	})
}

func TestBoundaryBandSatisfiesBandFunc(t *testing.T) {
	var fn masks.BandFunc = masks.BoundaryBand
	out := fn(square(5, 5, 1, 1, 3), 5, 5, 1)
	assert.Len(t, out, 25)
}
