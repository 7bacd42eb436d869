package masks

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/symalign/tensor"
)

// BandFunc extracts a boundary band from a single-channel mask stored as a
// row-major height*width buffer. Implementations must treat the input as
// read-only and return a new buffer of the same size.
type BandFunc func(mask []float32, height, width, band int) []float32

// Threshold hardens soft mask values: strictly greater than the threshold
// becomes 1, everything else 0.
func Threshold(values []float32, threshold float32) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		if v > threshold {
			out[i] = 1
		}
	}
	return out
}

// BoundaryBand extracts the band of pixels around the 0.5-level contour of a
// soft mask. The mask is hardened at 0.5, then dilated and eroded band times
// with a 3x3 structuring element; the band is every pixel reached by the
// dilation but not surviving the erosion. Borders replicate the edge pixel,
// so a mask touching the image edge does not pick up a spurious band there.
// A non-positive band width yields an all-zero result.
func BoundaryBand(mask []float32, height, width, band int) []float32 {
	hard := Threshold(mask, 0.5)
	if band <= 0 {
		return make([]float32, len(hard))
	}

	dilated := hard
	eroded := hard
	for i := 0; i < band; i++ {
		dilated = dilate3x3(dilated, height, width)
		eroded = erode3x3(eroded, height, width)
	}

	out := make([]float32, len(hard))
	for i := range out {
		if dilated[i] == 1 && eroded[i] == 0 {
			out[i] = 1
		}
	}
	return out
}

// dilate3x3 performs one max-filter pass with replicated borders
func dilate3x3(src []float32, height, width int) []float32 {
	dst := make([]float32, len(src))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var max float32
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := src[clampIndex(y+dy, height)*width+clampIndex(x+dx, width)]
					if v > max {
						max = v
					}
				}
			}
			dst[y*width+x] = max
		}
	}
	return dst
}

// erode3x3 performs one min-filter pass with replicated borders
func erode3x3(src []float32, height, width int) []float32 {
	dst := make([]float32, len(src))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			min := float32(1)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					v := src[clampIndex(y+dy, height)*width+clampIndex(x+dx, width)]
					if v < min {
						min = v
					}
				}
			}
			dst[y*width+x] = min
		}
	}
	return dst
}

// clampIndex clamps a coordinate into [0, size)
func clampIndex(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}

// checkProbBatch validates a [batch, 1, height, width] probability tensor
func checkProbBatch(prob *tensor.Tensor, band int) error {
	if len(prob.Shape) != 4 {
		return fmt.Errorf("probability masks must be 4D [batch, 1, height, width], got shape %v", prob.Shape)
	}
	if prob.Shape[1] != 1 {
		return fmt.Errorf("probability masks must have 1 channel, got %d", prob.Shape[1])
	}
	if band < 0 {
		return fmt.Errorf("band width must be non-negative, got %d", band)
	}
	return nil
}

// ApplyBand maps a band function over every mask in a [batch, 1, height,
// width] tensor. Samples are processed in order; an empty batch returns an
// empty result immediately.
func ApplyBand(prob *tensor.Tensor, band int, fn BandFunc) (*tensor.Tensor, error) {
	if err := checkProbBatch(prob, band); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("band function cannot be nil")
	}

	batch, height, width := prob.Shape[0], prob.Shape[2], prob.Shape[3]
	out, err := tensor.Zeros(prob.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	if batch == 0 {
		return out, nil
	}

	src, err := prob.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	dst, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	spatial := height * width
	for b := 0; b < batch; b++ {
		sample := src[b*spatial : (b+1)*spatial]
		copy(dst[b*spatial:(b+1)*spatial], fn(sample, height, width, band))
	}
	return out, nil
}

// BoundaryFromProb extracts the boundary band of every mask in a batch
// using the default BoundaryBand extractor.
func BoundaryFromProb(prob *tensor.Tensor, band int) (*tensor.Tensor, error) {
	return ApplyBand(prob, band, BoundaryBand)
}

// BoundaryFromProbParallel is BoundaryFromProb with samples distributed over
// at most workers goroutines. Results are identical to the serial version.
// A non-positive worker count uses one worker per CPU.
func BoundaryFromProbParallel(ctx context.Context, prob *tensor.Tensor, band, workers int) (*tensor.Tensor, error) {
	if err := checkProbBatch(prob, band); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	batch, height, width := prob.Shape[0], prob.Shape[2], prob.Shape[3]
	out, err := tensor.Zeros(prob.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	if batch == 0 {
		return out, nil
	}

	src, err := prob.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	dst, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	spatial := height * width
	for b := 0; b < batch; b++ {
		b := b
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample := src[b*spatial : (b+1)*spatial]
			copy(dst[b*spatial:(b+1)*spatial], BoundaryBand(sample, height, width, band))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
