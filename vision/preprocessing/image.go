// Package preprocessing turns on-disk images into encoder-ready tensors.
package preprocessing

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/symalign/tensor"
)

// Rec. 601 luma weights
const (
	lumR = 0.299
	lumG = 0.587
	lumB = 0.114
)

// ImageProcessor resamples decoded images to a fixed square resolution and
// packs them into CHW tensors. The intermediate frame is reused across calls,
// so a single processor is safe for concurrent use but resamples serially.
type ImageProcessor struct {
	mu         sync.Mutex
	frame      *image.RGBA
	targetSize int
}

// NewImageProcessor creates a processor producing targetSize x targetSize tensors.
func NewImageProcessor(targetSize int) (*ImageProcessor, error) {
	if targetSize < 1 {
		return nil, fmt.Errorf("target size must be positive, got %d", targetSize)
	}
	return &ImageProcessor{targetSize: targetSize}, nil
}

// Process resamples img to the target resolution with nearest-neighbor
// sampling and returns a (3, size, size) tensor with channels in [0, 1].
func (p *ImageProcessor) Process(img image.Image) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("cannot process empty %dx%d image", width, height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frame == nil {
		p.frame = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}

	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}
			p.frame.Set(x, y, img.At(srcX, srcY))
		}
	}

	spatial := p.targetSize * p.targetSize
	data := make([]float32, 3*spatial)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := p.frame.At(x, y).RGBA()
			idx := y*p.targetSize + x
			data[idx] = float32(r) / 65535.0
			data[spatial+idx] = float32(g) / 65535.0
			data[2*spatial+idx] = float32(b) / 65535.0
		}
	}
	return tensor.NewTensor([]int{3, p.targetSize, p.targetSize}, tensor.Float32, data)
}

// DecodeAndProcess decodes a JPEG or PNG stream and processes the result.
func (p *ImageProcessor) DecodeAndProcess(reader io.Reader) (*tensor.Tensor, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return p.Process(img)
}

// LoadBatch reads and decodes the given image files with at most workers
// goroutines and stacks them into a (len(paths), 3, size, size) tensor.
// A non-positive worker count uses one worker per CPU. An empty path list
// yields an empty batch.
func LoadBatch(ctx context.Context, paths []string, targetSize, workers int) (*tensor.Tensor, error) {
	processor, err := NewImageProcessor(targetSize)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sampleSize := 3 * targetSize * targetSize
	data := make([]float32, len(paths)*sampleSize)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			sample, err := processor.DecodeAndProcess(file)
			if err != nil {
				return fmt.Errorf("failed to load %s: %v", path, err)
			}
			payload, err := sample.GetFloat32Data()
			if err != nil {
				return err
			}
			copy(data[i*sampleSize:(i+1)*sampleSize], payload)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensor.NewTensor([]int{len(paths), 3, targetSize, targetSize}, tensor.Float32, data)
}

// Luminance collapses an RGB batch to a single-channel Rec. 601 luma batch.
// Values stay in [0, 1], so the result can stand in for a probability map
// when no real segmentation masks exist.
func Luminance(images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 || images.Shape[1] != 3 {
		return nil, fmt.Errorf("expected (batch, 3, height, width) images, got %v", images.Shape)
	}
	batch, height, width := images.Shape[0], images.Shape[2], images.Shape[3]
	src, err := images.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	spatial := height * width
	data := make([]float32, batch*spatial)
	for b := 0; b < batch; b++ {
		base := b * 3 * spatial
		for i := 0; i < spatial; i++ {
			data[b*spatial+i] = lumR*src[base+i] + lumG*src[base+spatial+i] + lumB*src[base+2*spatial+i]
		}
	}
	return tensor.NewTensor([]int{batch, 1, height, width}, tensor.Float32, data)
}
