package tensor

import (
	"fmt"
	"math"
)

// Conv2D applies a 2-D convolution to an NCHW input. Weight layout is
// (outChannels, inChannels, kH, kW); bias may be nil. Padding is zero-fill.
func Conv2D(input, weight, bias *Tensor, stride, padding int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("conv2d input must be 4-D (NCHW), got shape %v", input.Shape)
	}
	if len(weight.Shape) != 4 {
		return nil, fmt.Errorf("conv2d weight must be 4-D (OIHW), got shape %v", weight.Shape)
	}
	if input.DType != Float32 || weight.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Conv2D: %s", input.DType)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("conv2d stride must be positive, got %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("conv2d padding must be non-negative, got %d", padding)
	}

	batch := input.Shape[0]
	inChannels := input.Shape[1]
	height := input.Shape[2]
	width := input.Shape[3]

	outChannels := weight.Shape[0]
	kernelH := weight.Shape[2]
	kernelW := weight.Shape[3]

	if weight.Shape[1] != inChannels {
		return nil, fmt.Errorf("conv2d channel mismatch: input has %d channels, weight expects %d",
			inChannels, weight.Shape[1])
	}
	if bias != nil {
		if len(bias.Shape) != 1 || bias.Shape[0] != outChannels {
			return nil, fmt.Errorf("conv2d bias must have shape [%d], got %v", outChannels, bias.Shape)
		}
		if bias.DType != Float32 {
			return nil, fmt.Errorf("unsupported dtype for Conv2D bias: %s", bias.DType)
		}
	}

	outHeight := (height+2*padding-kernelH)/stride + 1
	outWidth := (width+2*padding-kernelW)/stride + 1
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("conv2d kernel %dx%d does not fit input %dx%d with padding %d",
			kernelH, kernelW, height, width, padding)
	}

	result, err := Zeros([]int{batch, outChannels, outHeight, outWidth}, Float32)
	if err != nil {
		return nil, err
	}

	inData := input.Data.([]float32)
	wData := weight.Data.([]float32)
	outData := result.Data.([]float32)

	var bData []float32
	if bias != nil {
		bData = bias.Data.([]float32)
	}

	for b := 0; b < batch; b++ {
		for oc := 0; oc < outChannels; oc++ {
			for oh := 0; oh < outHeight; oh++ {
				for ow := 0; ow < outWidth; ow++ {
					var sum float32
					for ic := 0; ic < inChannels; ic++ {
						for kh := 0; kh < kernelH; kh++ {
							ih := oh*stride - padding + kh
							if ih < 0 || ih >= height {
								continue
							}
							for kw := 0; kw < kernelW; kw++ {
								iw := ow*stride - padding + kw
								if iw < 0 || iw >= width {
									continue
								}
								inIdx := ((b*inChannels+ic)*height+ih)*width + iw
								wIdx := ((oc*inChannels+ic)*kernelH+kh)*kernelW + kw
								sum += inData[inIdx] * wData[wIdx]
							}
						}
					}
					if bData != nil {
						sum += bData[oc]
					}
					outData[((b*outChannels+oc)*outHeight+oh)*outWidth+ow] = sum
				}
			}
		}
	}

	return result, nil
}

// MaxPool2D applies non-padded max pooling over an NCHW input.
func MaxPool2D(input *Tensor, kernel, stride int) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("maxpool2d input must be 4-D (NCHW), got shape %v", input.Shape)
	}
	if input.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for MaxPool2D: %s", input.DType)
	}
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("maxpool2d kernel and stride must be positive, got %d and %d", kernel, stride)
	}

	batch := input.Shape[0]
	channels := input.Shape[1]
	height := input.Shape[2]
	width := input.Shape[3]

	outHeight := (height-kernel)/stride + 1
	outWidth := (width-kernel)/stride + 1
	if outHeight <= 0 || outWidth <= 0 {
		return nil, fmt.Errorf("maxpool2d kernel %d does not fit input %dx%d", kernel, height, width)
	}

	result, err := Zeros([]int{batch, channels, outHeight, outWidth}, Float32)
	if err != nil {
		return nil, err
	}

	inData := input.Data.([]float32)
	outData := result.Data.([]float32)

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			for oh := 0; oh < outHeight; oh++ {
				for ow := 0; ow < outWidth; ow++ {
					max := float32(math.Inf(-1))
					for kh := 0; kh < kernel; kh++ {
						ih := oh*stride + kh
						for kw := 0; kw < kernel; kw++ {
							iw := ow*stride + kw
							v := inData[((b*channels+c)*height+ih)*width+iw]
							if v > max {
								max = v
							}
						}
					}
					outData[((b*channels+c)*outHeight+oh)*outWidth+ow] = max
				}
			}
		}
	}

	return result, nil
}

// GlobalAvgPool2D averages an NCHW input over its spatial extent, returning
// a (batch, channels) tensor.
func GlobalAvgPool2D(input *Tensor) (*Tensor, error) {
	if len(input.Shape) != 4 {
		return nil, fmt.Errorf("globalavgpool2d input must be 4-D (NCHW), got shape %v", input.Shape)
	}

	height := input.Shape[2]
	width := input.Shape[3]
	if height == 0 || width == 0 {
		return nil, fmt.Errorf("cannot average over empty spatial extent %dx%d", height, width)
	}

	summed, err := Sum(input, 3, false)
	if err != nil {
		return nil, err
	}
	summed, err = Sum(summed, 2, false)
	if err != nil {
		return nil, err
	}

	return Scale(summed, 1.0/float32(height*width))
}
