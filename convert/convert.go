// Package convert imports externally trained weight dumps into checkpoints
// the engine can load. Dumps are JSON manifests of named float32 tensors in
// torch layout: linear weights arrive as (out, in) matrices and are repacked
// into the engine's (in, out) layout, convolution kernels arrive as OIHW and
// pass through unchanged.
package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
	"github.com/sirupsen/logrus"

	"github.com/tsawler/symalign/checkpoints"
	"github.com/tsawler/symalign/encoder"
	"github.com/tsawler/symalign/training"
)

// TensorDump is one named tensor in a weight dump
type TensorDump struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// WeightDump is the manifest an exporter script writes: the encoder
// configuration plus a flat list of named tensors in torch layout.
type WeightDump struct {
	Config  encoder.MultiModalConfig `json:"config"`
	Tensors []TensorDump             `json:"tensors"`
}

// ReadDump parses a weight dump manifest from disk
func ReadDump(path string) (*WeightDump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weight dump: %v", err)
	}
	var dump WeightDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("failed to parse weight dump: %v", err)
	}
	return &dump, nil
}

// Converter maps torch-layout weight dumps onto engine parameters
type Converter struct {
	log *logrus.Logger
}

// NewConverter creates a converter. A nil logger falls back to the logrus
// standard logger.
func NewConverter(log *logrus.Logger) *Converter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Converter{log: log}
}

// ParameterName maps a dump tensor name onto its engine parameter name.
// Names already in engine form pass through unchanged.
func ParameterName(name string) string {
	return strings.NewReplacer(
		"image_encoder.net.0", "image.conv1",
		"image_encoder.net.2", "image.conv2",
		"image_encoder.net.5", "image.conv3",
		"image_encoder.net.8", "image.conv4",
		"image_encoder.head.2", "image.head",
		"fusion.proj.0", "fusion.hidden",
		"fusion.proj.2", "fusion.out",
		"fusion.attn.0", "fusion.hidden",
		"fusion.attn.2", "fusion.logits",
	).Replace(name)
}

// Convert validates and repacks every dump tensor and assembles a checkpoint
// carrying the converted weights, fresh priors, and the dump's encoder
// configuration. Frozen mask encoder tensors in the dump are skipped.
func (c *Converter) Convert(dump *WeightDump) (*checkpoints.Checkpoint, error) {
	if dump == nil {
		return nil, fmt.Errorf("weight dump is nil")
	}
	if err := dump.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dump config: %v", err)
	}

	// A throwaway encoder supplies the expected parameter names and shapes
	// for this configuration.
	maskEncoder, err := encoder.NewDefaultMaskEncoder(dump.Config.MaskWidth, dump.Config.EmbedDim)
	if err != nil {
		return nil, err
	}
	reference, err := encoder.NewMultiModalEncoder(dump.Config, maskEncoder)
	if err != nil {
		return nil, err
	}

	expected := make(map[string][]int)
	for _, param := range reference.NamedParameters() {
		expected[param.Name] = param.Tensor.Shape
	}

	weights := make([]checkpoints.WeightTensor, 0, len(expected))
	seen := make(map[string]bool)
	for _, dumpTensor := range dump.Tensors {
		if strings.HasPrefix(dumpTensor.Name, "mask_encoder.") {
			c.log.WithField("tensor", dumpTensor.Name).Debug("skipping frozen mask encoder tensor")
			continue
		}

		name := ParameterName(dumpTensor.Name)
		wantShape, ok := expected[name]
		if !ok {
			return nil, fmt.Errorf("dump tensor %s maps to %s, which is not an engine parameter",
				dumpTensor.Name, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate dump tensor for parameter %s", name)
		}
		seen[name] = true

		if got, want := len(dumpTensor.Data), numElements(dumpTensor.Shape); got != want {
			return nil, fmt.Errorf("dump tensor %s carries %d values for shape %v",
				dumpTensor.Name, got, dumpTensor.Shape)
		}

		payload := dumpTensor.Data
		shape := dumpTensor.Shape
		if strings.HasSuffix(name, ".weight") && len(shape) == 2 {
			payload, err = repackLinear(dumpTensor.Data, shape)
			if err != nil {
				return nil, fmt.Errorf("failed to repack %s: %v", dumpTensor.Name, err)
			}
			shape = []int{shape[1], shape[0]}
		}

		if err := matchShape(name, shape, wantShape); err != nil {
			return nil, err
		}

		layerName, kind := splitName(name)
		weights = append(weights, checkpoints.WeightTensor{
			Name:  name,
			Shape: shape,
			Data:  payload,
			Layer: layerName,
			Type:  kind,
		})

		c.log.WithFields(logrus.Fields{
			"tensor":    dumpTensor.Name,
			"parameter": name,
			"shape":     shape,
		}).Debug("converted tensor")
	}

	if len(seen) != len(expected) {
		for name := range expected {
			if !seen[name] {
				return nil, fmt.Errorf("dump is missing parameter %s", name)
			}
		}
	}

	globalPrior, err := training.NewEMAStats(dump.Config.EmbedDim, training.DefaultAlignmentConfig().Decay)
	if err != nil {
		return nil, err
	}
	boundaryPrior, err := training.NewEMAStats(dump.Config.EmbedDim, training.DefaultAlignmentConfig().Decay)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"parameters": len(weights),
		"embed_dim":  dump.Config.EmbedDim,
		"fusion":     dump.Config.Fusion.String(),
	}).Info("weight dump converted")

	return &checkpoints.Checkpoint{
		EncoderConfig:   dump.Config,
		ImageSpec:       reference.ImageBranch().Spec(),
		Weights:         weights,
		AlignmentConfig: training.DefaultAlignmentConfig(),
		Priors: checkpoints.PriorState{
			Global:   globalPrior.State(),
			Boundary: boundaryPrior.State(),
		},
		Metadata: checkpoints.CheckpointMetadata{
			Description: "converted from torch weight dump",
		},
	}, nil
}

// repackLinear flips a torch (out, in) matrix into the engine's (in, out)
// row-major layout. The input slice is left untouched.
func repackLinear(data []float32, shape []int) ([]float32, error) {
	buf := make([]float32, len(data))
	copy(buf, data)

	n := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(buf))
	if err := n.T(1, 0); err != nil {
		return nil, err
	}
	if err := n.Transpose(); err != nil {
		return nil, err
	}

	rows, err := native.SelectF32(n, 1)
	if err != nil {
		return nil, err
	}

	var f32s []float32
	for _, row := range rows {
		f32s = append(f32s, row...)
	}
	return f32s, nil
}

func matchShape(name string, got, want []int) error {
	if len(got) != len(want) {
		return fmt.Errorf("shape mismatch for %s: dump %v vs parameter %v", name, got, want)
	}
	for i, dim := range want {
		if got[i] != dim {
			return fmt.Errorf("shape mismatch for %s: dump %v vs parameter %v", name, got, want)
		}
	}
	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func splitName(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
