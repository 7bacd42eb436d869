package encoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/symalign/engine"
	"github.com/tsawler/symalign/tensor"
)

// Fusion combines a mask embedding and an image embedding into a single
// normalized embedding of the same width.
type Fusion interface {
	Fuse(maskEmb, imageEmb *tensor.Tensor) (*tensor.Tensor, error)
	NamedParameters() []engine.NamedParameter
}

// NewFusion constructs the fusion module for a config variant
func NewFusion(variant FusionVariant, embedDim int) (Fusion, error) {
	switch variant {
	case FusionMLP:
		return NewMLPFusion(embedDim)
	case FusionAttention:
		return NewAttentionFusion(embedDim)
	default:
		return nil, fmt.Errorf("unknown fusion variant: %d", int(variant))
	}
}

// checkFusionInputs validates the paired branch embeddings
func checkFusionInputs(maskEmb, imageEmb *tensor.Tensor, embedDim int) error {
	if len(maskEmb.Shape) != 2 || len(imageEmb.Shape) != 2 {
		return fmt.Errorf("fusion inputs must be 2D, got shapes %v and %v", maskEmb.Shape, imageEmb.Shape)
	}
	if maskEmb.Shape[0] != imageEmb.Shape[0] {
		return fmt.Errorf("batch size mismatch: %d vs %d", maskEmb.Shape[0], imageEmb.Shape[0])
	}
	if maskEmb.Shape[1] != embedDim || imageEmb.Shape[1] != embedDim {
		return fmt.Errorf("fusion inputs must be %d wide, got %d and %d",
			embedDim, maskEmb.Shape[1], imageEmb.Shape[1])
	}
	return nil
}

// MLPFusion concatenates both embeddings and projects through a two layer
// perceptron back to the embedding width.
type MLPFusion struct {
	hidden   *engine.Linear // [2*embed_dim, embed_dim]
	out      *engine.Linear // [embed_dim, embed_dim]
	relu     *engine.ReLU
	embedDim int
}

// NewMLPFusion creates the MLP fusion head with Xavier-initialized weights
func NewMLPFusion(embedDim int) (*MLPFusion, error) {
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed dim must be positive, got %d", embedDim)
	}

	hidden, err := engine.NewLinear(2*embedDim, embedDim, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create hidden layer: %v", err)
	}
	out, err := engine.NewLinear(embedDim, embedDim, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create output layer: %v", err)
	}

	return &MLPFusion{
		hidden:   hidden,
		out:      out,
		relu:     engine.NewReLU(),
		embedDim: embedDim,
	}, nil
}

// Fuse combines the branch embeddings into one normalized embedding
func (f *MLPFusion) Fuse(maskEmb, imageEmb *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkFusionInputs(maskEmb, imageEmb, f.embedDim); err != nil {
		return nil, err
	}

	combined, err := tensor.Concat([]*tensor.Tensor{maskEmb, imageEmb}, 1)
	if err != nil {
		return nil, fmt.Errorf("concat failed: %v", err)
	}

	h, err := f.hidden.Forward(combined)
	if err != nil {
		return nil, err
	}
	h, err = f.relu.Forward(h)
	if err != nil {
		return nil, err
	}
	h, err = f.out.Forward(h)
	if err != nil {
		return nil, err
	}

	return tensor.NormalizeRows(h, 1e-12)
}

// NamedParameters returns the fusion head's trainable tensors
func (f *MLPFusion) NamedParameters() []engine.NamedParameter {
	return namedLinearParams(
		namedLinear{"hidden", f.hidden},
		namedLinear{"out", f.out},
	)
}

// AttentionFusion learns per-sample scalar weights for the two branches,
// scales each embedding by its weight, then projects the concatenation back
// to the embedding width.
type AttentionFusion struct {
	hidden   *engine.Linear // [2*embed_dim, embed_dim]
	logits   *engine.Linear // [embed_dim, 2]
	proj     *engine.Linear // [2*embed_dim, embed_dim]
	relu     *engine.ReLU
	embedDim int
}

// NewAttentionFusion creates the attention fusion head
func NewAttentionFusion(embedDim int) (*AttentionFusion, error) {
	if embedDim <= 0 {
		return nil, fmt.Errorf("embed dim must be positive, got %d", embedDim)
	}

	hidden, err := engine.NewLinear(2*embedDim, embedDim, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create hidden layer: %v", err)
	}
	logits, err := engine.NewLinear(embedDim, 2, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create logit layer: %v", err)
	}
	proj, err := engine.NewLinear(2*embedDim, embedDim, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create projection layer: %v", err)
	}

	return &AttentionFusion{
		hidden:   hidden,
		logits:   logits,
		proj:     proj,
		relu:     engine.NewReLU(),
		embedDim: embedDim,
	}, nil
}

// Fuse combines the branch embeddings using learned branch weights
func (f *AttentionFusion) Fuse(maskEmb, imageEmb *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkFusionInputs(maskEmb, imageEmb, f.embedDim); err != nil {
		return nil, err
	}

	combined, err := tensor.Concat([]*tensor.Tensor{maskEmb, imageEmb}, 1)
	if err != nil {
		return nil, fmt.Errorf("concat failed: %v", err)
	}

	h, err := f.hidden.Forward(combined)
	if err != nil {
		return nil, err
	}
	h, err = f.relu.Forward(h)
	if err != nil {
		return nil, err
	}
	logits, err := f.logits.Forward(h)
	if err != nil {
		return nil, err
	}

	weights, err := softmaxRows(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax failed: %v", err)
	}

	// Scale each whole embedding by its branch weight
	maskWeight, err := tensor.Narrow(weights, 1, 0, 1)
	if err != nil {
		return nil, err
	}
	imageWeight, err := tensor.Narrow(weights, 1, 1, 1)
	if err != nil {
		return nil, err
	}
	weightedMask, err := tensor.MulBroadcast(maskEmb, maskWeight)
	if err != nil {
		return nil, fmt.Errorf("mask weighting failed: %v", err)
	}
	weightedImage, err := tensor.MulBroadcast(imageEmb, imageWeight)
	if err != nil {
		return nil, fmt.Errorf("image weighting failed: %v", err)
	}

	weighted, err := tensor.Concat([]*tensor.Tensor{weightedMask, weightedImage}, 1)
	if err != nil {
		return nil, fmt.Errorf("concat failed: %v", err)
	}
	out, err := f.proj.Forward(weighted)
	if err != nil {
		return nil, err
	}

	return tensor.NormalizeRows(out, 1e-12)
}

// Weights exposes the per-sample branch weights for a batch, mainly for
// inspection and tests.
func (f *AttentionFusion) Weights(maskEmb, imageEmb *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkFusionInputs(maskEmb, imageEmb, f.embedDim); err != nil {
		return nil, err
	}

	combined, err := tensor.Concat([]*tensor.Tensor{maskEmb, imageEmb}, 1)
	if err != nil {
		return nil, err
	}
	h, err := f.hidden.Forward(combined)
	if err != nil {
		return nil, err
	}
	h, err = f.relu.Forward(h)
	if err != nil {
		return nil, err
	}
	logits, err := f.logits.Forward(h)
	if err != nil {
		return nil, err
	}
	return softmaxRows(logits)
}

// NamedParameters returns the fusion head's trainable tensors
func (f *AttentionFusion) NamedParameters() []engine.NamedParameter {
	return namedLinearParams(
		namedLinear{"hidden", f.hidden},
		namedLinear{"logits", f.logits},
		namedLinear{"proj", f.proj},
	)
}

type namedLinear struct {
	name   string
	linear *engine.Linear
}

// namedLinearParams flattens linear layers into named weight/bias pairs
func namedLinearParams(linears ...namedLinear) []engine.NamedParameter {
	var params []engine.NamedParameter
	for _, nl := range linears {
		tensors := nl.linear.Parameters()
		params = append(params, engine.NamedParameter{Name: nl.name + ".weight", Tensor: tensors[0]})
		if len(tensors) > 1 {
			params = append(params, engine.NamedParameter{Name: nl.name + ".bias", Tensor: tensors[1]})
		}
	}
	return params
}

// softmaxRows applies a numerically stable softmax to each row of a 2D tensor
func softmaxRows(t *tensor.Tensor) (*tensor.Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("softmax expects 2D input, got shape %v", t.Shape)
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]float32, len(data))
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = float64(data[i*cols+j])
		}
		max := floats.Max(row)
		for j := range row {
			row[j] = math.Exp(row[j] - max)
		}
		total := floats.Sum(row)
		floats.Scale(1.0/total, row)
		for j := 0; j < cols; j++ {
			out[i*cols+j] = float32(row[j])
		}
	}

	return tensor.NewTensor([]int{rows, cols}, tensor.Float32, out)
}
