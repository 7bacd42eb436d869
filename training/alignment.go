package training

import (
	"fmt"

	"github.com/tsawler/symalign/encoder"
	"github.com/tsawler/symalign/tensor"
	"github.com/tsawler/symalign/vision/masks"
)

// AlignmentConfig collects the static knobs of the dual-view alignment
// protocol. All values are fixed at construction time.
type AlignmentConfig struct {
	BoundaryWidth int                   `json:"boundary_width"`
	Decay         float64               `json:"decay"`
	Delta         float64               `json:"delta"`
	Reduction     string                `json:"reduction"`
	Channel       encoder.OutputChannel `json:"channel"`
}

// DefaultAlignmentConfig returns the standard alignment configuration
func DefaultAlignmentConfig() AlignmentConfig {
	return AlignmentConfig{
		BoundaryWidth: 2,
		Decay:         0.99,
		Delta:         1.0,
		Reduction:     "mean",
		Channel:       encoder.Fused,
	}
}

// Alignment drives dual-view alignment training. Each batch of probability
// maps yields two encoder views: a global view pairing the soft map with its
// boundary band, and a boundary view repeating the band in both channels.
// Embeddings of both views are z-scored against independent online priors
// and pulled toward them by a robust loss.
//
// The Alignment owns its two priors and the loss; the encoder is shared and
// passed in.
type Alignment struct {
	config        AlignmentConfig
	enc           *encoder.MultiModalEncoder
	globalPrior   *EMAStats
	boundaryPrior *EMAStats
	loss          *HuberLoss
	band          masks.BandFunc
}

// NewAlignment wires an alignment driver around a shared encoder.
// The boundary extractor defaults to masks.BoundaryBand; use SetBandFunc to
// swap in another implementation of the same contract.
func NewAlignment(config AlignmentConfig, enc *encoder.MultiModalEncoder) (*Alignment, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder cannot be nil")
	}
	if config.BoundaryWidth < 0 {
		return nil, fmt.Errorf("boundary width must be non-negative, got %d", config.BoundaryWidth)
	}
	switch config.Channel {
	case encoder.Fused, encoder.MaskOnly, encoder.ImageOnly:
	default:
		return nil, fmt.Errorf("unknown output channel: %d", int(config.Channel))
	}

	embedDim := enc.Config().EmbedDim
	globalPrior, err := NewEMAStats(embedDim, config.Decay)
	if err != nil {
		return nil, fmt.Errorf("invalid global prior: %v", err)
	}
	boundaryPrior, err := NewEMAStats(embedDim, config.Decay)
	if err != nil {
		return nil, fmt.Errorf("invalid boundary prior: %v", err)
	}
	loss, err := NewHuberLoss(config.Delta, config.Reduction)
	if err != nil {
		return nil, fmt.Errorf("invalid loss: %v", err)
	}

	return &Alignment{
		config:        config,
		enc:           enc,
		globalPrior:   globalPrior,
		boundaryPrior: boundaryPrior,
		loss:          loss,
		band:          masks.BoundaryBand,
	}, nil
}

// SetBandFunc replaces the boundary extractor
func (a *Alignment) SetBandFunc(fn masks.BandFunc) error {
	if fn == nil {
		return fmt.Errorf("band function cannot be nil")
	}
	a.band = fn
	return nil
}

// Views builds the two alignment views from a [batch, 1, height, width]
// probability map: the global view concatenates the soft map with its
// boundary band, the boundary view repeats the band in both channels.
func (a *Alignment) Views(prob *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	boundary, err := masks.ApplyBand(prob, a.config.BoundaryWidth, a.band)
	if err != nil {
		return nil, nil, fmt.Errorf("boundary extraction failed: %v", err)
	}

	global, err := tensor.Concat([]*tensor.Tensor{prob, boundary}, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build global view: %v", err)
	}
	boundaryOnly, err := tensor.Concat([]*tensor.Tensor{boundary, boundary}, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build boundary view: %v", err)
	}
	return global, boundaryOnly, nil
}

// ComputeEmbeddings runs the encoder once per view and selects the
// configured output channel, yielding the (global, boundary) embedding pair.
// An empty batch produces empty [0, dim] embeddings.
func (a *Alignment) ComputeEmbeddings(images, prob *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	globalView, boundaryView, err := a.Views(prob)
	if err != nil {
		return nil, nil, err
	}

	globalOut, err := a.enc.Forward(images, globalView)
	if err != nil {
		return nil, nil, fmt.Errorf("global view encoding failed: %v", err)
	}
	boundaryOut, err := a.enc.Forward(images, boundaryView)
	if err != nil {
		return nil, nil, fmt.Errorf("boundary view encoding failed: %v", err)
	}

	zGlobal, err := globalOut.Select(a.config.Channel)
	if err != nil {
		return nil, nil, err
	}
	zBoundary, err := boundaryOut.Select(a.config.Channel)
	if err != nil {
		return nil, nil, err
	}
	return zGlobal, zBoundary, nil
}

// UpdatePriors folds the valid rows of an embedding pair into the two
// priors. A nil validity mask accepts every row; a mask with no true
// entries, like an empty batch, is a no-op.
func (a *Alignment) UpdatePriors(zGlobal, zBoundary *tensor.Tensor, valid []bool) error {
	if err := a.checkPair(zGlobal, zBoundary); err != nil {
		return err
	}
	batch := zGlobal.Shape[0]
	if valid != nil && len(valid) != batch {
		return fmt.Errorf("validity mask has %d entries for batch of %d", len(valid), batch)
	}

	globalRows, err := filterRows(zGlobal, valid)
	if err != nil {
		return err
	}
	boundaryRows, err := filterRows(zBoundary, valid)
	if err != nil {
		return err
	}
	if globalRows.Shape[0] == 0 {
		return nil
	}

	if err := a.globalPrior.Update(globalRows); err != nil {
		return fmt.Errorf("global prior update failed: %v", err)
	}
	if err := a.boundaryPrior.Update(boundaryRows); err != nil {
		return fmt.Errorf("boundary prior update failed: %v", err)
	}
	return nil
}

// Loss z-scores each view's embeddings against its own prior and sums the
// two robust per-view costs into one scalar.
func (a *Alignment) Loss(zGlobal, zBoundary *tensor.Tensor) (*tensor.Tensor, error) {
	if err := a.checkPair(zGlobal, zBoundary); err != nil {
		return nil, err
	}

	globalScore, _, _, err := a.globalPrior.ZScore(zGlobal)
	if err != nil {
		return nil, fmt.Errorf("global z-score failed: %v", err)
	}
	globalLoss, err := a.loss.Apply(globalScore)
	if err != nil {
		return nil, fmt.Errorf("global loss failed: %v", err)
	}

	boundaryScore, _, _, err := a.boundaryPrior.ZScore(zBoundary)
	if err != nil {
		return nil, fmt.Errorf("boundary z-score failed: %v", err)
	}
	boundaryLoss, err := a.loss.Apply(boundaryScore)
	if err != nil {
		return nil, fmt.Errorf("boundary loss failed: %v", err)
	}

	return tensor.Add(globalLoss, boundaryLoss)
}

// Step performs one full training step: compute the embedding pair, fold
// the valid rows into the priors, then score the whole batch against the
// updated priors.
func (a *Alignment) Step(images, prob *tensor.Tensor, valid []bool) (*tensor.Tensor, error) {
	zGlobal, zBoundary, err := a.ComputeEmbeddings(images, prob)
	if err != nil {
		return nil, err
	}
	if err := a.UpdatePriors(zGlobal, zBoundary, valid); err != nil {
		return nil, err
	}
	return a.Loss(zGlobal, zBoundary)
}

// Config returns the alignment configuration
func (a *Alignment) Config() AlignmentConfig {
	return a.config
}

// Encoder returns the shared encoder
func (a *Alignment) Encoder() *encoder.MultiModalEncoder {
	return a.enc
}

// GlobalPrior returns the statistics tracking the global view
func (a *Alignment) GlobalPrior() *EMAStats {
	return a.globalPrior
}

// BoundaryPrior returns the statistics tracking the boundary view
func (a *Alignment) BoundaryPrior() *EMAStats {
	return a.boundaryPrior
}

// checkPair validates a (global, boundary) embedding pair
func (a *Alignment) checkPair(zGlobal, zBoundary *tensor.Tensor) error {
	embedDim := a.enc.Config().EmbedDim
	for _, z := range []*tensor.Tensor{zGlobal, zBoundary} {
		if len(z.Shape) != 2 || z.Shape[1] != embedDim {
			return fmt.Errorf("embeddings must be 2D [batch, %d], got shape %v", embedDim, z.Shape)
		}
	}
	if zGlobal.Shape[0] != zBoundary.Shape[0] {
		return fmt.Errorf("batch size mismatch: %d global vs %d boundary", zGlobal.Shape[0], zBoundary.Shape[0])
	}
	return nil
}

// filterRows copies the rows of a [batch, dim] tensor marked valid.
// A nil mask keeps every row.
func filterRows(t *tensor.Tensor, valid []bool) (*tensor.Tensor, error) {
	if valid == nil {
		return t, nil
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	cols := t.Shape[1]
	count := 0
	for _, v := range valid {
		if v {
			count++
		}
	}

	out := make([]float32, 0, count*cols)
	for i, v := range valid {
		if v {
			out = append(out, data[i*cols:(i+1)*cols]...)
		}
	}
	return tensor.NewTensor([]int{count, cols}, tensor.Float32, out)
}
