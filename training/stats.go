package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/symalign/tensor"
)

// zscoreEpsilon guards the variance denominator against division by zero
const zscoreEpsilon = 1e-6

// EMAStats tracks an exponential moving average of per-dimension mean and
// variance over batches of embedding vectors. The first non-empty update
// seeds the state directly from that batch's statistics; later updates blend
// with the decay rate. State is mutated only by Update and read by ZScore.
//
// EMAStats carries no internal locking: concurrent training loops must
// serialize calls to Update themselves.
type EMAStats struct {
	dim         int
	decay       float64
	mean        []float64
	variance    []float64
	initialized bool
}

// StatsState is the serializable snapshot of an EMAStats instance.
// Round-tripping a snapshot restores mean and variance exactly.
type StatsState struct {
	Dim         int       `json:"dim"`
	Decay       float64   `json:"decay"`
	Initialized bool      `json:"initialized"`
	Mean        []float64 `json:"mean"`
	Variance    []float64 `json:"variance"`
}

// NewEMAStats creates statistics for dim-wide vectors with the given decay.
// The decay is the weight of the existing estimate, so values near 1 adapt
// slowly.
func NewEMAStats(dim int, decay float64) (*EMAStats, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dim must be positive, got %d", dim)
	}
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("decay must be in (0, 1), got %f", decay)
	}
	return &EMAStats{
		dim:      dim,
		decay:    decay,
		mean:     make([]float64, dim),
		variance: make([]float64, dim),
	}, nil
}

// Dim returns the embedding width these statistics track
func (s *EMAStats) Dim() int {
	return s.dim
}

// Decay returns the configured decay rate
func (s *EMAStats) Decay() float64 {
	return s.decay
}

// Initialized reports whether any update has seeded the state
func (s *EMAStats) Initialized() bool {
	return s.initialized
}

// Update folds a [batch, dim] tensor of vectors into the running estimate.
// An empty batch leaves the state untouched.
func (s *EMAStats) Update(batch *tensor.Tensor) error {
	if err := s.checkVectors(batch); err != nil {
		return err
	}
	if batch.Shape[0] == 0 {
		return nil
	}

	data, err := batch.GetFloat32Data()
	if err != nil {
		return err
	}

	rows := batch.Shape[0]
	batchMean := make([]float64, s.dim)
	batchVariance := make([]float64, s.dim)
	column := make([]float64, rows)
	for j := 0; j < s.dim; j++ {
		for i := 0; i < rows; i++ {
			column[i] = float64(data[i*s.dim+j])
		}
		batchMean[j] = stat.Mean(column, nil)
		// Population variance: a constant batch must seed variance 0 exactly
		batchVariance[j] = stat.PopVariance(column, nil)
	}

	if !s.initialized {
		copy(s.mean, batchMean)
		copy(s.variance, batchVariance)
		s.initialized = true
		return nil
	}

	floats.Scale(s.decay, s.mean)
	floats.AddScaled(s.mean, 1-s.decay, batchMean)
	floats.Scale(s.decay, s.variance)
	floats.AddScaled(s.variance, 1-s.decay, batchVariance)
	return nil
}

// ZScore centers and scales a [batch, dim] tensor against the running
// estimate, returning the normalized tensor along with the mean and variance
// vectors it used. Before the first update the fallback estimate is mean 0,
// variance 1, so calling early is safe and produces finite values.
func (s *EMAStats) ZScore(vectors *tensor.Tensor) (*tensor.Tensor, []float64, []float64, error) {
	if err := s.checkVectors(vectors); err != nil {
		return nil, nil, nil, err
	}

	mean := make([]float64, s.dim)
	variance := make([]float64, s.dim)
	if s.initialized {
		copy(mean, s.mean)
		copy(variance, s.variance)
	} else {
		for j := range variance {
			variance[j] = 1
		}
	}

	data, err := vectors.GetFloat32Data()
	if err != nil {
		return nil, nil, nil, err
	}

	out := make([]float32, len(data))
	rows := vectors.Shape[0]
	for i := 0; i < rows; i++ {
		for j := 0; j < s.dim; j++ {
			idx := i*s.dim + j
			out[idx] = float32((float64(data[idx]) - mean[j]) / math.Sqrt(variance[j]+zscoreEpsilon))
		}
	}

	normalized, err := tensor.NewTensor(vectors.Shape, tensor.Float32, out)
	if err != nil {
		return nil, nil, nil, err
	}
	return normalized, mean, variance, nil
}

// State snapshots the current estimate for checkpointing
func (s *EMAStats) State() StatsState {
	state := StatsState{
		Dim:         s.dim,
		Decay:       s.decay,
		Initialized: s.initialized,
		Mean:        make([]float64, s.dim),
		Variance:    make([]float64, s.dim),
	}
	copy(state.Mean, s.mean)
	copy(state.Variance, s.variance)
	return state
}

// Restore replaces the running estimate with a snapshot
func (s *EMAStats) Restore(state StatsState) error {
	if state.Dim != s.dim {
		return fmt.Errorf("snapshot is %d-dimensional, statistics expect %d", state.Dim, s.dim)
	}
	if len(state.Mean) != s.dim || len(state.Variance) != s.dim {
		return fmt.Errorf("snapshot vectors have lengths %d and %d, expected %d",
			len(state.Mean), len(state.Variance), s.dim)
	}
	if state.Decay <= 0 || state.Decay >= 1 {
		return fmt.Errorf("snapshot decay must be in (0, 1), got %f", state.Decay)
	}

	s.decay = state.Decay
	s.initialized = state.Initialized
	copy(s.mean, state.Mean)
	copy(s.variance, state.Variance)
	return nil
}

// checkVectors validates a [batch, dim] input tensor
func (s *EMAStats) checkVectors(t *tensor.Tensor) error {
	if t.DType != tensor.Float32 {
		return fmt.Errorf("unsupported dtype for statistics: %s", t.DType)
	}
	if len(t.Shape) != 2 {
		return fmt.Errorf("vectors must be 2D [batch, dim], got shape %v", t.Shape)
	}
	if t.Shape[1] != s.dim {
		return fmt.Errorf("vectors are %d-dimensional, statistics expect %d", t.Shape[1], s.dim)
	}
	return nil
}
