package training

import (
	"fmt"

	"github.com/tsawler/symalign/tensor"
	"github.com/tsawler/symalign/vector"
)

// AlignmentMetrics summarizes how well the two view embeddings agree
type AlignmentMetrics struct {
	Loss              float64 `json:"loss"`
	MeanCosine        float64 `json:"mean_cosine"`
	RetrievalAccuracy float64 `json:"retrieval_accuracy"`
}

// MeanCosine averages the cosine similarity between paired rows of the two
// embedding tensors. An empty batch scores 0.
func MeanCosine(zGlobal, zBoundary *tensor.Tensor) (float64, error) {
	if err := checkEmbeddingPair(zGlobal, zBoundary); err != nil {
		return 0, err
	}

	rows := zGlobal.Shape[0]
	if rows == 0 {
		return 0, nil
	}

	var total float64
	for i := 0; i < rows; i++ {
		a, err := vector.Row(zGlobal, i)
		if err != nil {
			return 0, err
		}
		b, err := vector.Row(zBoundary, i)
		if err != nil {
			return 0, err
		}
		total += vector.Cosine(a, b)
	}
	return total / float64(rows), nil
}

// RetrievalAccuracy measures cross-view retrieval: for each global-view
// embedding, the fraction of batches whose nearest boundary-view embedding
// by cosine similarity is its own pair. An empty batch scores 0.
func RetrievalAccuracy(zGlobal, zBoundary *tensor.Tensor) (float64, error) {
	if err := checkEmbeddingPair(zGlobal, zBoundary); err != nil {
		return 0, err
	}

	rows := zGlobal.Shape[0]
	if rows == 0 {
		return 0, nil
	}

	candidates, err := vector.FromRows(zBoundary, nil)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < rows; i++ {
		query, err := vector.Row(zGlobal, i)
		if err != nil {
			return 0, err
		}
		matches := vector.TopK(1, query, candidates)
		if len(matches) > 0 && matches[0].Embedding.Label == fmt.Sprintf("%d", i) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// Evaluate computes the alignment metrics for a batch without touching the
// priors: embeddings are scored against the current estimates only.
func Evaluate(a *Alignment, images, prob *tensor.Tensor) (AlignmentMetrics, error) {
	var metrics AlignmentMetrics

	zGlobal, zBoundary, err := a.ComputeEmbeddings(images, prob)
	if err != nil {
		return metrics, err
	}

	loss, err := a.Loss(zGlobal, zBoundary)
	if err != nil {
		return metrics, err
	}
	lossValue, err := loss.Item()
	if err != nil {
		return metrics, err
	}

	cosine, err := MeanCosine(zGlobal, zBoundary)
	if err != nil {
		return metrics, err
	}
	accuracy, err := RetrievalAccuracy(zGlobal, zBoundary)
	if err != nil {
		return metrics, err
	}

	metrics.Loss = float64(lossValue)
	metrics.MeanCosine = cosine
	metrics.RetrievalAccuracy = accuracy
	return metrics, nil
}

// checkEmbeddingPair validates two [batch, dim] tensors of equal shape
func checkEmbeddingPair(zGlobal, zBoundary *tensor.Tensor) error {
	if len(zGlobal.Shape) != 2 || len(zBoundary.Shape) != 2 {
		return fmt.Errorf("embeddings must be 2D, got shapes %v and %v", zGlobal.Shape, zBoundary.Shape)
	}
	if zGlobal.Shape[0] != zBoundary.Shape[0] || zGlobal.Shape[1] != zBoundary.Shape[1] {
		return fmt.Errorf("embedding shapes must match, got %v and %v", zGlobal.Shape, zBoundary.Shape)
	}
	return nil
}
