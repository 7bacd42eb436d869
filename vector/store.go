package vector

import (
	"container/heap"
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/symalign/tensor"
)

// Embedding pairs a vector with the label it represents
type Embedding struct {
	Vector []float64
	Label  string
}

// Match is a retrieval candidate with its similarity to the query
type Match struct {
	Embedding  Embedding
	Similarity float64
}

// matchHeap keeps the current top candidates, worst first
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Similarity < h[j].Similarity }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(e any) {
	*h = append(*h, e.(Match))
}

func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Cosine calculates the cosine of the angle between two vectors, ranging
// from -1 to 1 where 1 means the vectors point the same way. A zero vector
// has no direction, so its similarity to anything is 0.
func Cosine(a, b *mat.VecDense) float64 {
	dotProduct := mat.Dot(a, b)
	norms := mat.Norm(a, 2) * mat.Norm(b, 2)

	if norms == 0 {
		return 0
	}
	return dotProduct / norms
}

// TopK returns the k embeddings most similar to the query, best first.
// Fewer than k embeddings yield a correspondingly shorter result.
func TopK(k int, query *mat.VecDense, embeddings []Embedding) []Match {
	h := &matchHeap{}
	heap.Init(h)
	for _, emb := range embeddings {
		similarity := Cosine(query, mat.NewVecDense(len(emb.Vector), emb.Vector))
		heap.Push(h, Match{Embedding: emb, Similarity: similarity})
		if h.Len() > k {
			heap.Pop(h)
		}
	}

	topK := make([]Match, 0, h.Len())
	for h.Len() > 0 {
		topK = append(topK, heap.Pop(h).(Match))
	}
	sort.Slice(topK, func(i, j int) bool {
		return topK[i].Similarity > topK[j].Similarity
	})

	return topK
}

// FromRows converts a [batch, dim] tensor into labeled embeddings. A nil
// labels slice labels rows by index; otherwise one label per row is required.
func FromRows(t *tensor.Tensor, labels []string) ([]Embedding, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("embeddings must be 2D [batch, dim], got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if labels != nil && len(labels) != rows {
		return nil, fmt.Errorf("got %d labels for %d rows", len(labels), rows)
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	embeddings := make([]Embedding, rows)
	for i := 0; i < rows; i++ {
		vec := make([]float64, cols)
		for j := 0; j < cols; j++ {
			vec[j] = float64(data[i*cols+j])
		}
		label := strconv.Itoa(i)
		if labels != nil {
			label = labels[i]
		}
		embeddings[i] = Embedding{Vector: vec, Label: label}
	}
	return embeddings, nil
}

// Row extracts one row of a [batch, dim] tensor as a dense vector
func Row(t *tensor.Tensor, i int) (*mat.VecDense, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("embeddings must be 2D [batch, dim], got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if i < 0 || i >= rows {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, rows)
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	vec := make([]float64, cols)
	for j := 0; j < cols; j++ {
		vec[j] = float64(data[i*cols+j])
	}
	return mat.NewVecDense(cols, vec), nil
}
