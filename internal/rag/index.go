package rag

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
)

// FlatIndex is a write-once, brute-force nearest-neighbor index over one
// document's passage vectors, using squared Euclidean distance. Vector i
// always corresponds to passage Seq i; that alignment is the load-bearing
// invariant of the whole pipeline.
type FlatIndex struct {
	dim     int
	modelID string
	vectors [][]float32
}

// Hit is one search result: the passage sequence index and its squared L2
// distance from the query.
type Hit struct {
	Seq      int     `json:"seq"`
	Distance float32 `json:"distance"`
}

// BuildIndex validates that all vectors share one dimension and builds the
// index. modelID records the embedding model identity so that a later load
// can refuse a mismatched query-time model.
func BuildIndex(vectors [][]float32, modelID string) (*FlatIndex, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyInput
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, ErrEmptyInput
	}
	stored := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		cp := make([]float32, dim)
		copy(cp, v)
		stored[i] = cp
	}
	return &FlatIndex{dim: dim, modelID: modelID, vectors: stored}, nil
}

// Len returns the number of indexed vectors.
func (idx *FlatIndex) Len() int { return len(idx.vectors) }

// Dimension returns the vector dimension.
func (idx *FlatIndex) Dimension() int { return idx.dim }

// ModelID returns the embedding model identity stamped at build time.
func (idx *FlatIndex) ModelID() string { return idx.modelID }

// Search returns the k nearest vectors by squared L2 distance, ascending.
// k larger than the index size is clamped. Equal distances resolve by
// ascending Seq so results are deterministic.
func (idx *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d", ErrDimensionMismatch, len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(idx.vectors) {
		k = len(idx.vectors)
	}

	hits := make([]Hit, len(idx.vectors))
	for i, v := range idx.vectors {
		var d float32
		for j := range v {
			diff := v[j] - query[j]
			d += diff * diff
		}
		hits[i] = Hit{Seq: i, Distance: d}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Seq < hits[b].Seq
	})
	return hits[:k], nil
}

// indexArtifact is the gob wire form of a FlatIndex.
type indexArtifact struct {
	Dimension int
	ModelID   string
	Vectors   [][]float32
}

// Encode serializes the index to a gob blob.
func (idx *FlatIndex) Encode() ([]byte, error) {
	var buf bytes.Buffer
	artifact := indexArtifact{
		Dimension: idx.dim,
		ModelID:   idx.modelID,
		Vectors:   idx.vectors,
	}
	if err := gob.NewEncoder(&buf).Encode(artifact); err != nil {
		return nil, fmt.Errorf("encode index failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeIndex restores an index from its gob blob. The artifact's internal
// consistency is checked here; count-vs-passages and model identity checks
// belong to the store loading both halves of the pair.
func DecodeIndex(data []byte) (*FlatIndex, error) {
	var artifact indexArtifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode index failed: %w", err)
	}
	if artifact.Dimension <= 0 || len(artifact.Vectors) == 0 {
		return nil, fmt.Errorf("decode index failed: empty artifact")
	}
	for i, v := range artifact.Vectors {
		if len(v) != artifact.Dimension {
			return nil, fmt.Errorf("decode index failed: vector %d dimension %d, want %d", i, len(v), artifact.Dimension)
		}
	}
	return &FlatIndex{
		dim:     artifact.Dimension,
		modelID: artifact.ModelID,
		vectors: artifact.Vectors,
	}, nil
}
