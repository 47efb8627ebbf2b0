package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_RejectsMissingInput(t *testing.T) {
	svc := NewIngestService(nil, nil, &fakeEmbedder{vec: []float32{1}}, 0)

	_, err := svc.Ingest(context.Background(), IngestInput{UserID: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ingest(context.Background(), IngestInput{UserID: 1, File: nil})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuildGuard_SingleFlightPerDocument(t *testing.T) {
	svc := NewIngestService(nil, nil, &fakeEmbedder{vec: []float32{1}}, 0)

	require.True(t, svc.acquireBuild("doc-1"))
	assert.False(t, svc.acquireBuild("doc-1"))
	assert.True(t, svc.acquireBuild("doc-2"))

	svc.releaseBuild("doc-1")
	assert.True(t, svc.acquireBuild("doc-1"))
}

// batchCountingEmbedder records batch sizes to verify request slicing.
type batchCountingEmbedder struct {
	batches []int
}

func (e *batchCountingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

func (e *batchCountingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (e *batchCountingEmbedder) ModelID() string { return "embed-v1" }

func TestEmbedAll_BatchesRequests(t *testing.T) {
	embedder := &batchCountingEmbedder{}
	svc := NewIngestService(nil, nil, embedder, 0)

	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d", i)
	}

	vectors, err := svc.embedAll(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 23)
	assert.Equal(t, []int{10, 10, 3}, embedder.batches)
}

func TestEmbedAll_PropagatesFailure(t *testing.T) {
	svc := NewIngestService(nil, nil, &fakeEmbedder{err: fmt.Errorf("rate limited")}, 0)

	_, err := svc.embedAll(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
