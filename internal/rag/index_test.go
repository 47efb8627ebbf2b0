package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndex_RejectsEmptyAndMismatched(t *testing.T) {
	_, err := BuildIndex(nil, "m")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = BuildIndex([][]float32{{}}, "m")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = BuildIndex([][]float32{{1, 2}, {1, 2, 3}}, "m")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuildIndex_CopiesVectors(t *testing.T) {
	source := [][]float32{{1, 0}, {0, 1}}
	idx, err := BuildIndex(source, "m")
	require.NoError(t, err)

	source[0][0] = 99
	hits, err := idx.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0].Seq)
	assert.Equal(t, float32(0), hits[0].Distance)
}

func TestSearch_OrdersByDistanceAscending(t *testing.T) {
	idx, err := BuildIndex([][]float32{
		{10, 0},
		{1, 0},
		{5, 0},
	}, "m")
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, 1, hits[0].Seq)
	assert.Equal(t, 2, hits[1].Seq)
	assert.Equal(t, 0, hits[2].Seq)

	assert.Equal(t, float32(1), hits[0].Distance)
	assert.Equal(t, float32(25), hits[1].Distance)
	assert.Equal(t, float32(100), hits[2].Distance)
}

func TestSearch_ClampsKToIndexSize(t *testing.T) {
	idx, err := BuildIndex([][]float32{{1}, {2}, {3}}, "m")
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestSearch_TieBreaksBySeq(t *testing.T) {
	idx, err := BuildIndex([][]float32{
		{0, 1},
		{1, 0},
		{0, -1},
	}, "m")
	require.NoError(t, err)

	hits, err := idx.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 0, hits[0].Seq)
	assert.Equal(t, 1, hits[1].Seq)
	assert.Equal(t, 2, hits[2].Seq)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	idx, err := BuildIndex([][]float32{{1, 2}}, "m")
	require.NoError(t, err)

	_, err = idx.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_NonPositiveK(t *testing.T) {
	idx, err := BuildIndex([][]float32{{1}}, "m")
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_Deterministic(t *testing.T) {
	idx, err := BuildIndex([][]float32{
		{0.3, 0.7}, {0.1, 0.2}, {0.9, 0.4}, {0.5, 0.5},
	}, "m")
	require.NoError(t, err)

	query := []float32{0.4, 0.4}
	first, err := idx.Search(query, 3)
	require.NoError(t, err)
	second, err := idx.Search(query, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	idx, err := BuildIndex([][]float32{
		{1, 2, 3},
		{4, 5, 6},
	}, "text-embedding-3-small")
	require.NoError(t, err)

	data, err := idx.Encode()
	require.NoError(t, err)

	restored, err := DecodeIndex(data)
	require.NoError(t, err)

	assert.Equal(t, idx.Len(), restored.Len())
	assert.Equal(t, idx.Dimension(), restored.Dimension())
	assert.Equal(t, idx.ModelID(), restored.ModelID())

	query := []float32{4, 5, 6}
	want, err := idx.Search(query, 2)
	require.NoError(t, err)
	got, err := restored.Search(query, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeIndex_RejectsGarbage(t *testing.T) {
	_, err := DecodeIndex([]byte("not a gob artifact"))
	assert.Error(t, err)

	idx, err := BuildIndex([][]float32{{1, 2}}, "m")
	require.NoError(t, err)
	data, err := idx.Encode()
	require.NoError(t, err)

	_, err = DecodeIndex(data[:len(data)/2])
	assert.Error(t, err)
}
