package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/platform/blob"
	"docuchat/internal/rag"
)

func newFilesystemStore(t *testing.T) *IndexStore {
	t.Helper()
	objects, err := blob.New(t.TempDir())
	require.NoError(t, err)
	return NewIndexStore(objects)
}

func buildPair(t *testing.T, modelID string) (*rag.FlatIndex, []rag.Passage) {
	t.Helper()
	passages := []rag.Passage{
		{Text: "alpha beta", Seq: 0},
		{Text: "gamma delta", Seq: 1},
		{Text: "epsilon zeta", Seq: 2},
	}
	idx, err := rag.BuildIndex([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}, modelID)
	require.NoError(t, err)
	return idx, passages
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFilesystemStore(t)
	idx, passages := buildPair(t, "embed-v1")

	indexLoc, chunksLoc, err := s.Persist(ctx, 7, "doc-1", idx, passages)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(indexLoc, "users/7/documents/doc-1/builds/"), indexLoc)
	assert.True(t, strings.HasSuffix(indexLoc, "/index.gob"), indexLoc)
	assert.True(t, strings.HasSuffix(chunksLoc, "/chunks.json"), chunksLoc)
	// Both halves of the pair live in the same build directory.
	assert.Equal(t, strings.TrimSuffix(indexLoc, "/index.gob"), strings.TrimSuffix(chunksLoc, "/chunks.json"))

	loadedIdx, loadedPassages, err := s.Load(ctx, indexLoc, chunksLoc, "embed-v1")
	require.NoError(t, err)
	assert.Equal(t, passages, loadedPassages)
	assert.Equal(t, idx.Len(), loadedIdx.Len())

	query := []float32{0, 1, 0}
	want, err := idx.Search(query, 2)
	require.NoError(t, err)
	got, err := loadedIdx.Search(query, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPersist_RejectsCountMismatch(t *testing.T) {
	ctx := context.Background()
	s := newFilesystemStore(t)
	idx, passages := buildPair(t, "embed-v1")

	_, _, err := s.Persist(ctx, 1, "doc-1", idx, passages[:2])
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestLoad_MissingArtifact(t *testing.T) {
	ctx := context.Background()
	s := newFilesystemStore(t)

	_, _, err := s.Load(ctx, "users/1/documents/nope/builds/b1/index.gob", "users/1/documents/nope/builds/b1/chunks.json", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_CorruptIndexBlob(t *testing.T) {
	ctx := context.Background()
	objects, err := blob.New(t.TempDir())
	require.NoError(t, err)
	s := NewIndexStore(objects)
	idx, passages := buildPair(t, "embed-v1")

	indexLoc, chunksLoc, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.NoError(t, err)

	require.NoError(t, objects.Put(ctx, indexLoc, []byte("truncated")))

	_, _, err = s.Load(ctx, indexLoc, chunksLoc, "embed-v1")
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestLoad_PassageCountMismatch(t *testing.T) {
	ctx := context.Background()
	objects, err := blob.New(t.TempDir())
	require.NoError(t, err)
	s := NewIndexStore(objects)
	idx, passages := buildPair(t, "embed-v1")

	indexLoc, chunksLoc, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.NoError(t, err)

	require.NoError(t, objects.Put(ctx, chunksLoc, []byte(`[{"text":"alpha beta","seq":0}]`)))

	_, _, err = s.Load(ctx, indexLoc, chunksLoc, "embed-v1")
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestLoad_ModelIdentityMismatch(t *testing.T) {
	ctx := context.Background()
	s := newFilesystemStore(t)
	idx, passages := buildPair(t, "embed-v1")

	indexLoc, chunksLoc, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.NoError(t, err)

	_, _, err = s.Load(ctx, indexLoc, chunksLoc, "embed-v2")
	assert.ErrorIs(t, err, ErrCorruptArtifact)

	// Empty modelID skips the identity check.
	_, _, err = s.Load(ctx, indexLoc, chunksLoc, "")
	assert.NoError(t, err)
}

// flakyObjectStore fails Put calls once a threshold is crossed and records
// deletes, to observe cleanup behavior.
type flakyObjectStore struct {
	puts    int
	failAt  int
	objects map[string][]byte
	deleted []string
}

func newFlakyObjectStore(failAt int) *flakyObjectStore {
	return &flakyObjectStore{failAt: failAt, objects: make(map[string][]byte)}
}

func (f *flakyObjectStore) Put(_ context.Context, path string, data []byte) error {
	f.puts++
	if f.puts >= f.failAt {
		return fmt.Errorf("disk full")
	}
	f.objects[path] = data
	return nil
}

func (f *flakyObjectStore) Get(_ context.Context, path string) ([]byte, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, fs.ErrNotExist)
	}
	return data, nil
}

func (f *flakyObjectStore) Delete(_ context.Context, path string) error {
	f.deleted = append(f.deleted, path)
	delete(f.objects, path)
	return nil
}

func TestPersist_CleansUpIndexWhenChunksWriteFails(t *testing.T) {
	ctx := context.Background()
	backend := newFlakyObjectStore(2)
	s := NewIndexStore(backend)
	idx, passages := buildPair(t, "embed-v1")

	_, _, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	require.Len(t, backend.deleted, 1)
	assert.True(t, strings.HasPrefix(backend.deleted[0], "users/1/documents/doc-1/builds/"), backend.deleted[0])
	assert.True(t, strings.HasSuffix(backend.deleted[0], "/index.gob"), backend.deleted[0])
	assert.Empty(t, backend.objects)
}

// failAfterPutStore delegates to a real backend but fails the Nth Put.
type failAfterPutStore struct {
	ObjectStore
	puts   int
	failAt int
}

func (f *failAfterPutStore) Put(ctx context.Context, path string, data []byte) error {
	f.puts++
	if f.puts == f.failAt {
		return fmt.Errorf("disk full")
	}
	return f.ObjectStore.Put(ctx, path, data)
}

func TestPersist_FailedRebuildKeepsPreviousBuildLoadable(t *testing.T) {
	ctx := context.Background()
	backend, err := blob.New(t.TempDir())
	require.NoError(t, err)
	idx, passages := buildPair(t, "embed-v1")

	s := NewIndexStore(backend)
	indexLoc, chunksLoc, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.NoError(t, err)

	// Rebuild of the same document dies on the chunks write.
	rebuilding := NewIndexStore(&failAfterPutStore{ObjectStore: backend, failAt: 2})
	_, _, err = rebuilding.Persist(ctx, 1, "doc-1", idx, passages)
	require.Error(t, err)

	loadedIdx, loadedPassages, err := s.Load(ctx, indexLoc, chunksLoc, "embed-v1")
	require.NoError(t, err)
	assert.Equal(t, passages, loadedPassages)
	assert.Equal(t, idx.Len(), loadedIdx.Len())
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newFilesystemStore(t)
	idx, passages := buildPair(t, "embed-v1")

	indexLoc, chunksLoc, err := s.Persist(ctx, 1, "doc-1", idx, passages)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, indexLoc, chunksLoc))
	require.NoError(t, s.Remove(ctx, indexLoc, chunksLoc))

	_, _, err = s.Load(ctx, indexLoc, chunksLoc, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
