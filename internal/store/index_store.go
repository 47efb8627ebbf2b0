package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/google/uuid"

	"docuchat/internal/rag"
)

var (
	ErrNotFound        = errors.New("artifact not found")
	ErrCorruptArtifact = errors.New("corrupt artifact")
)

// ObjectStore is the durable blob backend. Get on a missing path returns an
// error satisfying errors.Is(err, fs.ErrNotExist).
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// IndexStore persists and reloads (index, passages) pairs. Artifacts are
// addressed by (userID, documentID, buildID) so identically named uploads
// from different users never collide and a rebuild never writes over the
// pair the metadata record currently points at.
type IndexStore struct {
	objects ObjectStore
}

func NewIndexStore(objects ObjectStore) *IndexStore {
	return &IndexStore{objects: objects}
}

func buildPrefix(userID uint, documentID, buildID string) string {
	return fmt.Sprintf("users/%d/documents/%s/builds/%s", userID, documentID, buildID)
}

// Persist writes the index blob and the passage list for a document under a
// fresh build id and returns their locations. Earlier builds stay untouched
// until the caller has committed the new locations and removes them. If the
// second write fails, the first artifact is removed before the error
// surfaces; a failed cleanup is logged but never masks the original error.
func (s *IndexStore) Persist(ctx context.Context, userID uint, documentID string, idx *rag.FlatIndex, passages []rag.Passage) (string, string, error) {
	if idx == nil || len(passages) == 0 {
		return "", "", rag.ErrEmptyInput
	}
	if idx.Len() != len(passages) {
		return "", "", fmt.Errorf("%w: %d vectors for %d passages", ErrCorruptArtifact, idx.Len(), len(passages))
	}

	indexBlob, err := idx.Encode()
	if err != nil {
		return "", "", err
	}
	chunksBlob, err := json.Marshal(passages)
	if err != nil {
		return "", "", fmt.Errorf("encode passages failed: %w", err)
	}

	prefix := buildPrefix(userID, documentID, uuid.NewString())
	indexLoc := prefix + "/index.gob"
	chunksLoc := prefix + "/chunks.json"

	if err := s.objects.Put(ctx, indexLoc, indexBlob); err != nil {
		return "", "", fmt.Errorf("persist index failed: %w", err)
	}
	if err := s.objects.Put(ctx, chunksLoc, chunksBlob); err != nil {
		if cleanupErr := s.objects.Delete(ctx, indexLoc); cleanupErr != nil {
			log.Printf("cleanup index artifact after failed persist: %v", cleanupErr)
		}
		return "", "", fmt.Errorf("persist passages failed: %w", err)
	}
	return indexLoc, chunksLoc, nil
}

// Load fetches and decodes both artifacts. The vector count must match the
// passage count and, when modelID is non-empty, the index must have been
// built with the same embedding model; either violation is data corruption
// and is reported, never patched.
func (s *IndexStore) Load(ctx context.Context, indexLoc, chunksLoc, modelID string) (*rag.FlatIndex, []rag.Passage, error) {
	indexBlob, err := s.objects.Get(ctx, indexLoc)
	if err != nil {
		return nil, nil, wrapFetch("index", err)
	}
	chunksBlob, err := s.objects.Get(ctx, chunksLoc)
	if err != nil {
		return nil, nil, wrapFetch("passages", err)
	}

	idx, err := rag.DecodeIndex(indexBlob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	var passages []rag.Passage
	if err := json.Unmarshal(chunksBlob, &passages); err != nil {
		return nil, nil, fmt.Errorf("%w: decode passages: %v", ErrCorruptArtifact, err)
	}
	if idx.Len() != len(passages) {
		return nil, nil, fmt.Errorf("%w: %d vectors for %d passages", ErrCorruptArtifact, idx.Len(), len(passages))
	}
	if modelID != "" && idx.ModelID() != modelID {
		return nil, nil, fmt.Errorf("%w: index built with model %q, querying with %q", ErrCorruptArtifact, idx.ModelID(), modelID)
	}
	return idx, passages, nil
}

// Remove deletes both artifacts of a document. Missing artifacts are not an
// error so the delete flow stays idempotent.
func (s *IndexStore) Remove(ctx context.Context, indexLoc, chunksLoc string) error {
	var removeErr error
	for _, loc := range []string{indexLoc, chunksLoc} {
		if loc == "" {
			continue
		}
		if err := s.objects.Delete(ctx, loc); err != nil {
			removeErr = err
		}
	}
	return removeErr
}

func wrapFetch(what string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s artifact missing", ErrNotFound, what)
	}
	return fmt.Errorf("fetch %s artifact failed: %w", what, err)
}
