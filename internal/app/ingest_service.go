package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"docuchat/internal/ai"
	"docuchat/internal/extract"
	"docuchat/internal/model"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
	"docuchat/internal/store"
)

// DashScope and similar APIs limit embedding batch size.
const embeddingBatchSize = 10

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBuildInProgress  = errors.New("a build for this document is already in progress")
)

// IngestService turns an uploaded file into a persisted (index, passages)
// pair plus a metadata record. At most one build per document id may be in
// flight; a concurrent attempt is rejected, not queued.
type IngestService struct {
	docRepo    *repository.DocumentRepository
	indexStore *store.IndexStore
	embedder   ai.Embedder
	chunkSize  int

	mu       sync.Mutex
	building map[string]struct{}
}

type IngestInput struct {
	UserID      uint
	DocumentID  string // non-empty = rebuild an existing document
	Filename    string
	DisplayName string
	File        io.Reader
}

type IngestResult struct {
	Document     model.Document `json:"document"`
	PassageCount int            `json:"passage_count"`
}

func NewIngestService(
	docRepo *repository.DocumentRepository,
	indexStore *store.IndexStore,
	embedder ai.Embedder,
	chunkSize int,
) *IngestService {
	if chunkSize <= 0 {
		chunkSize = rag.DefaultChunkSize
	}
	return &IngestService{
		docRepo:    docRepo,
		indexStore: indexStore,
		embedder:   embedder,
		chunkSize:  chunkSize,
		building:   make(map[string]struct{}),
	}
}

// Ingest extracts text, chunks it, embeds every passage, builds the index,
// persists both artifacts, and records the document metadata. Re-ingesting an
// existing document id rebuilds its entire index from the fresh chunk set;
// there is no incremental update.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.UserID == 0 || input.File == nil {
		return nil, ErrInvalidInput
	}

	var existing *model.Document
	documentID := strings.TrimSpace(input.DocumentID)
	if documentID != "" {
		doc, err := s.docRepo.GetByIDAndUserID(documentID, input.UserID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, ErrDocumentNotFound
		}
		existing = doc
	} else {
		documentID = uuid.NewString()
	}

	if !s.acquireBuild(documentID) {
		return nil, ErrBuildInProgress
	}
	defer s.releaseBuild(documentID)

	text, err := extract.Text(input.Filename, input.File)
	if err != nil {
		return nil, err
	}

	passages, err := rag.Chunk(text, s.chunkSize)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedAll(ctx, rag.PassageTexts(passages))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(passages) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d passages", len(vectors), len(passages))
	}

	idx, err := rag.BuildIndex(vectors, s.embedder.ModelID())
	if err != nil {
		return nil, err
	}

	indexLoc, chunksLoc, err := s.indexStore.Persist(ctx, input.UserID, documentID, idx, passages)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(input.Filename)
	}
	if displayName == "" {
		displayName = "Untitled"
	}

	var oldIndexLoc, oldChunksLoc string
	doc := existing
	if doc == nil {
		doc = &model.Document{
			ID:             documentID,
			UserID:         input.UserID,
			DisplayName:    displayName,
			IndexLocation:  indexLoc,
			ChunksLocation: chunksLoc,
			PassageCount:   len(passages),
		}
		err = s.docRepo.Create(doc)
	} else {
		oldIndexLoc, oldChunksLoc = doc.IndexLocation, doc.ChunksLocation
		doc.DisplayName = displayName
		doc.IndexLocation = indexLoc
		doc.ChunksLocation = chunksLoc
		doc.PassageCount = len(passages)
		err = s.docRepo.Update(doc)
	}
	if err != nil {
		// The metadata record still points at the previous build, so only
		// the fresh pair is removed.
		if cleanupErr := s.indexStore.Remove(ctx, indexLoc, chunksLoc); cleanupErr != nil {
			log.Printf("cleanup artifacts after failed metadata write: %v", cleanupErr)
		}
		return nil, err
	}

	if oldIndexLoc != "" || oldChunksLoc != "" {
		if cleanupErr := s.indexStore.Remove(ctx, oldIndexLoc, oldChunksLoc); cleanupErr != nil {
			log.Printf("remove superseded artifacts for document %s: %v", documentID, cleanupErr)
		}
	}

	return &IngestResult{Document: *doc, PassageCount: len(passages)}, nil
}

// ListDocuments returns the user's document metadata records.
func (s *IngestService) ListDocuments(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(userID)
}

// DeleteDocument removes a document's metadata record and both artifacts.
func (s *IngestService) DeleteDocument(ctx context.Context, userID uint, documentID string) (*model.Document, error) {
	if userID == 0 || documentID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if err := s.docRepo.DeleteByIDAndUserID(documentID, userID); err != nil {
		return nil, err
	}
	if err := s.indexStore.Remove(ctx, doc.IndexLocation, doc.ChunksLocation); err != nil {
		log.Printf("remove artifacts for deleted document %s: %v", documentID, err)
	}
	return doc, nil
}

func (s *IngestService) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedder.EmbedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed passages %d-%d failed: %w", i, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *IngestService) acquireBuild(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.building[documentID]; busy {
		return false
	}
	s.building[documentID] = struct{}{}
	return true
}

func (s *IngestService) releaseBuild(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.building, documentID)
}
