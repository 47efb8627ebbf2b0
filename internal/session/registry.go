package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

var (
	ErrNotActive        = errors.New("no active document for user")
	ErrDocumentNotFound = errors.New("document not found")
)

// Exchange is one (query, answer) turn of a user's conversation.
type Exchange struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// ActiveDocument is the loaded (index, passages) pair a user's queries run
// against. It is swapped into the registry as a single pointer, so readers
// always see a matching pair, never an old index with new passages.
type ActiveDocument struct {
	DocumentID string
	Index      *rag.FlatIndex
	Passages   []rag.Passage
}

// DocumentLookup resolves a document's metadata record.
type DocumentLookup interface {
	GetByIDAndUserID(id string, userID uint) (*model.Document, error)
}

// PairLoader reloads a persisted (index, passages) pair.
type PairLoader interface {
	Load(ctx context.Context, indexLoc, chunksLoc, modelID string) (*rag.FlatIndex, []rag.Passage, error)
}

// Registry tracks, per user, the active document pair and the conversation
// history. It is process-wide shared state: the map lock is held only for
// reads and pointer swaps, while artifact loading runs outside it so users
// never contend on each other's loads.
type Registry struct {
	docs    DocumentLookup
	loader  PairLoader
	modelID string

	mu      sync.RWMutex
	entries map[uint]*entry
}

type entry struct {
	active  *ActiveDocument
	history []Exchange
}

func NewRegistry(docs DocumentLookup, loader PairLoader, modelID string) *Registry {
	return &Registry{
		docs:    docs,
		loader:  loader,
		modelID: modelID,
		entries: make(map[uint]*entry),
	}
}

// Activate resolves the document's stored locations, loads the pair, and
// replaces the user's active document. History is retained across document
// switches. A failed activation leaves the previous state untouched.
func (r *Registry) Activate(ctx context.Context, userID uint, documentID string) error {
	doc, err := r.docs.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	if strings.TrimSpace(doc.IndexLocation) == "" || strings.TrimSpace(doc.ChunksLocation) == "" {
		return fmt.Errorf("%w: document %s has no stored artifacts", ErrDocumentNotFound, documentID)
	}

	// Load outside the lock; only the swap below is serialized.
	idx, passages, err := r.loader.Load(ctx, doc.IndexLocation, doc.ChunksLocation, r.modelID)
	if err != nil {
		return fmt.Errorf("load document %s failed: %w", documentID, err)
	}

	active := &ActiveDocument{
		DocumentID: documentID,
		Index:      idx,
		Passages:   passages,
	}

	r.mu.Lock()
	e := r.entries[userID]
	if e == nil {
		e = &entry{}
		r.entries[userID] = e
	}
	e.active = active
	r.mu.Unlock()
	return nil
}

// Active returns the user's current pair, or ErrNotActive if the user has
// never successfully activated a document (or has been cleared).
func (r *Registry) Active(userID uint) (*ActiveDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.entries[userID]
	if e == nil || e.active == nil {
		return nil, ErrNotActive
	}
	return e.active, nil
}

// AppendHistory records a completed exchange. The stored list is unbounded;
// only Transcript bounds what is surfaced.
func (r *Registry) AppendHistory(userID uint, query, answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[userID]
	if e == nil {
		e = &entry{}
		r.entries[userID] = e
	}
	e.history = append(e.history, Exchange{Query: query, Answer: answer})
}

// Transcript returns the most recent n exchanges in chronological order.
func (r *Registry) Transcript(userID uint, n int) []Exchange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.entries[userID]
	if e == nil || n <= 0 {
		return nil
	}
	history := e.history
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Exchange, len(history))
	copy(out, history)
	return out
}

// Deactivate drops the user's active pair if it refers to documentID, keeping
// history. Used when a document is deleted while active.
func (r *Registry) Deactivate(userID uint, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[userID]
	if e != nil && e.active != nil && e.active.DocumentID == documentID {
		e.active = nil
	}
}

// Clear removes the user's entry entirely: active pair and history. Used by
// the data-clear and account-deletion flows.
func (r *Registry) Clear(userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}
