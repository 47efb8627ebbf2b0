package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"docuchat/internal/ai"
	"docuchat/internal/model"
	"docuchat/internal/rag"
	"docuchat/internal/repository"
	"docuchat/internal/session"
)

var ErrGeneration = errors.New("generation backend failed")

const systemInstruction = "You are a helpful assistant. Answer the user's question based only on the provided document context. If the context does not contain enough information, say so. Do not make up facts."

// AsyncMessagePublisher enqueues chat messages for write-behind persistence.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// HistoryCache fronts the durable message log for the history endpoint.
type HistoryCache interface {
	GetHistory(ctx context.Context, userID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, userID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, userID uint) error
	MarkDirty(ctx context.Context, userID uint) error
	IsDirty(ctx context.Context, userID uint) (bool, error)
}

// AnswerService is the retrieval engine: it resolves the user's active pair,
// retrieves the most relevant passages, assembles a grounded prompt with
// recent history, and calls the generation backend.
type AnswerService struct {
	registry     *session.Registry
	embedder     ai.Embedder
	generator    ai.Generator
	messageRepo  *repository.MessageRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	topK         int
	historyTurns int
	genTimeout   time.Duration
}

type AnswerResult struct {
	DocumentID string        `json:"document_id"`
	Answer     string        `json:"answer"`
	Passages   []rag.Passage `json:"passages"`
}

func NewAnswerService(
	registry *session.Registry,
	embedder ai.Embedder,
	generator ai.Generator,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	topK, historyTurns int,
	genTimeout time.Duration,
) *AnswerService {
	if topK <= 0 {
		topK = 3
	}
	if historyTurns <= 0 {
		historyTurns = 5
	}
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	return &AnswerService{
		registry:     registry,
		embedder:     embedder,
		generator:    generator,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
		topK:         topK,
		historyTurns: historyTurns,
		genTimeout:   genTimeout,
	}
}

// retrieval is the prepared state of one exchange: the resolved pair, the
// retrieved passages, and the assembled prompt.
type retrieval struct {
	question  string
	active    *session.ActiveDocument
	retrieved []rag.Passage
	messages  []ai.ChatMessage
}

// Answer runs one retrieval-augmented exchange. History is appended only
// after the generation backend succeeds; a failed call leaves both the
// in-memory history and the durable log untouched.
func (s *AnswerService) Answer(ctx context.Context, userID uint, question string) (*AnswerResult, error) {
	prep, err := s.prepare(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()
	answer, err := s.generator.Complete(genCtx, prep.messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	return s.commit(ctx, userID, prep, answer), nil
}

// AnswerStream is Answer with incremental delivery: onChunk sees each delta
// as the backend produces it. A backend without streaming support degrades
// to one chunk carrying the whole answer. History still moves only after
// the full response has arrived; a stream that dies midway commits nothing.
func (s *AnswerService) AnswerStream(ctx context.Context, userID uint, question string, onChunk func(chunk string) error) (*AnswerResult, error) {
	prep, err := s.prepare(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	var answer string
	if streamer, ok := s.generator.(ai.Streamer); ok {
		answer, err = streamer.StreamComplete(genCtx, prep.messages, onChunk)
	} else {
		answer, err = s.generator.Complete(genCtx, prep.messages)
		if err == nil && onChunk != nil {
			err = onChunk(answer)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	return s.commit(ctx, userID, prep, answer), nil
}

func (s *AnswerService) prepare(ctx context.Context, userID uint, question string) (*retrieval, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	active, err := s.registry.Active(userID)
	if err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}

	hits, err := active.Index.Search(queryVec, s.topK)
	if err != nil {
		return nil, err
	}

	// Hits outside the passage list would mean a stale or mismatched pair;
	// drop them rather than answer from garbage.
	retrieved := make([]rag.Passage, 0, len(hits))
	for _, h := range hits {
		if h.Seq < 0 || h.Seq >= len(active.Passages) {
			log.Printf("search returned out-of-range seq %d for document %s (%d passages)", h.Seq, active.DocumentID, len(active.Passages))
			continue
		}
		retrieved = append(retrieved, active.Passages[h.Seq])
	}

	return &retrieval{
		question:  question,
		active:    active,
		retrieved: retrieved,
		messages:  s.buildPromptMessages(userID, retrieved, question),
	}, nil
}

func (s *AnswerService) commit(ctx context.Context, userID uint, prep *retrieval, answer string) *AnswerResult {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	s.registry.AppendHistory(userID, prep.question, answer)
	s.recordExchange(ctx, userID, prep.active.DocumentID, prep.question, answer)

	return &AnswerResult{
		DocumentID: prep.active.DocumentID,
		Answer:     answer,
		Passages:   prep.retrieved,
	}
}

// buildPromptMessages assembles the prompt in a fixed order: system
// instruction, recent history, then context and question.
func (s *AnswerService) buildPromptMessages(userID uint, retrieved []rag.Passage, question string) []ai.ChatMessage {
	transcript := s.registry.Transcript(userID, s.historyTurns)

	messages := make([]ai.ChatMessage, 0, 2*len(transcript)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemInstruction})
	for _, turn := range transcript {
		messages = append(messages, ai.ChatMessage{Role: "user", Content: turn.Query})
		messages = append(messages, ai.ChatMessage{Role: "assistant", Content: turn.Answer})
	}

	var block strings.Builder
	block.WriteString("Context:\n")
	for i, p := range retrieved {
		if i > 0 {
			block.WriteString("\n")
		}
		block.WriteString(p.Text)
	}
	block.WriteString("\n\nQuestion: ")
	block.WriteString(question)
	block.WriteString("\nAnswer:")
	messages = append(messages, ai.ChatMessage{Role: "user", Content: block.String()})
	return messages
}

// recordExchange invalidates the history cache and enqueues both sides of
// the exchange for persistence. The write-behind path is best effort; the
// answer has already been produced and delivered.
func (s *AnswerService) recordExchange(ctx context.Context, userID uint, documentID, question, answer string) {
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, userID)
		_ = s.historyCache.DeleteHistory(ctx, userID)
	}
	if s.publisher == nil {
		return
	}
	now := time.Now()
	pair := []model.Message{
		{UserID: userID, DocumentID: documentID, Role: "user", Content: question, CreatedAt: now},
		{UserID: userID, DocumentID: documentID, Role: "assistant", Content: answer, CreatedAt: now},
	}
	for _, msg := range pair {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			log.Printf("enqueue message persist failed: %v", err)
			return
		}
	}
}

// GetHistory returns the durable message log, cache-aside through Redis.
func (s *AnswerService) GetHistory(ctx context.Context, userID uint, limit int) ([]model.Message, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, userID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, userID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListByUserID(userID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, userID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, userID, messages)
		}
	}
	return messages, nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
