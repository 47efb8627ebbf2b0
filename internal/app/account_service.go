package app

import (
	"context"
	"log"

	"docuchat/internal/repository"
	"docuchat/internal/session"
	"docuchat/internal/store"
)

// AccountService handles the data-clear and account-deletion flows, which cut
// across the registry, the caches, and every per-user persisted record.
type AccountService struct {
	userRepo     *repository.UserRepository
	docRepo      *repository.DocumentRepository
	messageRepo  *repository.MessageRepository
	indexStore   *store.IndexStore
	registry     *session.Registry
	historyCache HistoryCache
}

func NewAccountService(
	userRepo *repository.UserRepository,
	docRepo *repository.DocumentRepository,
	messageRepo *repository.MessageRepository,
	indexStore *store.IndexStore,
	registry *session.Registry,
	historyCache HistoryCache,
) *AccountService {
	return &AccountService{
		userRepo:     userRepo,
		docRepo:      docRepo,
		messageRepo:  messageRepo,
		indexStore:   indexStore,
		registry:     registry,
		historyCache: historyCache,
	}
}

// ClearData drops the user's in-memory session state and chat log. Document
// metadata and artifacts survive; the user can re-activate later.
func (s *AccountService) ClearData(ctx context.Context, userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	s.registry.Clear(userID)
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, userID)
	}
	return s.messageRepo.DeleteByUserID(userID)
}

// DeleteAccount removes everything the user owns: session state, chat log,
// document metadata, stored artifacts, and finally the account row.
func (s *AccountService) DeleteAccount(ctx context.Context, userID uint) error {
	if userID == 0 {
		return ErrInvalidInput
	}

	s.registry.Clear(userID)
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, userID)
	}

	docs, err := s.docRepo.ListByUserID(userID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.indexStore.Remove(ctx, doc.IndexLocation, doc.ChunksLocation); err != nil {
			log.Printf("remove artifacts for document %s during account deletion: %v", doc.ID, err)
		}
	}
	if err := s.docRepo.DeleteByUserID(userID); err != nil {
		return err
	}
	if err := s.messageRepo.DeleteByUserID(userID); err != nil {
		return err
	}
	return s.userRepo.DeleteByID(userID)
}
