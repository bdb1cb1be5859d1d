package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/repository"
	"github.com/spec-kit/vault-service/internal/vaultcrypto"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

// VaultSummary counts a user's items per kind.
type VaultSummary struct {
	Total  int
	ByKind map[domain.ItemKind]int
}

// VaultService stores and retrieves encrypted secrets for their owner.
type VaultService struct {
	items      repository.VaultItemRepository
	users      repository.UserRepository
	keyring    *vaultcrypto.Keyring
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// VaultDependencies groups VaultService collaborators.
type VaultDependencies struct {
	ItemRepo   repository.VaultItemRepository
	UserRepo   repository.UserRepository
	Keyring    *vaultcrypto.Keyring
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewVaultService builds the service.
func NewVaultService(deps VaultDependencies) *VaultService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaultService{
		items:      deps.ItemRepo,
		users:      deps.UserRepo,
		keyring:    deps.Keyring,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// Create validates, encrypts and stores a new secret.
func (s *VaultService) Create(ctx context.Context, userID int64, secret domain.VaultSecret) (*domain.VaultEntry, error) {
	if problems := secret.Validate(); len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid vault item", problems)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	item := &domain.VaultItem{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   secret.Kind,
	}
	if err := s.seal(user, item, secret); err != nil {
		return nil, err
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.EventVaultItemCreated, userID, events.VaultItemPayload{ItemID: item.ID, Kind: item.Kind}))
	return entryFrom(item, secret), nil
}

// List returns the user's decrypted items, optionally of one kind.
func (s *VaultService) List(ctx context.Context, userID int64, kind *domain.ItemKind) ([]domain.VaultEntry, error) {
	if kind != nil && !kind.Valid() {
		return nil, apperrors.NewValidationError("invalid kind", map[string]any{"kind": "must be one of password, card, note"})
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByUser(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	return s.openAll(user, items)
}

// Recent returns the user's n most recent items. Only those n are decrypted.
func (s *VaultService) Recent(ctx context.Context, userID int64, n int) ([]domain.VaultEntry, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByUser(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	return s.openAll(user, items)
}

func (s *VaultService) openAll(user *domain.User, items []domain.VaultItem) ([]domain.VaultEntry, error) {
	entries := make([]domain.VaultEntry, 0, len(items))
	for i := range items {
		secret, err := s.open(user, &items[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entryFrom(&items[i], secret))
	}
	return entries, nil
}

// Get returns one decrypted item.
func (s *VaultService) Get(ctx context.Context, userID int64, id string) (*domain.VaultEntry, error) {
	user, item, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	secret, err := s.open(user, item)
	if err != nil {
		return nil, err
	}
	return entryFrom(item, secret), nil
}

// Update replaces an item's secret. The kind of an item never changes.
func (s *VaultService) Update(ctx context.Context, userID int64, id string, secret domain.VaultSecret) (*domain.VaultEntry, error) {
	user, item, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if secret.Kind == "" {
		secret.Kind = item.Kind
	}
	if secret.Kind != item.Kind {
		return nil, apperrors.NewValidationError("invalid vault item", map[string]any{"kind": "cannot be changed"})
	}
	if problems := secret.Validate(); len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid vault item", problems)
	}

	if err := s.seal(user, item, secret); err != nil {
		return nil, err
	}
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.EventVaultItemUpdated, userID, events.VaultItemPayload{ItemID: item.ID, Kind: item.Kind}))
	return entryFrom(item, secret), nil
}

// Delete removes an item.
func (s *VaultService) Delete(ctx context.Context, userID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFound("vault item", map[string]any{"id": id})
	}
	if err := s.items.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("vault item", map[string]any{"id": id})
		}
		return err
	}
	s.publish(ctx, events.New(events.EventVaultItemDeleted, userID, events.VaultItemPayload{ItemID: id}))
	return nil
}

// Summary counts items per kind without decrypting them.
func (s *VaultService) Summary(ctx context.Context, userID int64) (*VaultSummary, error) {
	items, err := s.items.ListByUser(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	summary := &VaultSummary{ByKind: map[domain.ItemKind]int{
		domain.ItemKindPassword: 0,
		domain.ItemKindCard:     0,
		domain.ItemKindNote:     0,
	}}
	for _, item := range items {
		summary.ByKind[item.Kind]++
		summary.Total++
	}
	return summary, nil
}

func (s *VaultService) load(ctx context.Context, userID int64, id string) (*domain.User, *domain.VaultItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, apperrors.NewNotFound("vault item", map[string]any{"id": id})
	}
	item, err := s.items.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewNotFound("vault item", map[string]any{"id": id})
		}
		return nil, nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, item, nil
}

func (s *VaultService) seal(user *domain.User, item *domain.VaultItem, secret domain.VaultSecret) error {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("encode vault item: %w", err)
	}
	ciphertext, nonce, err := s.keyring.Seal(user.ID, user.KeySalt, item.ID, plaintext)
	if err != nil {
		return err
	}
	item.Ciphertext = ciphertext
	item.Nonce = nonce
	return nil
}

func (s *VaultService) open(user *domain.User, item *domain.VaultItem) (domain.VaultSecret, error) {
	var secret domain.VaultSecret
	plaintext, err := s.keyring.Open(user.ID, user.KeySalt, item.ID, item.Ciphertext, item.Nonce)
	if err != nil {
		s.logger.Error("decrypt vault item", zap.String("item_id", item.ID), zap.Int64("user_id", user.ID), zap.Error(err))
		return secret, apperrors.NewInternalError(err)
	}
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return secret, apperrors.NewInternalError(fmt.Errorf("decode vault item %s: %w", item.ID, err))
	}
	return secret, nil
}

func (s *VaultService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func entryFrom(item *domain.VaultItem, secret domain.VaultSecret) *domain.VaultEntry {
	return &domain.VaultEntry{
		ID:        item.ID,
		Kind:      item.Kind,
		Secret:    secret,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}
