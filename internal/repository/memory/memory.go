// Package memory provides map-backed repositories used when no database is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/repository"
)

// UserRepository is an in-memory repository.UserRepository.
type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]domain.User
}

// NewUserRepository returns an empty store.
func NewUserRepository() *UserRepository {
	return &UserRepository{byID: make(map[int64]domain.User)}
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.UniqueViolation("users_email_key")
		}
	}
	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = cloneUser(*user)
	return nil
}

func (r *UserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[user.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	existing.Name = user.Name
	existing.Email = user.Email
	existing.PasswordHash = user.PasswordHash
	existing.UpdatedAt = time.Now().UTC()
	r.byID[user.ID] = existing
	user.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u := cloneUser(user)
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.byID {
		if strings.EqualFold(user.Email, email) {
			u := cloneUser(user)
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func cloneUser(u domain.User) domain.User {
	u.KeySalt = append([]byte(nil), u.KeySalt...)
	return u
}

// PersistentTokenRepository is an in-memory repository.PersistentTokenRepository.
type PersistentTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.PersistentToken
}

// NewPersistentTokenRepository returns an empty store.
func NewPersistentTokenRepository() *PersistentTokenRepository {
	return &PersistentTokenRepository{tokens: make(map[string]domain.PersistentToken)}
}

func (r *PersistentTokenRepository) Create(_ context.Context, token *domain.PersistentToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token.Selector]; ok {
		return repository.UniqueViolation("auth_tokens_pkey")
	}
	r.tokens[token.Selector] = *token
	return nil
}

func (r *PersistentTokenRepository) GetBySelector(_ context.Context, selector string) (*domain.PersistentToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[selector]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &token, nil
}

func (r *PersistentTokenRepository) DeleteBySelector(_ context.Context, selector string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, selector)
	return nil
}

func (r *PersistentTokenRepository) DeleteByUser(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for selector, token := range r.tokens {
		if token.UserID == userID {
			delete(r.tokens, selector)
			n++
		}
	}
	return n, nil
}

func (r *PersistentTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for selector, token := range r.tokens {
		if token.Expired(now) {
			delete(r.tokens, selector)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (r *PersistentTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// VaultItemRepository is an in-memory repository.VaultItemRepository.
type VaultItemRepository struct {
	mu    sync.RWMutex
	items map[string]domain.VaultItem
}

// NewVaultItemRepository returns an empty store.
func NewVaultItemRepository() *VaultItemRepository {
	return &VaultItemRepository{items: make(map[string]domain.VaultItem)}
}

func (r *VaultItemRepository) Create(_ context.Context, item *domain.VaultItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return repository.UniqueViolation("vault_items_pkey")
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	r.items[item.ID] = cloneItem(*item)
	return nil
}

func (r *VaultItemRepository) Update(_ context.Context, item *domain.VaultItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[item.ID]
	if !ok || existing.UserID != item.UserID {
		return pgx.ErrNoRows
	}
	existing.Ciphertext = append([]byte(nil), item.Ciphertext...)
	existing.Nonce = append([]byte(nil), item.Nonce...)
	existing.UpdatedAt = time.Now().UTC()
	r.items[item.ID] = existing
	item.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *VaultItemRepository) GetByID(_ context.Context, userID int64, id string) (*domain.VaultItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok || item.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	out := cloneItem(item)
	return &out, nil
}

func (r *VaultItemRepository) ListByUser(_ context.Context, userID int64, kind *domain.ItemKind) ([]domain.VaultItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []domain.VaultItem
	for _, item := range r.items {
		if item.UserID != userID {
			continue
		}
		if kind != nil && item.Kind != *kind {
			continue
		}
		items = append(items, cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (r *VaultItemRepository) Delete(_ context.Context, userID int64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok || item.UserID != userID {
		return pgx.ErrNoRows
	}
	delete(r.items, id)
	return nil
}

func cloneItem(item domain.VaultItem) domain.VaultItem {
	item.Ciphertext = append([]byte(nil), item.Ciphertext...)
	item.Nonce = append([]byte(nil), item.Nonce...)
	return item
}

// PasswordResetRepository is an in-memory repository.PasswordResetRepository.
type PasswordResetRepository struct {
	mu     sync.Mutex
	resets map[string]domain.PasswordReset
}

// NewPasswordResetRepository returns an empty store.
func NewPasswordResetRepository() *PasswordResetRepository {
	return &PasswordResetRepository{resets: make(map[string]domain.PasswordReset)}
}

func (r *PasswordResetRepository) Create(_ context.Context, reset *domain.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset.CreatedAt = time.Now().UTC()
	r.resets[reset.ID] = *reset
	return nil
}

func (r *PasswordResetRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reset := range r.resets {
		if reset.TokenHash == tokenHash {
			out := reset
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *PasswordResetRepository) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reset, ok := r.resets[id]
	if !ok || reset.UsedAt != nil {
		return pgx.ErrNoRows
	}
	reset.UsedAt = &usedAt
	r.resets[id] = reset
	return nil
}

var (
	_ repository.UserRepository            = (*UserRepository)(nil)
	_ repository.PersistentTokenRepository = (*PersistentTokenRepository)(nil)
	_ repository.VaultItemRepository       = (*VaultItemRepository)(nil)
	_ repository.PasswordResetRepository   = (*PasswordResetRepository)(nil)
)
