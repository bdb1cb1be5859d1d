package dto

import (
	"time"

	"github.com/spec-kit/vault-service/internal/domain"
)

// VaultItemRequest creates or replaces a vault item. On update kind may be
// omitted.
type VaultItemRequest struct {
	Kind     domain.ItemKind       `json:"kind"`
	Password *domain.PasswordEntry `json:"password,omitempty"`
	Card     *domain.CardEntry     `json:"card,omitempty"`
	Note     *domain.NoteEntry     `json:"note,omitempty"`
}

// Secret converts the request into the domain payload.
func (r VaultItemRequest) Secret() domain.VaultSecret {
	return domain.VaultSecret{
		Kind:     r.Kind,
		Password: r.Password,
		Card:     r.Card,
		Note:     r.Note,
	}
}

// VaultItemSummary is the listing view; it never carries secret fields.
type VaultItemSummary struct {
	ID        string          `json:"id"`
	Kind      domain.ItemKind `json:"kind"`
	Title     string          `json:"title"`
	Hint      string          `json:"hint,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// VaultItemDetail is the full decrypted item.
type VaultItemDetail struct {
	ID        string                `json:"id"`
	Kind      domain.ItemKind       `json:"kind"`
	Password  *domain.PasswordEntry `json:"password,omitempty"`
	Card      *domain.CardEntry     `json:"card,omitempty"`
	Note      *domain.NoteEntry     `json:"note,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// DashboardResponse is the landing page summary.
type DashboardResponse struct {
	User       UserResponse            `json:"user"`
	AuthMethod domain.AuthMethod       `json:"auth_method"`
	Total      int                     `json:"total"`
	ByKind     map[domain.ItemKind]int `json:"by_kind"`
	Recent     []VaultItemSummary      `json:"recent"`
}

// NewVaultItemSummary maps an entry to its listing view.
func NewVaultItemSummary(entry domain.VaultEntry) VaultItemSummary {
	return VaultItemSummary{
		ID:        entry.ID,
		Kind:      entry.Kind,
		Title:     entry.Secret.Title(),
		Hint:      entry.Secret.Hint(),
		UpdatedAt: entry.UpdatedAt,
	}
}

// NewVaultItemDetail maps an entry to its full view.
func NewVaultItemDetail(entry *domain.VaultEntry) VaultItemDetail {
	return VaultItemDetail{
		ID:        entry.ID,
		Kind:      entry.Kind,
		Password:  entry.Secret.Password,
		Card:      entry.Secret.Card,
		Note:      entry.Secret.Note,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}
