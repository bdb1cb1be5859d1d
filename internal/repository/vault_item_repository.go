package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/vault-service/internal/domain"
)

// VaultItemRepository persists encrypted vault items. Every method is scoped to the owner.
type VaultItemRepository interface {
	Create(ctx context.Context, item *domain.VaultItem) error
	Update(ctx context.Context, item *domain.VaultItem) error
	GetByID(ctx context.Context, userID int64, id string) (*domain.VaultItem, error)
	ListByUser(ctx context.Context, userID int64, kind *domain.ItemKind) ([]domain.VaultItem, error)
	Delete(ctx context.Context, userID int64, id string) error
}

type vaultItemRepository struct {
	db DB
}

// NewVaultItemRepository returns a Postgres-backed implementation.
func NewVaultItemRepository(db DB) VaultItemRepository {
	return &vaultItemRepository{db: db}
}

func (r *vaultItemRepository) Create(ctx context.Context, item *domain.VaultItem) error {
	const query = `
        INSERT INTO vault_items (id, user_id, kind, ciphertext, nonce)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at`

	return r.db.QueryRow(ctx, query,
		item.ID,
		item.UserID,
		item.Kind,
		item.Ciphertext,
		item.Nonce,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *vaultItemRepository) Update(ctx context.Context, item *domain.VaultItem) error {
	const query = `
        UPDATE vault_items SET ciphertext=$1, nonce=$2, updated_at=NOW()
        WHERE id=$3 AND user_id=$4
        RETURNING updated_at`

	return r.db.QueryRow(ctx, query,
		item.Ciphertext,
		item.Nonce,
		item.ID,
		item.UserID,
	).Scan(&item.UpdatedAt)
}

func (r *vaultItemRepository) GetByID(ctx context.Context, userID int64, id string) (*domain.VaultItem, error) {
	const query = `
        SELECT id, user_id, kind, ciphertext, nonce, created_at, updated_at
        FROM vault_items WHERE id=$1 AND user_id=$2`

	var item domain.VaultItem
	if err := r.db.QueryRow(ctx, query, id, userID).Scan(
		&item.ID,
		&item.UserID,
		&item.Kind,
		&item.Ciphertext,
		&item.Nonce,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *vaultItemRepository) ListByUser(ctx context.Context, userID int64, kind *domain.ItemKind) ([]domain.VaultItem, error) {
	query := `
        SELECT id, user_id, kind, ciphertext, nonce, created_at, updated_at
        FROM vault_items WHERE user_id=$1`
	args := []any{userID}
	if kind != nil {
		query += ` AND kind=$2`
		args = append(args, *kind)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.VaultItem
	for rows.Next() {
		var item domain.VaultItem
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Kind,
			&item.Ciphertext,
			&item.Nonce,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *vaultItemRepository) Delete(ctx context.Context, userID int64, id string) error {
	const query = `DELETE FROM vault_items WHERE id=$1 AND user_id=$2`
	cmd, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
