package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/vault-service/internal/domain"
)

// PasswordResetRepository manages password reset token persistence.
type PasswordResetRepository interface {
	Create(ctx context.Context, reset *domain.PasswordReset) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error)
	// MarkUsed claims an unused token. It returns pgx.ErrNoRows when the
	// token is unknown or was already used.
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
}

type passwordResetRepository struct {
	db DB
}

// NewPasswordResetRepository constructs repository.
func NewPasswordResetRepository(db DB) PasswordResetRepository {
	return &passwordResetRepository{db: db}
}

func (r *passwordResetRepository) Create(ctx context.Context, reset *domain.PasswordReset) error {
	const query = `
        INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING created_at`
	return r.db.QueryRow(ctx, query,
		reset.ID,
		reset.UserID,
		reset.TokenHash,
		reset.ExpiresAt,
	).Scan(&reset.CreatedAt)
}

func (r *passwordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.PasswordReset, error) {
	const query = `
        SELECT id, user_id, token_hash, expires_at, used_at, created_at
        FROM password_reset_tokens WHERE token_hash=$1`
	var reset domain.PasswordReset
	if err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&reset.ID,
		&reset.UserID,
		&reset.TokenHash,
		&reset.ExpiresAt,
		&reset.UsedAt,
		&reset.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &reset, nil
}

func (r *passwordResetRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	const query = `
        UPDATE password_reset_tokens SET used_at=$1
        WHERE id=$2 AND used_at IS NULL`
	cmd, err := r.db.Exec(ctx, query, usedAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
