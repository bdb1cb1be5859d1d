package repository

import (
	"context"
	"time"

	"github.com/spec-kit/vault-service/internal/domain"
)

// PersistentTokenRepository stores remember-me tokens keyed by selector.
type PersistentTokenRepository interface {
	Create(ctx context.Context, token *domain.PersistentToken) error
	// GetBySelector returns pgx.ErrNoRows when no token has the selector.
	GetBySelector(ctx context.Context, selector string) (*domain.PersistentToken, error)
	// DeleteBySelector is a no-op for unknown selectors.
	DeleteBySelector(ctx context.Context, selector string) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type persistentTokenRepository struct {
	db DB
}

// NewPersistentTokenRepository returns a Postgres-backed implementation.
func NewPersistentTokenRepository(db DB) PersistentTokenRepository {
	return &persistentTokenRepository{db: db}
}

func (r *persistentTokenRepository) Create(ctx context.Context, token *domain.PersistentToken) error {
	const query = `
        INSERT INTO auth_tokens (selector, hashed_validator, user_id, expires)
        VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query,
		token.Selector,
		token.ValidatorHash,
		token.UserID,
		token.ExpiresAt,
	)
	return err
}

func (r *persistentTokenRepository) GetBySelector(ctx context.Context, selector string) (*domain.PersistentToken, error) {
	const query = `
        SELECT selector, hashed_validator, user_id, expires
        FROM auth_tokens WHERE selector=$1`

	var token domain.PersistentToken
	if err := r.db.QueryRow(ctx, query, selector).Scan(
		&token.Selector,
		&token.ValidatorHash,
		&token.UserID,
		&token.ExpiresAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *persistentTokenRepository) DeleteBySelector(ctx context.Context, selector string) error {
	const query = `DELETE FROM auth_tokens WHERE selector=$1`
	_, err := r.db.Exec(ctx, query, selector)
	return err
}

func (r *persistentTokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `DELETE FROM auth_tokens WHERE user_id=$1`
	cmd, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *persistentTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM auth_tokens WHERE expires <= $1`
	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
