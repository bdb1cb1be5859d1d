// Package session keeps the short-lived server side session that backs the session cookie.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/vault-service/internal/domain"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Store persists session identities keyed by an opaque id.
type Store interface {
	Create(ctx context.Context, identity domain.SessionIdentity, ttl time.Duration) (string, error)
	Get(ctx context.Context, id string) (domain.SessionIdentity, error)
	Delete(ctx context.Context, id string) error
	// DeleteUser drops every session belonging to the user.
	DeleteUser(ctx context.Context, userID int64) error
}

func newSessionID() string {
	return uuid.NewString()
}
