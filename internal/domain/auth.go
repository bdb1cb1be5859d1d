package domain

import "time"

// AuthMethod records how the caller of a request was authenticated.
type AuthMethod string

const (
	AuthMethodSession    AuthMethod = "session"
	AuthMethodRememberMe AuthMethod = "remember_me"
	AuthMethodBearer     AuthMethod = "bearer"
)

// SessionIdentity is the authenticated identity attached to a browser session.
type SessionIdentity struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// PersistentToken is one outstanding "remember me" credential.
// Only the hash of the validator is ever stored.
type PersistentToken struct {
	Selector      string
	ValidatorHash string
	UserID        int64
	ExpiresAt     time.Time
}

// Expired reports whether the token can no longer authenticate at now.
func (t PersistentToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// PasswordReset represents a stored single-use reset token.
type PasswordReset struct {
	ID        string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
