package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/vault-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered         EventType = "user_registered"
	EventLoginSucceeded         EventType = "login_succeeded"
	EventLoginFailed            EventType = "login_failed"
	EventRememberMeIssued       EventType = "remember_me_issued"
	EventRememberMeRotated      EventType = "remember_me_rotated"
	EventRememberMeRejected     EventType = "remember_me_rejected"
	EventRememberMeRevoked      EventType = "remember_me_revoked"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordResetCompleted EventType = "password_reset_completed"
	EventLoggedOutEverywhere    EventType = "logged_out_everywhere"
	EventVaultItemCreated       EventType = "vault_item_created"
	EventVaultItemUpdated       EventType = "vault_item_updated"
	EventVaultItemDeleted       EventType = "vault_item_deleted"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType EventType, userID int64, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LoginPayload payload.
type LoginPayload struct {
	Email  string            `json:"email"`
	Method domain.AuthMethod `json:"method,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

// RememberMePayload payload. Selectors are public lookup keys, never the validator.
type RememberMePayload struct {
	Selector    string `json:"selector,omitempty"`
	OldSelector string `json:"old_selector,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Count       int64  `json:"count,omitempty"`
}

// PasswordResetRequestedPayload carries the raw token for the mail stub only.
type PasswordResetRequestedPayload struct {
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VaultItemPayload payload.
type VaultItemPayload struct {
	ItemID string          `json:"item_id"`
	Kind   domain.ItemKind `json:"kind"`
}
