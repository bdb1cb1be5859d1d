package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/repository"
)

const (
	selectorBytes  = 12
	validatorBytes = 32
	// maxCredentialLength bounds the cookie value accepted for parsing.
	maxCredentialLength = 2*selectorBytes + 1 + 2*validatorBytes

	// DefaultRememberLifetime is the rotation policy lifetime.
	DefaultRememberLifetime = 5 * 24 * time.Hour
)

// ErrInvalidCredential is the single outcome for malformed, unknown, tampered
// or expired remember-me credentials.
var ErrInvalidCredential = errors.New("invalid remember-me credential")

// Credential is a freshly issued remember-me token. Validator is only ever
// held in memory and in the client cookie.
type Credential struct {
	Selector  string
	Validator string
	UserID    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Value is the cookie value, selector:validator.
func (c Credential) Value() string {
	return c.Selector + ":" + c.Validator
}

// Validation is the result of a successful Validate.
type Validation struct {
	UserID  int64
	Rotated Credential
}

// PersistentLogin issues and checks long-lived login credentials.
type PersistentLogin interface {
	Issue(ctx context.Context, userID int64, lifetime time.Duration) (Credential, error)
	Validate(ctx context.Context, value string) (Validation, error)
	Rotate(ctx context.Context, oldSelector string, userID int64) (Credential, error)
	Revoke(ctx context.Context, selector string) error
}

// RememberMeManager implements PersistentLogin over a token repository.
type RememberMeManager struct {
	tokens   repository.PersistentTokenRepository
	lifetime time.Duration
	logger   *zap.Logger
	now      func() time.Time
	random   io.Reader
}

// NewRememberMeManager builds a manager. lifetime is used by Rotate and when
// Issue is called with a non-positive lifetime.
func NewRememberMeManager(tokens repository.PersistentTokenRepository, lifetime time.Duration, logger *zap.Logger) *RememberMeManager {
	if lifetime <= 0 {
		lifetime = DefaultRememberLifetime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RememberMeManager{
		tokens:   tokens,
		lifetime: lifetime,
		logger:   logger,
		now:      time.Now,
		random:   rand.Reader,
	}
}

// Issue creates and stores a new credential for userID.
func (m *RememberMeManager) Issue(ctx context.Context, userID int64, lifetime time.Duration) (Credential, error) {
	if lifetime <= 0 {
		lifetime = m.lifetime
	}

	selector, err := m.randomHex(selectorBytes)
	if err != nil {
		return Credential{}, err
	}
	validator, err := m.randomHex(validatorBytes)
	if err != nil {
		return Credential{}, err
	}

	now := m.now().UTC()
	cred := Credential{
		Selector:  selector,
		Validator: validator,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}

	if err := m.tokens.Create(ctx, &domain.PersistentToken{
		Selector:      selector,
		ValidatorHash: hashValidator(validator),
		UserID:        userID,
		ExpiresAt:     cred.ExpiresAt,
	}); err != nil {
		return Credential{}, fmt.Errorf("store remember-me token: %w", err)
	}
	return cred, nil
}

// Validate checks value and, when it is good, rotates it. Every rejected
// credential yields ErrInvalidCredential; storage failures are returned wrapped.
func (m *RememberMeManager) Validate(ctx context.Context, value string) (Validation, error) {
	selector, validator, ok := ParseCredential(value)
	if !ok {
		m.reject("malformed", "")
		return Validation{}, ErrInvalidCredential
	}

	token, err := m.tokens.GetBySelector(ctx, selector)
	if errors.Is(err, pgx.ErrNoRows) {
		m.reject("unknown_selector", selector)
		return Validation{}, ErrInvalidCredential
	}
	if err != nil {
		return Validation{}, fmt.Errorf("load remember-me token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(hashValidator(validator)), []byte(token.ValidatorHash)) != 1 {
		m.reject("hash_mismatch", selector)
		return Validation{}, ErrInvalidCredential
	}

	if token.Expired(m.now()) {
		m.reject("expired", selector)
		if err := m.Revoke(ctx, selector); err != nil {
			return Validation{}, err
		}
		return Validation{}, ErrInvalidCredential
	}

	rotated, err := m.Rotate(ctx, selector, token.UserID)
	if err != nil {
		return Validation{}, err
	}
	return Validation{UserID: token.UserID, Rotated: rotated}, nil
}

// Rotate replaces oldSelector with a fresh credential carrying the policy lifetime.
func (m *RememberMeManager) Rotate(ctx context.Context, oldSelector string, userID int64) (Credential, error) {
	if err := m.Revoke(ctx, oldSelector); err != nil {
		return Credential{}, err
	}
	return m.Issue(ctx, userID, m.lifetime)
}

// Revoke deletes the token with selector. Unknown selectors are ignored.
func (m *RememberMeManager) Revoke(ctx context.Context, selector string) error {
	if selector == "" {
		return nil
	}
	if err := m.tokens.DeleteBySelector(ctx, selector); err != nil {
		return fmt.Errorf("delete remember-me token: %w", err)
	}
	return nil
}

// RevokeUser deletes every remember-me token of the user.
func (m *RememberMeManager) RevokeUser(ctx context.Context, userID int64) (int64, error) {
	n, err := m.tokens.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete remember-me tokens: %w", err)
	}
	return n, nil
}

// Lifetime returns the rotation lifetime.
func (m *RememberMeManager) Lifetime() time.Duration {
	return m.lifetime
}

func (m *RememberMeManager) reject(reason, selector string) {
	m.logger.Debug("remember-me credential rejected",
		zap.String("reason", reason),
		zap.String("selector", selector))
}

func (m *RememberMeManager) randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return "", fmt.Errorf("generate remember-me token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ParseCredential splits a cookie value into selector and validator.
func ParseCredential(value string) (selector, validator string, ok bool) {
	if value == "" || len(value) > maxCredentialLength {
		return "", "", false
	}
	selector, validator, found := strings.Cut(value, ":")
	if !found || selector == "" || validator == "" {
		return "", "", false
	}
	return selector, validator, true
}

func hashValidator(validator string) string {
	sum := sha256.Sum256([]byte(validator))
	return hex.EncodeToString(sum[:])
}

var _ PersistentLogin = (*RememberMeManager)(nil)
