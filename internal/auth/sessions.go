package auth

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/session"
)

// Sessions binds the session store to the session cookie.
type Sessions struct {
	store      session.Store
	cookieName string
	ttl        time.Duration
}

// NewSessions constructs the session cookie helper.
func NewSessions(store session.Store, cfg config.SessionConfig) *Sessions {
	name := cfg.CookieName
	if name == "" {
		name = "vault_session"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Sessions{store: store, cookieName: name, ttl: ttl}
}

// Start creates a session for identity and sets the session cookie.
func (s *Sessions) Start(c *fiber.Ctx, identity domain.SessionIdentity) (string, error) {
	id, err := s.store.Create(c.UserContext(), identity, s.ttl)
	if err != nil {
		return "", err
	}
	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(s.ttl),
		Secure:   c.Protocol() == "https",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id, nil
}

// Lookup resolves the session cookie. A missing cookie yields session.ErrNotFound.
func (s *Sessions) Lookup(c *fiber.Ctx) (string, domain.SessionIdentity, error) {
	id := c.Cookies(s.cookieName)
	if id == "" {
		return "", domain.SessionIdentity{}, session.ErrNotFound
	}
	identity, err := s.store.Get(c.UserContext(), id)
	if err != nil {
		return "", domain.SessionIdentity{}, err
	}
	return id, identity, nil
}

// Destroy removes the current session and expires its cookie.
func (s *Sessions) Destroy(c *fiber.Ctx) error {
	if id := c.Cookies(s.cookieName); id != "" {
		if err := s.store.Delete(c.UserContext(), id); err != nil {
			return err
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		Secure:   c.Protocol() == "https",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return nil
}

// DestroyUser removes every session of the user.
func (s *Sessions) DestroyUser(ctx context.Context, userID int64) error {
	return s.store.DeleteUser(ctx, userID)
}
