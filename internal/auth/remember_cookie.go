package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/vault-service/internal/config"
)

// legacyCookieNameLength is the length of a hex SHA-256 digest.
const legacyCookieNameLength = 64

// RememberCookie is a remember-me cookie found on a request.
type RememberCookie struct {
	Name  string
	Value string
}

// RememberCookies decides how remember-me credentials travel as cookies.
type RememberCookies struct {
	name   string
	legacy bool
}

// NewRememberCookies builds the cookie policy from configuration.
func NewRememberCookies(cfg config.RememberMeConfig) RememberCookies {
	name := cfg.CookieName
	if name == "" {
		name = "remember_me"
	}
	return RememberCookies{name: name, legacy: cfg.LegacyCookieNames}
}

// NameFor returns the cookie name used to carry cred.
func (rc RememberCookies) NameFor(cred Credential) string {
	if !rc.legacy {
		return rc.name
	}
	sum := sha256.Sum256([]byte(strconv.FormatInt(cred.IssuedAt.Unix(), 10)))
	return hex.EncodeToString(sum[:])
}

// Set writes cred to the response and returns the cookie name used.
func (rc RememberCookies) Set(c *fiber.Ctx, cred Credential) string {
	name := rc.NameFor(cred)
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    cred.Value(),
		Path:     "/",
		Expires:  cred.ExpiresAt,
		Secure:   c.Protocol() == "https",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return name
}

// Find returns the first remember-me cookie on the request.
func (rc RememberCookies) Find(c *fiber.Ctx) (RememberCookie, bool) {
	all := rc.FindAll(c)
	if len(all) == 0 {
		return RememberCookie{}, false
	}
	return all[0], true
}

// FindAll returns every remember-me cookie on the request, in header order.
func (rc RememberCookies) FindAll(c *fiber.Ctx) []RememberCookie {
	if !rc.legacy {
		value := c.Cookies(rc.name)
		if value == "" {
			return nil
		}
		return []RememberCookie{{Name: rc.name, Value: value}}
	}

	var found []RememberCookie
	c.Request().Header.VisitAllCookie(func(key, value []byte) {
		if len(key) == legacyCookieNameLength {
			found = append(found, RememberCookie{Name: string(key), Value: string(value)})
		}
	})
	return found
}

// Clear expires the named cookie on the client.
func (rc RememberCookies) Clear(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		Secure:   c.Protocol() == "https",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
