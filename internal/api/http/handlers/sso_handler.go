package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/service"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

const (
	ssoStateCookie    = "oauth_state"
	ssoRememberCookie = "oauth_remember"
	ssoCookieTTL      = 10 * time.Minute
)

// SSOExchanger runs the authorization code flow against an identity provider.
type SSOExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.SSOIdentity, error)
}

// SSOHandler exposes the single sign-on endpoints.
type SSOHandler struct {
	provider SSOExchanger
	auth     *service.AuthService
	sessions *auth.Sessions
	mw       *auth.AuthMiddleware
	logger   *zap.Logger
}

// NewSSOHandler constructs handler. A nil provider disables the endpoints.
func NewSSOHandler(provider SSOExchanger, authService *service.AuthService, sessions *auth.Sessions, mw *auth.AuthMiddleware, logger *zap.Logger) *SSOHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSOHandler{provider: provider, auth: authService, sessions: sessions, mw: mw, logger: logger}
}

// Login handles GET /auth/sso/login and redirects to the provider.
func (h *SSOHandler) Login(c *fiber.Ctx) error {
	if h.provider == nil {
		return apperrors.NewNotFound("sso", nil)
	}
	state, err := auth.NewState()
	if err != nil {
		return err
	}
	h.setCookie(c, ssoStateCookie, state, time.Now().Add(ssoCookieTTL))
	if c.QueryBool("remember") {
		h.setCookie(c, ssoRememberCookie, "1", time.Now().Add(ssoCookieTTL))
	}
	return c.Redirect(h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/sso/callback.
func (h *SSOHandler) Callback(c *fiber.Ctx) error {
	if h.provider == nil {
		return apperrors.NewNotFound("sso", nil)
	}
	state := c.Cookies(ssoStateCookie)
	remember := c.Cookies(ssoRememberCookie) == "1"
	h.setCookie(c, ssoStateCookie, "", time.Unix(0, 0).UTC())
	h.setCookie(c, ssoRememberCookie, "", time.Unix(0, 0).UTC())

	if state == "" || c.Query("state") != state {
		return apperrors.NewUnauthorized("invalid sso state")
	}
	code := c.Query("code")
	if code == "" {
		return apperrors.NewValidationError("code required", nil)
	}

	identity, err := h.provider.Exchange(c.UserContext(), code)
	if err != nil {
		h.logger.Warn("sso exchange failed", zap.Error(err))
		return apperrors.NewUnauthorized("sso sign-in failed")
	}
	result, err := h.auth.LoginWithSSO(c.UserContext(), identity)
	if err != nil {
		return err
	}

	if _, err := h.sessions.Start(c, result.User.Identity()); err != nil {
		return err
	}
	if remember {
		if err := h.mw.IssueRemembered(c, result.User.ID); err != nil {
			h.logger.Error("issue remember-me credential", zap.Error(err), zap.Int64("user_id", result.User.ID))
		}
	}
	return c.Redirect("/", http.StatusSeeOther)
}

func (h *SSOHandler) setCookie(c *fiber.Ctx, name, value string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/sso",
		Expires:  expires,
		Secure:   c.Protocol() == "https",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
