package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/repository"
	"github.com/spec-kit/vault-service/internal/session"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Remember-me outcomes reported to the metrics recorder.
const (
	RememberOutcomeIssued       = "issued"
	RememberOutcomeRotated      = "rotated"
	RememberOutcomeInvalid      = "invalid"
	RememberOutcomeStorageError = "storage_error"
	RememberOutcomeRevoked      = "revoked"
)

// Principal represents the authenticated caller.
type Principal struct {
	Identity  domain.SessionIdentity
	Method    domain.AuthMethod
	SessionID string
}

// RememberMeRecorder receives remember-me outcomes.
type RememberMeRecorder interface {
	RecordRememberMe(outcome string)
}

// MiddlewareDeps groups the collaborators of AuthMiddleware.
type MiddlewareDeps struct {
	Sessions   *Sessions
	Tokens     *TokenManager
	Remember   PersistentLogin
	Cookies    RememberCookies
	Users      repository.UserRepository
	Dispatcher events.Dispatcher
	Metrics    RememberMeRecorder
	Logger     *zap.Logger
	LoginPath  string
}

// AuthMiddleware resolves the caller from the session cookie, a bearer token
// or a remember-me cookie, in that order.
type AuthMiddleware struct {
	sessions   *Sessions
	tokens     *TokenManager
	remember   PersistentLogin
	cookies    RememberCookies
	users      repository.UserRepository
	dispatcher events.Dispatcher
	metrics    RememberMeRecorder
	logger     *zap.Logger
	loginPath  string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(deps MiddlewareDeps) *AuthMiddleware {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loginPath := deps.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	return &AuthMiddleware{
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		remember:   deps.Remember,
		cookies:    deps.Cookies,
		users:      deps.Users,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		loginPath:  loginPath,
	}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	sessionID, identity, err := m.sessions.Lookup(c)
	switch {
	case err == nil:
		return m.admit(c, &Principal{Identity: identity, Method: domain.AuthMethodSession, SessionID: sessionID})
	case !errors.Is(err, session.ErrNotFound):
		m.logger.Error("session lookup failed", zap.Error(err))
		return m.deny(c)
	}

	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		return m.bearer(c, header)
	}

	if cookie, ok := m.cookies.Find(c); ok {
		return m.rememberMe(c, cookie)
	}

	return m.deny(c)
}

func (m *AuthMiddleware) bearer(c *fiber.Ctx, header string) error {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	user, err := m.users.GetByID(c.UserContext(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.ToDomainError(err)
	}
	return m.admit(c, &Principal{Identity: user.Identity(), Method: domain.AuthMethodBearer})
}

func (m *AuthMiddleware) rememberMe(c *fiber.Ctx, cookie RememberCookie) error {
	ctx := c.UserContext()

	result, err := m.remember.Validate(ctx, cookie.Value)
	if errors.Is(err, ErrInvalidCredential) {
		m.cookies.Clear(c, cookie.Name)
		m.record(RememberOutcomeInvalid)
		m.publish(c, events.New(events.EventRememberMeRejected, 0, events.RememberMePayload{Reason: "invalid"}))
		return m.deny(c)
	}
	if err != nil {
		m.logger.Error("remember-me validation failed", zap.Error(err))
		m.record(RememberOutcomeStorageError)
		return m.deny(c)
	}

	rotated := result.Rotated
	name := m.cookies.Set(c, rotated)
	if name != cookie.Name {
		m.cookies.Clear(c, cookie.Name)
	}

	user, err := m.users.GetByID(ctx, result.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = m.remember.Revoke(ctx, rotated.Selector)
			m.cookies.Clear(c, name)
			m.record(RememberOutcomeInvalid)
		} else {
			m.logger.Error("load remember-me user failed", zap.Error(err), zap.Int64("user_id", result.UserID))
			m.record(RememberOutcomeStorageError)
		}
		return m.deny(c)
	}

	identity := user.Identity()
	sessionID, err := m.sessions.Start(c, identity)
	if err != nil {
		m.logger.Error("start session after remember-me failed", zap.Error(err), zap.Int64("user_id", user.ID))
		return m.deny(c)
	}

	m.record(RememberOutcomeRotated)
	m.publish(c, events.New(events.EventRememberMeRotated, user.ID, events.RememberMePayload{Selector: rotated.Selector}))
	return m.admit(c, &Principal{Identity: identity, Method: domain.AuthMethodRememberMe, SessionID: sessionID})
}

// IssueRemembered issues a remember-me credential for userID and sets its
// cookie. Credentials already presented on the request are revoked and
// cleared first.
func (m *AuthMiddleware) IssueRemembered(c *fiber.Ctx, userID int64) error {
	if err := m.forgetPresented(c, userID, "replaced"); err != nil {
		m.record(RememberOutcomeStorageError)
		return err
	}
	cred, err := m.remember.Issue(c.UserContext(), userID, 0)
	if err != nil {
		m.record(RememberOutcomeStorageError)
		return err
	}
	m.cookies.Set(c, cred)
	m.record(RememberOutcomeIssued)
	m.publish(c, events.New(events.EventRememberMeIssued, userID, events.RememberMePayload{Selector: cred.Selector}))
	return nil
}

// Logout revokes every remember-me cookie on the request, clears them and
// destroys the session.
func (m *AuthMiddleware) Logout(c *fiber.Ctx) error {
	var userID int64
	if _, identity, err := m.sessions.Lookup(c); err == nil {
		userID = identity.UserID
	}
	if err := m.forgetPresented(c, userID, "logout"); err != nil {
		return err
	}
	return m.sessions.Destroy(c)
}

// forgetPresented revokes and clears every remember-me cookie on the request.
func (m *AuthMiddleware) forgetPresented(c *fiber.Ctx, userID int64, reason string) error {
	ctx := c.UserContext()
	for _, cookie := range m.cookies.FindAll(c) {
		if selector, _, ok := ParseCredential(cookie.Value); ok {
			if err := m.remember.Revoke(ctx, selector); err != nil {
				return err
			}
			m.record(RememberOutcomeRevoked)
			m.publish(c, events.New(events.EventRememberMeRevoked, userID, events.RememberMePayload{Selector: selector, Reason: reason}))
		}
		m.cookies.Clear(c, cookie.Name)
	}
	return nil
}

// LogoutOnQuery performs Logout and redirects to the login page when the
// request carries a logout query parameter.
func (m *AuthMiddleware) LogoutOnQuery(c *fiber.Ctx) error {
	if c.Query("logout") == "" {
		return c.Next()
	}
	if err := m.Logout(c); err != nil {
		return err
	}
	return c.Redirect(m.loginPath, fiber.StatusSeeOther)
}

// LoginPath is where unauthenticated browsers are sent.
func (m *AuthMiddleware) LoginPath() string {
	return m.loginPath
}

func (m *AuthMiddleware) admit(c *fiber.Ctx, principal *Principal) error {
	c.Locals(principalKey, principal)
	return c.Next()
}

func (m *AuthMiddleware) deny(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodGet && strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML) {
		return c.Redirect(m.loginPath, fiber.StatusSeeOther)
	}
	return apperrors.NewUnauthorized("authentication required")
}

func (m *AuthMiddleware) record(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordRememberMe(outcome)
	}
}

func (m *AuthMiddleware) publish(c *fiber.Ctx, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Publish(c.UserContext(), event); err != nil {
		m.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
