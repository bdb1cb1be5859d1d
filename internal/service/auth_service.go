package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/repository"
	"github.com/spec-kit/vault-service/internal/session"
	"github.com/spec-kit/vault-service/internal/vaultcrypto"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrResetTokenInvalid  = errors.New("reset token expired or used")
)

// TokenRevoker removes every persistent login of a user.
type TokenRevoker interface {
	RevokeUser(ctx context.Context, userID int64) (int64, error)
}

// AuthResult is returned by successful registration and login.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AuthService coordinates registration, login and credential changes.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	remember   TokenRevoker
	sessions   session.Store
	throttle   auth.LoginThrottle
	dispatcher events.Dispatcher
	logger     *zap.Logger
	tokenMgr   *auth.TokenManager
	bcryptCost int
	resetTTL   time.Duration
	now        func() time.Time
	// dummyHash is compared against for unknown emails so both paths pay for one bcrypt comparison.
	dummyHash string
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Remember          TokenRevoker
	Sessions          session.Store
	Throttle          auth.LoginThrottle
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := auth.HashPassword(uuid.NewString(), cfg.Auth.BcryptCost)
	if err != nil {
		logger.Warn("prepare dummy password hash", zap.Error(err))
	}
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		remember:   deps.Remember,
		sessions:   deps.Sessions,
		throttle:   deps.Throttle,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		resetTTL:   time.Duration(cfg.Auth.PasswordResetTTLMinutes) * time.Minute,
		now:        time.Now,
		dummyHash:  dummy,
	}
}

// Register creates a new account.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	problems := map[string]any{}
	if name == "" {
		problems["name"] = "required"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		problems["email"] = "must be a valid email address"
	}
	if len(password) < minPasswordLength {
		problems["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", problems)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, authError(ErrEmailTaken)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	user, err := s.newUser(name, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, authError(ErrEmailTaken)
		}
		return nil, err
	}

	s.publish(ctx, events.New(events.EventUserRegistered, user.ID, events.LoginPayload{Email: user.Email}))
	return s.result(user)
}

// Login authenticates by email and password, subject to the failed-login throttle.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	if s.throttle != nil {
		wait, err := s.throttle.Allow(ctx, email)
		if err != nil {
			return nil, err
		}
		if wait > 0 {
			return nil, apperrors.NewTooManyRequests("too many failed logins", wait)
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if user == nil {
		_ = auth.ComparePassword(s.dummyHash, password)
		return nil, s.loginFailed(ctx, 0, email, "unknown_email")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.loginFailed(ctx, user.ID, email, "bad_password")
	}

	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, email); err != nil {
			s.logger.Warn("reset login throttle", zap.Error(err))
		}
	}
	s.publish(ctx, events.New(events.EventLoginSucceeded, user.ID, events.LoginPayload{Email: email, Method: domain.AuthMethodSession}))
	return s.result(user)
}

// LoginWithSSO signs in a provider-verified identity, creating the account on first use.
func (s *AuthService) LoginWithSSO(ctx context.Context, identity auth.SSOIdentity) (*AuthResult, error) {
	email := normalizeEmail(identity.Email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if user == nil {
		name := strings.TrimSpace(identity.Name)
		if name == "" {
			name = email
		}
		// Random password: the account can only sign in through SSO until a reset.
		password, err := randomToken()
		if err != nil {
			return nil, err
		}
		user, err = s.newUser(name, email, password)
		if err != nil {
			return nil, err
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		s.publish(ctx, events.New(events.EventUserRegistered, user.ID, events.LoginPayload{Email: email, Reason: "sso"}))
	}

	s.publish(ctx, events.New(events.EventLoginSucceeded, user.ID, events.LoginPayload{Email: email, Reason: "sso"}))
	return s.result(user)
}

// User returns the account for id.
func (s *AuthService) User(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// ChangePassword verifies the current password, stores the new hash and
// signs the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("invalid password", map[string]any{
			"new_password": fmt.Sprintf("must be at least %d characters", minPasswordLength),
		})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return authError(ErrInvalidCredentials)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if _, err := s.revokeAll(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, events.New(events.EventPasswordChanged, userID, nil))
	return nil
}

// RequestPasswordReset stores a hashed single-use token and emits it for delivery.
// Unknown emails succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := randomToken()
	if err != nil {
		return err
	}
	reset := &domain.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: s.now().UTC().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return err
	}

	s.publish(ctx, events.New(events.EventPasswordResetRequested, user.ID, events.PasswordResetRequestedPayload{
		Email:     user.Email,
		Token:     raw,
		ExpiresAt: reset.ExpiresAt,
	}))
	return nil
}

// ConfirmPasswordReset validates the reset token and updates password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("invalid password", map[string]any{
			"new_password": fmt.Sprintf("must be at least %d characters", minPasswordLength),
		})
	}

	reset, err := s.resets.GetByTokenHash(ctx, hashToken(token))
	if errors.Is(err, pgx.ErrNoRows) {
		return authError(ErrResetTokenInvalid)
	}
	if err != nil {
		return err
	}
	now := s.now()
	if reset.UsedAt != nil || !reset.ExpiresAt.After(now) {
		return authError(ErrResetTokenInvalid)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	// Claim the token before changing anything so a second redemption fails.
	if err := s.resets.MarkUsed(ctx, reset.ID, now.UTC()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authError(ErrResetTokenInvalid)
		}
		return err
	}

	user, err := s.users.GetByID(ctx, reset.UserID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if _, err := s.revokeAll(ctx, user.ID); err != nil {
		return err
	}
	s.publish(ctx, events.New(events.EventPasswordResetCompleted, user.ID, nil))
	return nil
}

// LogoutEverywhere revokes every remember-me token and session of the user.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID int64) (int64, error) {
	n, err := s.revokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.New(events.EventLoggedOutEverywhere, userID, events.RememberMePayload{Count: n}))
	return n, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) revokeAll(ctx context.Context, userID int64) (int64, error) {
	var revoked int64
	if s.remember != nil {
		n, err := s.remember.RevokeUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		revoked = n
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteUser(ctx, userID); err != nil {
			return revoked, err
		}
	}
	return revoked, nil
}

func (s *AuthService) newUser(name, email, password string) (*domain.User, error) {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	salt, err := vaultcrypto.NewSalt()
	if err != nil {
		return nil, err
	}
	return &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		KeySalt:      salt,
	}, nil
}

func (s *AuthService) result(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID int64, email, reason string) error {
	if s.throttle != nil {
		if err := s.throttle.RecordFailure(ctx, email); err != nil {
			s.logger.Warn("record login failure", zap.Error(err))
		}
	}
	s.publish(ctx, events.New(events.EventLoginFailed, userID, events.LoginPayload{Email: email, Reason: reason}))
	return authError(ErrInvalidCredentials)
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func authError(sentinel error) error {
	switch {
	case errors.Is(sentinel, ErrInvalidCredentials):
		return &apperrors.DomainError{Code: "INVALID_CREDENTIALS", Message: sentinel.Error(), HTTPStatus: http.StatusUnauthorized, Err: sentinel}
	case errors.Is(sentinel, ErrEmailTaken):
		return &apperrors.DomainError{Code: "CONFLICT", Message: sentinel.Error(), HTTPStatus: http.StatusConflict, Err: sentinel}
	case errors.Is(sentinel, ErrResetTokenInvalid):
		return &apperrors.DomainError{Code: "RESET_TOKEN_INVALID", Message: sentinel.Error(), HTTPStatus: http.StatusBadRequest, Err: sentinel}
	}
	return apperrors.NewInternalError(sentinel)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
