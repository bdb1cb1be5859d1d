package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/vault-service/internal/api/dto"
	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/service"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

// AuthHandler exposes registration, login and password reset endpoints.
type AuthHandler struct {
	auth     *service.AuthService
	sessions *auth.Sessions
	mw       *auth.AuthMiddleware
	logger   *zap.Logger
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, sessions *auth.Sessions, mw *auth.AuthMiddleware, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: authService, sessions: sessions, mw: mw, logger: logger}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	result, err := h.auth.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	if err := h.signIn(c, result, req.Remember); err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": authData(result)})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	result, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	if err := h.signIn(c, result, req.Remember); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": authData(result)})
}

// Logout handles POST /auth/logout. It revokes every remember-me cookie the
// browser presents and ends the session.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.mw.Logout(c); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// RequestPasswordReset handles POST /auth/password/reset/request. The
// response is the same whether or not the email is known.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" {
		return apperrors.NewValidationError("email required", nil)
	}

	if err := h.auth.RequestPasswordReset(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"data": fiber.Map{"status": "if the address is registered, a reset link has been sent"},
	})
}

// ConfirmPasswordReset handles POST /auth/password/reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(c *fiber.Ctx) error {
	var req dto.PasswordResetConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Token == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("token and new password required", nil)
	}

	if err := h.auth.ConfirmPasswordReset(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password updated"}})
}

// signIn starts a browser session and, when asked, a persistent login.
func (h *AuthHandler) signIn(c *fiber.Ctx, result *service.AuthResult, remember bool) error {
	if _, err := h.sessions.Start(c, result.User.Identity()); err != nil {
		return err
	}
	if !remember {
		return nil
	}
	if err := h.mw.IssueRemembered(c, result.User.ID); err != nil {
		// The session is already established; the user only loses "remember me".
		h.logger.Error("issue remember-me credential", zap.Error(err), zap.Int64("user_id", result.User.ID))
	}
	return nil
}

func authData(result *service.AuthResult) fiber.Map {
	return fiber.Map{
		"user": dto.NewUserResponse(result.User),
		"auth": dto.AuthResponse{Token: result.Token, ExpiresAt: result.ExpiresAt},
	}
}
