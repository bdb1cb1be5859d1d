package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/vault-service/internal/api/dto"
	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/service"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

// AccountHandler exposes endpoints for the signed-in user's account.
type AccountHandler struct {
	auth     *service.AuthService
	sessions *auth.Sessions
	mw       *auth.AuthMiddleware
}

// NewAccountHandler constructs handler.
func NewAccountHandler(authService *service.AuthService, sessions *auth.Sessions, mw *auth.AuthMiddleware) *AccountHandler {
	return &AccountHandler{auth: authService, sessions: sessions, mw: mw}
}

// Show handles GET /account.
func (h *AccountHandler) Show(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	user, err := h.auth.User(c.UserContext(), principal.Identity.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AccountResponse{
		User:       dto.NewUserResponse(user),
		AuthMethod: principal.Method,
	}})
}

// ChangePassword handles POST /account/password. Every other session and
// persistent login of the user ends; this browser gets a fresh session.
func (h *AccountHandler) ChangePassword(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.PasswordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("current and new password required", nil)
	}

	if err := h.auth.ChangePassword(c.UserContext(), principal.Identity.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	if err := h.mw.Logout(c); err != nil {
		return err
	}
	if _, err := h.sessions.Start(c, principal.Identity); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "password changed"}})
}

// LogoutEverywhere handles POST /account/logout-everywhere.
func (h *AccountHandler) LogoutEverywhere(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	revoked, err := h.auth.LogoutEverywhere(c.UserContext(), principal.Identity.UserID)
	if err != nil {
		return err
	}
	if err := h.mw.Logout(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"revoked_tokens": revoked}})
}

func currentPrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}
