package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/vault-service/internal/api/dto"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/service"
	apperrors "github.com/spec-kit/vault-service/pkg/util/errorutil"
)

const recentItems = 5

// VaultHandler manages the caller's vault items.
type VaultHandler struct {
	vault *service.VaultService
	auth  *service.AuthService
}

// NewVaultHandler constructs handler.
func NewVaultHandler(vaultService *service.VaultService, authService *service.AuthService) *VaultHandler {
	return &VaultHandler{vault: vaultService, auth: authService}
}

// Dashboard handles GET /.
func (h *VaultHandler) Dashboard(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	userID := principal.Identity.UserID

	user, err := h.auth.User(ctx, userID)
	if err != nil {
		return err
	}
	summary, err := h.vault.Summary(ctx, userID)
	if err != nil {
		return err
	}
	entries, err := h.vault.Recent(ctx, userID, recentItems)
	if err != nil {
		return err
	}
	recent := make([]dto.VaultItemSummary, 0, len(entries))
	for _, entry := range entries {
		recent = append(recent, dto.NewVaultItemSummary(entry))
	}

	return c.JSON(fiber.Map{"data": dto.DashboardResponse{
		User:       dto.NewUserResponse(user),
		AuthMethod: principal.Method,
		Total:      summary.Total,
		ByKind:     summary.ByKind,
		Recent:     recent,
	}})
}

// List handles GET /vault/items.
func (h *VaultHandler) List(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var kind *domain.ItemKind
	if raw := c.Query("kind"); raw != "" {
		k := domain.ItemKind(raw)
		kind = &k
	}

	entries, err := h.vault.List(c.UserContext(), principal.Identity.UserID, kind)
	if err != nil {
		return err
	}
	items := make([]dto.VaultItemSummary, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewVaultItemSummary(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Create handles POST /vault/items.
func (h *VaultHandler) Create(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.VaultItemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	entry, err := h.vault.Create(c.UserContext(), principal.Identity.UserID, req.Secret())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewVaultItemDetail(entry)})
}

// Get handles GET /vault/items/:id.
func (h *VaultHandler) Get(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	entry, err := h.vault.Get(c.UserContext(), principal.Identity.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewVaultItemDetail(entry)})
}

// Update handles PUT /vault/items/:id.
func (h *VaultHandler) Update(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.VaultItemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	entry, err := h.vault.Update(c.UserContext(), principal.Identity.UserID, c.Params("id"), req.Secret())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewVaultItemDetail(entry)})
}

// Delete handles DELETE /vault/items/:id.
func (h *VaultHandler) Delete(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	if err := h.vault.Delete(c.UserContext(), principal.Identity.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
