package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/vault-service/internal/api/http/handlers"
	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/domain"
	"github.com/spec-kit/vault-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	SSO            *handlers.SSOHandler
	Account        *handlers.AccountHandler
	Vault          *handlers.VaultHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/password/reset/request", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)
	authGroup.Get("/sso/login", cfg.SSO.Login)
	authGroup.Get("/sso/callback", cfg.SSO.Callback)

	mw := cfg.AuthMiddleware
	app.Get("/", mw.LogoutOnQuery, mw.Handle, cfg.Vault.Dashboard)

	// Credential changes need a browser that signed in, not a bearer token.
	browserOnly := auth.RequireAuthMethod(domain.AuthMethodSession, domain.AuthMethodRememberMe)

	account := app.Group("/account", mw.Handle)
	account.Get("", cfg.Account.Show)
	account.Post("/password", browserOnly, cfg.Account.ChangePassword)
	account.Post("/logout-everywhere", browserOnly, cfg.Account.LogoutEverywhere)

	vault := app.Group("/vault", mw.Handle)
	vault.Get("/items", cfg.Vault.List)
	vault.Post("/items", cfg.Vault.Create)
	vault.Get("/items/:id", cfg.Vault.Get)
	vault.Put("/items/:id", cfg.Vault.Update)
	vault.Delete("/items/:id", cfg.Vault.Delete)
}
