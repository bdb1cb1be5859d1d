package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/vault-service/internal/domain"
)

// RequireAuthMethod ensures the caller authenticated through one of the allowed methods.
func RequireAuthMethod(allowed ...domain.AuthMethod) fiber.Handler {
	allowedSet := make(map[domain.AuthMethod]struct{}, len(allowed))
	for _, method := range allowed {
		allowedSet[method] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Method]; !exists {
			return fiber.NewError(http.StatusForbidden, "browser session required")
		}
		return c.Next()
	}
}

// RequirePrincipal ensures a caller is authenticated by any method.
func RequirePrincipal() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		return c.Next()
	}
}
