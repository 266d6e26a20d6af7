package middleware

import (
	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/auth"
	"marketchat/pkg/response"
)

// ContextUserKey holds the authenticated user id on the echo context.
const ContextUserKey = "uid"

type AuthMiddleware struct {
	resolver auth.IdentityResolver
}

func NewAuthMiddleware(resolver auth.IdentityResolver) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid, err := m.Identify(c)
		if err != nil {
			return response.Error(c, err)
		}
		c.Set(ContextUserKey, uid)
		return next(c)
	}
}

// Identify resolves the caller without touching the response, so the websocket
// handshake can refuse before upgrading.
func (m *AuthMiddleware) Identify(c echo.Context) (string, error) {
	return m.resolver.Resolve(c.Request().Context(), auth.TokenFromRequest(c.Request()))
}

// UserID returns the id set by Authenticate.
func UserID(c echo.Context) string {
	uid, _ := c.Get(ContextUserKey).(string)
	return uid
}
