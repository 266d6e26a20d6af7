package auth

import (
	"context"
	"net/http"
	"strings"
)

// IdentityResolver turns the session token used for HTTP requests into a user
// id. The HTTP middleware and the websocket handshake share one resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter browsers use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
