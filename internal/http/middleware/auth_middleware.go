package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/security"
	"github.com/breakroom-labs/sentinel/internal/service"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	claimsContextKey   contextKey = "claims"
)

// TokenFromRequest extracts the raw session token, preferring the cookie
// over an Authorization bearer header.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Auth verifies the session token on every request and loads the caller
// identity into the context. Banned accounts are rejected outright.
func Auth(authority *service.SessionAuthority, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r, cookieName)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token", nil)
				return
			}
			identity, claims, err := authority.Verify(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrTokenRevoked):
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session revoked", nil)
				case errors.Is(err, security.ErrInvalidToken):
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session token", nil)
				default:
					response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "session verification unavailable", nil)
				}
				return
			}
			if identity.IsBanned {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "account is banned", nil)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			ctx = context.WithValue(ctx, claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route to administrators. Must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
			return
		}
		if !identity.IsAdmin && !identity.IsSiteOwner {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "administrator access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(domain.Identity)
	return identity, ok
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*security.Claims)
	return claims, ok
}
