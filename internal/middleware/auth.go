package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go-photoshare/internal/model"
)

type authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.Principal, error)
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

type AuthMiddleware struct {
	auth authenticator
}

func NewAuthMiddleware(auth authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// RequireAuth resolves the bearer access token into a Principal. Inactive principals pass;
// what they may do is decided by the guard.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}

		principal, err := m.auth.Authenticate(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrTokenExpired):
				writeJSONError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired")
			case errors.Is(err, model.ErrInvalidToken):
				writeJSONError(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid access token")
			case errors.Is(err, model.ErrStoreUnavailable):
				slog.Error("authenticate failed", "error", err)
				writeJSONError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "please retry later")
			default:
				slog.Error("authenticate failed", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.Principal)
	return principal, ok
}

// WithPrincipal is the inverse of PrincipalFromContext.
func WithPrincipal(ctx context.Context, principal model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
