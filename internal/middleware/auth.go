package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/model"
)

// ClaimsKey is the context key under which verified token claims live.
const ClaimsKey contextKey = "claims"

// BearerToken extracts the token from the Authorization header, if any.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Auth validates the bearer token and puts the verified claims on the
// request context. Expired and malformed tokens both reject with 401; the
// code distinguishes them for clients.
func (m *Middleware) Auth(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" {
				unauthorized(w, "unauthorized", "Authentication required")
				return
			}

			claims, err := issuer.Verify(tokenString)
			if err != nil {
				m.log.Debug().Err(err).Msg("token verification failed")
				if errors.Is(err, auth.ErrTokenExpired) {
					unauthorized(w, "token_expired", "The token has expired")
					return
				}
				unauthorized(w, "token_invalid", "The token is invalid")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches claims when a valid token is present and otherwise
// lets the request through anonymously. Never use it to gate anything.
func (m *Middleware) OptionalAuth(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString := BearerToken(r); tokenString != "" {
				if claims := issuer.OptionalVerify(tokenString); claims != nil {
					r = r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole gates a route on an explicit allowed-role set. Runs after Auth.
// The 403 payload names the required roles and the caller's actual role so
// misconfigured clients can diagnose themselves.
func (m *Middleware) RequireRole(allowed model.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				unauthorized(w, "unauthorized", "Authentication required")
				return
			}
			if !allowed.Contains(claims.Role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":          "forbidden",
						"message":       "Insufficient role for this operation",
						"requiredRoles": allowed.Roles(),
						"actualRole":    claims.Role,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves verified token claims from context, nil when the
// request is anonymous.
func GetClaims(ctx context.Context) *auth.TokenClaims {
	if claims, ok := ctx.Value(ClaimsKey).(*auth.TokenClaims); ok {
		return claims
	}
	return nil
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
