package identity

import (
	"context"
	"net/http"
	"strings"
)

// APIKeyLookup resolves a hashed API key to an Identity, backed by whatever
// store holds API key rows (kept outside this package to avoid a DB
// dependency here — see internal/app for wiring).
type APIKeyLookup func(ctx context.Context, hashedKey string) (*Identity, error)

// Middleware authenticates a request via, in order: Bearer OIDC JWT, then
// X-API-Key, then (only when devMode is set) an X-Dev-Role header fallback
// for local development. No session cookies; the service manages exactly
// one fleet.
func Middleware(oidcVerifier *OIDCVerifier, apiKeyLookup APIKeyLookup, devMode bool, logger interface {
	Warn(msg string, args ...any)
}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") && oidcVerifier != nil {
				raw := strings.TrimPrefix(authz, "Bearer ")
				if id, err := oidcVerifier.Verify(ctx, raw); err == nil {
					next.ServeHTTP(w, r.WithContext(NewContext(ctx, id)))
					return
				} else if logger != nil {
					logger.Warn("oidc token verification failed", "error", err)
				}
			}

			if rawKey := r.Header.Get("X-API-Key"); rawKey != "" && apiKeyLookup != nil {
				if id, err := apiKeyLookup(ctx, HashAPIKey(rawKey)); err == nil {
					next.ServeHTTP(w, r.WithContext(NewContext(ctx, id)))
					return
				} else if logger != nil {
					logger.Warn("api key lookup failed", "error", err)
				}
			}

			if devMode {
				role := r.Header.Get("X-Dev-Role")
				if role == "" {
					role = RoleAdmin
				}
				next.ServeHTTP(w, r.WithContext(NewContext(ctx, &Identity{
					Subject: "dev",
					Role:    role,
					Method:  MethodDev,
				})))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
