package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-booking/internal/config"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	adminKey  contextKey = "is_admin"
)

// Middleware verifies the bearer token against the configured OIDC issuer and
// stashes the subject and admin flag into the request context. With
// cfg.Disabled set it trusts the X-User-ID / X-User-Role headers instead,
// which keeps local development and integration tests off a running IdP.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	if cfg.Disabled {
		return headerMiddleware()
	}

	provider, err := oidc.NewProvider(context.Background(), cfg.IssuerURL)
	if err != nil {
		panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
	}

	// SkipClientIDCheck → tokens minted for any client in the realm pass
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			idToken, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub         string `json:"sub"`
				RealmAccess struct {
					Roles []string `json:"roles"`
				} `json:"realm_access"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}

			admin := false
			for _, role := range claims.RealmAccess.Roles {
				if strings.EqualFold(role, "admin") {
					admin = true
					break
				}
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			ctx = context.WithValue(ctx, adminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
				return
			}
			admin := strings.EqualFold(r.Header.Get("X-User-Role"), "admin")

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, adminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user ID in handlers.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

// IsAdmin reports whether the authenticated user carries the admin role.
func IsAdmin(ctx context.Context) bool {
	if admin, ok := ctx.Value(adminKey).(bool); ok {
		return admin
	}
	return false
}
