// internal/admin/middleware.go
package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/mygads/govconnect-sub008/internal/common/auth"
)

// TokenValidator checks a bearer token against the identity provider.
// Satisfied by the Keycloak client.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Introspection, error)
}

// authMiddleware guards every admin route with bearer-token introspection.
// Health and metrics stay open for the platform probes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		introspection, err := s.validator.ValidateToken(r.Context(), token)
		if err != nil {
			s.logger.Warn("Token introspection failed", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeError(w, http.StatusUnauthorized, "token validation failed")
			return
		}
		if !introspection.Active {
			writeError(w, http.StatusUnauthorized, "token inactive")
			return
		}

		next.ServeHTTP(w, r)
	})
}
