package delivery

import (
	"fmt"
	"net/http"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

const loginPath = "/api/login"

// bearerToken reads the operator token from X-Auth, falling back to the
// "token" query parameter since browsers cannot set headers on a websocket
// handshake.
func bearerToken(r *http.Request) string {
	if token := r.Header.Get("X-Auth"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware rejects requests without a valid operator token. Login
// stays public.
func AuthMiddleware(auth ports.AuthService, log *logger.ZapLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == loginPath {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeError(w, log, fmt.Errorf("missing token: %w", errUnauthorized), "AUTH", "GATE")
				return
			}
			ok, err := auth.ValidateToken(r.Context(), token)
			if err != nil || !ok {
				writeError(w, log, fmt.Errorf("invalid token: %w", errUnauthorized), "AUTH", "GATE")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
