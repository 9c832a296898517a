package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/auth"
)

// IdentityDecoder validates tokens and extracts the caller identity;
// *auth.Codec satisfies it.
type IdentityDecoder interface {
	Validate(token string) bool
	DecodeIdentity(token string) (auth.Identity, bool)
}

// IdentityFilter installs the caller identity from the configured header
// into the request context. It never rejects: a missing, malformed or
// invalid token leaves the request anonymous and route policy decides.
func IdentityFilter(cfg config.JWTConfig, decoder IdentityDecoder, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "handlers.filter"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := resolveIdentity(r, cfg, decoder, logger); ok {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveIdentity(r *http.Request, cfg config.JWTConfig, decoder IdentityDecoder, logger *zap.Logger) (id auth.Identity, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("identity resolution panicked",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Any("panic", rec),
			)
			id, ok = auth.Identity{}, false
		}
	}()

	token, found := extractToken(r.Header.Get(cfg.HeaderName), cfg.TokenPrefix)
	if !found {
		return auth.Identity{}, false
	}
	if !decoder.Validate(token) {
		return auth.Identity{}, false
	}
	return decoder.DecodeIdentity(token)
}

// extractToken returns the part of header after prefix. The prefix match is
// exact, so "bearer x" does not match "Bearer ".
func extractToken(header, prefix string) (string, bool) {
	if header == "" || prefix == "" || !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
