package auth

import (
	"context"
	"net/http"
	"strings"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/utils"
)

type ctxActorKey struct{}

// BearerToken extracts the credential from the Authorization header,
// falling back to the `token` query parameter (used by the WebSocket
// handshake, where custom headers are awkward for browser clients).
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get("token")
}

// RequireActor verifies the bearer credential and injects the verified
// actor into the request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := Verify(BearerToken(r))
		if err != nil {
			logger.Warn("credential_rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			utils.JSONError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		ctx := context.WithValue(r.Context(), ctxActorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the verified actor or a zero ref.
func ActorFromContext(ctx context.Context) models.ActorRef {
	if v := ctx.Value(ctxActorKey{}); v != nil {
		if a, ok := v.(models.ActorRef); ok {
			return a
		}
	}
	return models.ActorRef{}
}

// RequireBackendKey gates trusted-backend endpoints (actor profile sync)
// on a configured backend API key passed via X-API-Key or Bearer.
func RequireBackendKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
				key = strings.TrimSpace(auth[7:])
			}
		}
		keys := config.GetBackendKeys()
		if _, ok := keys[key]; key == "" || !ok {
			logger.Warn("backend_key_rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
