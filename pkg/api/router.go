// Package api exposes the REST surface used for reconnect recovery and
// backend integration: history and block-list reads for authenticated
// actors, actor profile sync and token minting for trusted backends,
// plus health and metrics endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Router builds the full HTTP routing table. The WebSocket endpoint is
// passed in so this package stays free of connection lifecycle concerns.
func Router(cfg *config.Config, ws http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(requestLog)
	v1.Use(auth.RateLimit(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst))

	v1.HandleFunc("/ws", ws).Methods(http.MethodGet)

	actor := v1.NewRoute().Subrouter()
	actor.Use(auth.RequireActor)
	actor.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	actor.HandleFunc("/conversations/{id}/messages", listMessages).Methods(http.MethodGet)
	actor.HandleFunc("/blocks", listBlocks).Methods(http.MethodGet)

	backend := v1.NewRoute().Subrouter()
	backend.Use(auth.RequireBackendKey)
	backend.HandleFunc("/actors", putActor).Methods(http.MethodPut)
	backend.HandleFunc("/groups", createGroup).Methods(http.MethodPost)
	backend.HandleFunc("/tokens", mintToken).Methods(http.MethodPost)

	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
