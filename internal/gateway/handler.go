package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Default request timeout
const (
	DefaultRequestTimeout = 30 * time.Second
	LongRequestTimeout    = 120 * time.Second
)

// RegisterRoutes mounts the repair endpoints.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /forcePull/{repo}/{commit}", withTimeout(g.handleForcePull, LongRequestTimeout))
	mux.HandleFunc("POST /fetchProfile/{repo}", withTimeout(g.handleFetchProfile, DefaultRequestTimeout))
}

func (g *Gateway) handleForcePull(w http.ResponseWriter, r *http.Request) {
	did, commit := r.PathValue("repo"), r.PathValue("commit")
	if err := g.ForcePull(r.Context(), did, commit); err != nil {
		g.logger.Error("Force pull failed", "did", did, "commit", commit, "error", err)
		writeJSON(w, http.StatusBadRequest, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (g *Gateway) handleFetchProfile(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("repo")
	if err := g.FetchProfile(r.Context(), did); err != nil {
		g.logger.Error("Fetch profile failed", "did", did, "error", err)
		writeJSON(w, http.StatusInternalServerError, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// withTimeout wraps a handler with a context timeout
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
