package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is any backend the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports server liveness and the reachability of each
// backing store.
type HealthHandler struct {
	backends map[string]Pinger
}

// NewHealthHandler creates a health handler over the named backends. A nil
// entry is reported as disabled.
func NewHealthHandler(backends map[string]Pinger) *HealthHandler {
	return &HealthHandler{backends: backends}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends,omitempty"`
}

// ServeHTTP handles health check requests
// @Summary Health check
// @Description Reports server health and backend reachability
// @Tags general
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Backends: make(map[string]string, len(h.backends)),
	}
	for name, backend := range h.backends {
		if backend == nil {
			response.Backends[name] = "disabled"
			continue
		}
		if err := backend.Ping(ctx); err != nil {
			response.Backends[name] = "unreachable: " + err.Error()
			response.Status = "degraded"
		} else {
			response.Backends[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
