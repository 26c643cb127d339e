package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/callguard/internal/circuitbreaker"
	"github.com/angeloszaimis/callguard/internal/ratelimit"
)

// AdminHandler exposes the operator surface: breaker snapshots, bucket
// snapshots, and the bulk reset override.
type AdminHandler struct {
	logger   *slog.Logger
	registry *circuitbreaker.Registry
	limiter  *ratelimit.RateLimiter
}

func NewAdminHandler(logger *slog.Logger, registry *circuitbreaker.Registry, limiter *ratelimit.RateLimiter) *AdminHandler {
	return &AdminHandler{
		logger:   logger,
		registry: registry,
		limiter:  limiter,
	}
}

// Breakers serves the stored state of every registered breaker. Reading
// does not advance any breaker's state machine.
func (h *AdminHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.registry.AllMetrics())
}

// Limits serves the global and per-target bucket snapshots.
func (h *AdminHandler) Limits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.limiter.Snapshot())
}

// Reset forces every breaker back to CLOSED. Operator override for manual
// recovery.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.registry.ResetAll()
	h.logger.Info("All circuit breakers reset", slog.String("from", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
