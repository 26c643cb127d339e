package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angeloszaimis/callguard/internal/circuitbreaker"
	"github.com/angeloszaimis/callguard/internal/guard"
)

// InvokeHandler forwards requests to a configured target URL through the
// guard. Rate-limit denials map to 429, open circuits to 503 with a
// Retry-After header, upstream failures to 502.
type InvokeHandler struct {
	logger  *slog.Logger
	guard   *guard.Guard
	targets map[string]string
	client  *http.Client
}

func NewInvokeHandler(logger *slog.Logger, g *guard.Guard, targets map[string]string) *InvokeHandler {
	return &InvokeHandler{
		logger:  logger,
		guard:   g,
		targets: targets,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (h *InvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/invoke/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "invalid target name", http.StatusBadRequest)
		return
	}

	targetURL, ok := h.targets[name]
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}

	h.logger.Info("Received invoke request",
		slog.String("target", name),
		slog.String("method", r.Method),
		slog.String("from", r.RemoteAddr))

	var upstream *http.Response
	err := h.guard.Do(r.Context(), name, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, r.Body)
		if err != nil {
			return err
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}

		upstream = resp
		return nil
	})

	var openErr *circuitbreaker.OpenError
	switch {
	case errors.Is(err, guard.ErrRateLimited):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return

	case errors.As(err, &openErr):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(openErr.RetryAfter)))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return

	case err != nil:
		h.logger.Warn("Upstream call failed",
			slog.String("target", name),
			slog.Any("err", err))
		http.Error(w, "upstream call failed", http.StatusBadGateway)
		return
	}

	defer upstream.Body.Close()

	w.Header().Set("X-Callguard-Target", name)
	if ct := upstream.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(upstream.StatusCode)

	if _, err := io.Copy(w, upstream.Body); err != nil {
		h.logger.Warn("Failed to copy upstream response",
			slog.String("target", name),
			slog.Any("err", err))
	}
}

// retryAfterSeconds rounds up so a client honoring the header never
// retries before the circuit can transition.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
