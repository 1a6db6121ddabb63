// Package health reports whether the appview can serve and index.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/syntrixbase/appview/internal/subscription"
)

// Status represents the health status of the appview.
type Status string

const (
	// StatusOK indicates storage is reachable and subscriptions are healthy.
	StatusOK Status = "ok"

	// StatusDegraded indicates the appview serves but a subscription is
	// failing repeatedly.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates storage is unreachable.
	StatusUnhealthy Status = "unhealthy"
)

// degradedErrors is the error count above which a subscription is reported
// as degraded.
const degradedErrors = 5

// Pinger checks storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubscriptionHealth is the health of a single firehose subscription.
type SubscriptionHealth struct {
	subscription.Status
	Health Status `json:"health"`
}

// Report is the full health report.
type Report struct {
	Status        Status               `json:"status"`
	Uptime        string               `json:"uptime"`
	StartedAt     time.Time            `json:"startedAt"`
	Storage       string               `json:"storage"`
	Subscriptions []SubscriptionHealth `json:"subscriptions"`
}

// Checker provides health check functionality.
type Checker struct {
	startedAt   time.Time
	logger      *slog.Logger
	storage     Pinger
	states      func() []subscription.Status
	pingTimeout time.Duration
}

// NewChecker creates a new health checker. states may be nil when no
// subscription is configured.
func NewChecker(storage Pinger, states func() []subscription.Status, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		startedAt:   time.Now(),
		logger:      logger.With("component", "health"),
		storage:     storage,
		states:      states,
		pingTimeout: 2 * time.Second,
	}
}

// GetReport returns the current health report.
func (h *Checker) GetReport(ctx context.Context) Report {
	report := Report{
		Status:        StatusOK,
		Uptime:        time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt:     h.startedAt,
		Storage:       "ok",
		Subscriptions: []SubscriptionHealth{},
	}

	if h.states != nil {
		for _, st := range h.states() {
			sh := SubscriptionHealth{Status: st, Health: StatusOK}
			if st.Errors > degradedErrors && st.State == subscription.StateRunning.String() {
				sh.Health = StatusDegraded
				report.Status = StatusDegraded
			}
			report.Subscriptions = append(report.Subscriptions, sh)
		}
	}

	if h.storage != nil {
		pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
		defer cancel()
		if err := h.storage.Ping(pingCtx); err != nil {
			h.logger.Warn("Storage ping failed", "error", err)
			report.Storage = err.Error()
			report.Status = StatusUnhealthy
		}
	}

	return report
}

// ServeHTTP implements http.Handler for the health endpoint.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("Failed to encode health report", "error", err)
	}
}
