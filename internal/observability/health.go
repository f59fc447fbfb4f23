package observability

import (
	"context"
	"log/slog"
	"time"
)

// readyCheckTimeout bounds the whole readiness pass, not each check.
const readyCheckTimeout = 3 * time.Second

// HealthChecker answers liveness and readiness probes. Liveness is
// unconditional; readiness runs every registered check and degrades if
// any of them fails.
type HealthChecker struct {
	checks []namedCheck
	logger *slog.Logger
}

type namedCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a readiness check under the given name.
func (h *HealthChecker) AddCheck(name string, fn func(ctx context.Context) error) {
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
}

// CheckHealth reports liveness. A running process is alive.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered check. No checks means ready.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}
	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	out := HealthStatus{Status: "ok", Checks: make(map[string]CheckResult, len(h.checks))}
	for _, c := range h.checks {
		err := c.fn(ctx)
		if err == nil {
			out.Checks[c.name] = CheckResult{Status: "ok"}
			continue
		}
		out.Status = "degraded"
		out.Checks[c.name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}
