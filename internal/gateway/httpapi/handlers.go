package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sanduku/internal/repl"
)

const defaultHistoryLimit = 20

// RunRequest is the JSON body for POST /v1/run.
type RunRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
}

// RunResponse is the JSON response for POST /v1/run.
type RunResponse struct {
	Outcome           string   `json:"outcome"`
	SessionID         string   `json:"session_id"`
	CorrelationID     string   `json:"correlation_id"`
	Result            any      `json:"result,omitempty"`
	ResultRepr        string   `json:"result_repr,omitempty"`
	Stdout            string   `json:"stdout"`
	Stderr            string   `json:"stderr"`
	NewVariables      []string `json:"new_variables"`
	ModifiedVariables []string `json:"modified_variables"`
	StdoutTruncated   bool     `json:"stdout_truncated"`
	StderrTruncated   bool     `json:"stderr_truncated"`
	Error             string   `json:"error,omitempty"`
	DeniedCapability  string   `json:"denied_capability,omitempty"`
	Hint              string   `json:"hint,omitempty"`
	ElapsedSeconds    float64  `json:"elapsed_seconds"`
}

func (g *Gateway) handleRun(c *okapi.Context) error {
	callerID := c.GetString("callerID")

	if g.limiter != nil {
		if err := g.limiter.Allow(callerID); err != nil {
			if g.config.Metrics != nil {
				g.config.Metrics.RateLimitedTotal.Inc()
			}
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("code is required")
	}
	if req.Code == "" {
		return c.AbortBadRequest("code is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http run",
		slog.String("caller_id", callerID),
		slog.String("correlation_id", correlationID),
		slog.String("session_id", req.SessionID),
	)

	res, err := g.engine.RunCode(req.SessionID, req.Code)
	if err != nil {
		return engineError(c, err)
	}

	resp := RunResponse{
		Outcome:           string(res.Outcome),
		SessionID:         res.SessionID,
		CorrelationID:     correlationID,
		Stdout:            res.Stdout,
		Stderr:            res.Stderr,
		NewVariables:      res.NewVars,
		ModifiedVariables: res.ModifiedVars,
		StdoutTruncated:   res.StdoutTruncated,
		StderrTruncated:   res.StderrTruncated,
		Error:             res.ErrorMessage,
		DeniedCapability:  res.DeniedCapability,
		Hint:              res.Hint,
		ElapsedSeconds:    res.Elapsed.Seconds(),
	}
	if res.HasValue {
		resp.Result = res.Value
		resp.ResultRepr = res.ValueRepr
	}
	if resp.NewVariables == nil {
		resp.NewVariables = []string{}
	}
	if resp.ModifiedVariables == nil {
		resp.ModifiedVariables = []string{}
	}
	return c.OK(resp)
}

// SessionListResponse is the JSON response for GET /v1/sessions.
type SessionListResponse struct {
	Count    int                `json:"count"`
	Sessions []repl.SessionInfo `json:"sessions"`
}

func (g *Gateway) handleListSessions(c *okapi.Context) error {
	infos := g.engine.ListSessions()
	if infos == nil {
		infos = []repl.SessionInfo{}
	}
	return c.OK(SessionListResponse{Count: len(infos), Sessions: infos})
}

func (g *Gateway) handleDeleteSession(c *okapi.Context) error {
	id := c.Param("id")
	if err := g.engine.DeleteSession(id); err != nil {
		return engineError(c, err)
	}
	g.logger.Info("http session deleted",
		slog.String("caller_id", c.GetString("callerID")),
		slog.String("session_id", id),
	)
	return c.OK(map[string]string{"status": "deleted"})
}

// NamespaceResponse is the JSON response for GET /v1/sessions/{id}/namespace.
type NamespaceResponse struct {
	SessionID string                `json:"session_id"`
	Count     int                   `json:"count"`
	Variables []repl.NamespaceEntry `json:"variables"`
}

func (g *Gateway) handleNamespace(c *okapi.Context) error {
	id := c.Param("id")
	entries, err := g.engine.ListNamespace(id)
	if err != nil {
		return engineError(c, err)
	}
	if entries == nil {
		entries = []repl.NamespaceEntry{}
	}
	return c.OK(NamespaceResponse{SessionID: id, Count: len(entries), Variables: entries})
}

// HistoryResponse is the JSON response for GET /v1/sessions/{id}/history.
type HistoryResponse struct {
	SessionID string              `json:"session_id"`
	Total     int                 `json:"total"`
	Entries   []repl.HistoryEntry `json:"entries"`
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	id := c.Param("id")

	limit := defaultHistoryLimit
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	entries, total, err := g.engine.History(id, limit)
	if err != nil {
		return engineError(c, err)
	}
	if entries == nil {
		entries = []repl.HistoryEntry{}
	}
	return c.OK(HistoryResponse{SessionID: id, Total: total, Entries: entries})
}

// StatusResponse is the JSON response for GET /v1/status.
type StatusResponse struct {
	Status            string  `json:"status"`
	ActiveSessions    int     `json:"active_sessions"`
	MaxSessions       int     `json:"max_sessions"`
	TimeoutSeconds    float64 `json:"timeout_seconds"`
	SessionTTLMinutes float64 `json:"session_ttl_minutes"`
	MaxOutputBytes    int     `json:"max_output_bytes"`
	Sandbox           bool    `json:"sandbox"`
}

func (g *Gateway) handleStatus(c *okapi.Context) error {
	st := g.engine.Status()
	return c.OK(StatusResponse{
		Status:            "ok",
		ActiveSessions:    st.ActiveSessions,
		MaxSessions:       st.MaxSessions,
		TimeoutSeconds:    st.TimeoutSeconds,
		SessionTTLMinutes: st.TTLMinutes,
		MaxOutputBytes:    st.MaxOutputBytes,
		Sandbox:           st.Sandbox,
	})
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
