package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/modules"
	"github.com/jkaninda/sanduku/internal/repl"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.MaxSessions = 3
	opts := repl.Options{
		Timeout:           5 * time.Second,
		MaxSessions:       cfg.MaxSessions,
		SessionTTL:        time.Hour,
		MaxOutputBytes:    1 << 16,
		MaxHistoryEntries: 50,
	}
	engine := repl.NewEngine(opts, modules.NewRegistry(testLogger()), testLogger(), nil)
	return New(engine, cfg, "test", testLogger())
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	return tc.Text
}

func decodeJSON(t *testing.T, res *mcp.CallToolResult, into any) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool returned error: %s", textContent(t, res))
	}
	if err := json.Unmarshal([]byte(textContent(t, res)), into); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
}

func TestRunCodeToolRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "total = 40 + 2"}))
	if err != nil {
		t.Fatalf("handleRunCode() error = %v", err)
	}
	var body runResponse
	decodeJSON(t, res, &body)
	if body.Outcome != "success" {
		t.Fatalf("outcome = %q: %s", body.Outcome, body.Error)
	}
	if body.SessionID == "" {
		t.Fatal("response missing session_id")
	}
	if body.ResultRepr != "42" {
		t.Errorf("result_repr = %q, want 42", body.ResultRepr)
	}
	if len(body.NewVariables) != 1 || body.NewVariables[0] != "total" {
		t.Errorf("new_variables = %v, want [total]", body.NewVariables)
	}

	// Second call in the same session sees the binding.
	res, err = s.handleRunCode(ctx, callReq(map[string]any{
		"code":       "total / 2",
		"session_id": body.SessionID,
	}))
	if err != nil {
		t.Fatalf("handleRunCode() error = %v", err)
	}
	var second runResponse
	decodeJSON(t, res, &second)
	if second.SessionID != body.SessionID || second.ResultRepr != "21" {
		t.Errorf("got session %q result %q, want same session and 21", second.SessionID, second.ResultRepr)
	}
}

func TestRunCodeToolMissingCode(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunCode(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handleRunCode() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result without code")
	}
}

func TestRunCodeToolStaleSession(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunCode(context.Background(), callReq(map[string]any{
		"code":       "1",
		"session_id": "deadbeef0000",
	}))
	if err != nil {
		t.Fatalf("handleRunCode() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for a stale session id")
	}
	if msg := textContent(t, res); !strings.Contains(msg, "session not found") {
		t.Errorf("error = %q, want a session-not-found message", msg)
	}
}

func TestSessionLimitSurfacesGuidance(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "1"}))
		if err != nil || res.IsError {
			t.Fatalf("setup run %d failed", i)
		}
	}

	res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "1"}))
	if err != nil {
		t.Fatalf("handleRunCode() error = %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result at the session ceiling")
	}
	if msg := textContent(t, res); !strings.Contains(msg, "repl_delete_session") {
		t.Errorf("error = %q, want remediation guidance", msg)
	}
}

func TestVariableToolsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	var created runResponse
	res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "1"}))
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, res, &created)
	id := created.SessionID

	res, err = s.handleSetVariable(ctx, callReq(map[string]any{
		"session_id": id,
		"name":       "threshold",
		"value":      "0.75",
	}))
	if err != nil {
		t.Fatalf("handleSetVariable() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("set_variable failed: %s", textContent(t, res))
	}

	res, err = s.handleGetVariable(ctx, callReq(map[string]any{
		"session_id": id,
		"name":       "threshold",
	}))
	if err != nil {
		t.Fatalf("handleGetVariable() error = %v", err)
	}
	var v repl.VariableValue
	decodeJSON(t, res, &v)
	if v.Type != "number" || v.Repr != "0.75" {
		t.Errorf("variable = %+v, want number 0.75", v)
	}

	// Malformed JSON is rejected, not coerced to a string.
	res, err = s.handleSetVariable(ctx, callReq(map[string]any{
		"session_id": id,
		"name":       "bad",
		"value":      "{oops",
	}))
	if err != nil {
		t.Fatalf("handleSetVariable() error = %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for malformed JSON")
	}

	res, err = s.handleDeleteVariable(ctx, callReq(map[string]any{
		"session_id": id,
		"name":       "threshold",
	}))
	if err != nil || res.IsError {
		t.Fatalf("delete_variable failed: %v", err)
	}
	res, err = s.handleGetVariable(ctx, callReq(map[string]any{
		"session_id": id,
		"name":       "threshold",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected an error result after deletion")
	}
}

func TestSessionAndStatusTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	var created runResponse
	res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "x = 1"}))
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, res, &created)

	res, err = s.handleListSessions(ctx, callReq(nil))
	if err != nil {
		t.Fatalf("handleListSessions() error = %v", err)
	}
	var listing struct {
		Count    int                `json:"count"`
		Sessions []repl.SessionInfo `json:"sessions"`
	}
	decodeJSON(t, res, &listing)
	if listing.Count != 1 || listing.Sessions[0].ID != created.SessionID {
		t.Errorf("listing = %+v, want the created session", listing)
	}

	res, err = s.handleServerStatus(ctx, callReq(nil))
	if err != nil {
		t.Fatalf("handleServerStatus() error = %v", err)
	}
	var status map[string]any
	decodeJSON(t, res, &status)
	if status["active_sessions"].(float64) != 1 {
		t.Errorf("active_sessions = %v, want 1", status["active_sessions"])
	}

	res, err = s.handleDeleteSession(ctx, callReq(map[string]any{"session_id": created.SessionID}))
	if err != nil || res.IsError {
		t.Fatalf("delete_session failed: %v", err)
	}
	res, err = s.handleDeleteSession(ctx, callReq(map[string]any{"session_id": created.SessionID}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("expected an error result deleting a session twice")
	}
}

func TestHistoryTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	var created runResponse
	res, err := s.handleRunCode(ctx, callReq(map[string]any{"code": "a = 1"}))
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, res, &created)
	if _, err := s.handleRunCode(ctx, callReq(map[string]any{
		"code":       "broken(",
		"session_id": created.SessionID,
	})); err != nil {
		t.Fatal(err)
	}

	res, err = s.handleGetHistory(ctx, callReq(map[string]any{
		"session_id": created.SessionID,
		"limit":      1,
	}))
	if err != nil {
		t.Fatalf("handleGetHistory() error = %v", err)
	}
	var hist struct {
		Total   int                 `json:"total"`
		Entries []repl.HistoryEntry `json:"entries"`
	}
	decodeJSON(t, res, &hist)
	if hist.Total != 2 || len(hist.Entries) != 1 {
		t.Fatalf("history = %+v, want total 2 with 1 entry", hist)
	}
	if hist.Entries[0].Outcome != repl.OutcomeError {
		t.Errorf("entry outcome = %q, want the most recent (failed) run", hist.Entries[0].Outcome)
	}
}
