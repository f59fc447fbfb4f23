package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/sanduku/internal/repl"
)

const defaultHistoryLimit = 20

type truncatedFlags struct {
	Stdout bool `json:"stdout"`
	Stderr bool `json:"stderr"`
}

// runResponse is the JSON body returned by repl_run_code and repl_run_file.
type runResponse struct {
	Outcome           string         `json:"outcome"`
	SessionID         string         `json:"session_id"`
	Result            any            `json:"result,omitempty"`
	ResultRepr        string         `json:"result_repr,omitempty"`
	Stdout            string         `json:"stdout"`
	Stderr            string         `json:"stderr"`
	NewVariables      []string       `json:"new_variables"`
	ModifiedVariables []string       `json:"modified_variables"`
	Truncated         truncatedFlags `json:"truncated"`
	Error             string         `json:"error,omitempty"`
	DeniedCapability  string         `json:"denied_capability,omitempty"`
	Hint              string         `json:"hint,omitempty"`
	ElapsedSeconds    float64        `json:"elapsed_seconds"`
}

func buildRunResponse(res repl.RunResult) runResponse {
	out := runResponse{
		Outcome:           string(res.Outcome),
		SessionID:         res.SessionID,
		Stdout:            res.Stdout,
		Stderr:            res.Stderr,
		NewVariables:      res.NewVars,
		ModifiedVariables: res.ModifiedVars,
		Truncated: truncatedFlags{
			Stdout: res.StdoutTruncated,
			Stderr: res.StderrTruncated,
		},
		Error:            res.ErrorMessage,
		DeniedCapability: res.DeniedCapability,
		Hint:             res.Hint,
		ElapsedSeconds:   res.Elapsed.Seconds(),
	}
	if res.HasValue {
		out.Result = res.Value
		out.ResultRepr = res.ValueRepr
	}
	if out.NewVariables == nil {
		out.NewVariables = []string{}
	}
	if out.ModifiedVariables == nil {
		out.ModifiedVariables = []string{}
	}
	return out
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// engineError maps engine sentinels onto caller-facing tool errors.
func (s *Server) engineError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, repl.ErrSessionNotFound):
		return mcp.NewToolResultError(
			"session not found: it may have expired or been deleted. Omit session_id to start a fresh one.")
	case errors.Is(err, repl.ErrCapacityExceeded):
		return mcp.NewToolResultError(fmt.Sprintf(
			"session limit reached (%d): delete an unused session with repl_delete_session and retry.",
			s.cfg.MaxSessions))
	case errors.Is(err, repl.ErrVariableNotFound):
		return mcp.NewToolResultError(err.Error())
	case errors.Is(err, repl.ErrInvalidArgument):
		return mcp.NewToolResultError(err.Error())
	default:
		s.logger.Error("tool call failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("repl_run_code",
		mcp.WithDescription("Execute JavaScript in a persistent session. Variables assigned without var/let/const survive across calls; the last expression's value is returned without being bound. Omit session_id to start a new session."),
		mcp.WithString("code", mcp.Required(), mcp.Description("JavaScript source to execute")),
		mcp.WithString("session_id", mcp.Description("Existing session to run in; omit to create one")),
	), s.handleRunCode)

	s.mcp.AddTool(mcp.NewTool("repl_run_file",
		mcp.WithDescription("Execute a JavaScript file from disk in a persistent session. __file__ and __args__ are bound for the run. Relative paths resolve against the server's working directory."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the script")),
		mcp.WithString("session_id", mcp.Description("Existing session to run in; omit to create one")),
		mcp.WithArray("args", mcp.Description("Arguments exposed to the script as __args__")),
	), s.handleRunFile)

	s.mcp.AddTool(mcp.NewTool("repl_list_namespace",
		mcp.WithDescription("List the user-defined variables of a session with type and short preview."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListNamespace)

	s.mcp.AddTool(mcp.NewTool("repl_get_variable",
		mcp.WithDescription("Read one variable from a session as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read from")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetVariable)

	s.mcp.AddTool(mcp.NewTool("repl_set_variable",
		mcp.WithDescription("Bind a variable in a session. value must be JSON text (strings need quotes)."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to write to")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON-encoded value")),
	), s.handleSetVariable)

	s.mcp.AddTool(mcp.NewTool("repl_delete_variable",
		mcp.WithDescription("Remove one variable from a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to modify")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
	), s.handleDeleteVariable)

	s.mcp.AddTool(mcp.NewTool("repl_clear_namespace",
		mcp.WithDescription("Remove every user-defined variable from a session. The session stays alive."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to clear")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.handleClearNamespace)

	s.mcp.AddTool(mcp.NewTool("repl_list_sessions",
		mcp.WithDescription("List all live sessions with creation time, last access, and variable count."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("repl_delete_session",
		mcp.WithDescription("Delete a session and free its interpreter."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to delete")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.handleDeleteSession)

	s.mcp.AddTool(mcp.NewTool("repl_get_history",
		mcp.WithDescription("Return the most recent executions of a session: code preview, outcome, output, and timing."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return, most recent last (default 20)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetHistory)

	s.mcp.AddTool(mcp.NewTool("repl_server_status",
		mcp.WithDescription("Report server limits and the current session count."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleServerStatus)
}

func (s *Server) handleRunCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := req.GetString("session_id", "")

	res, err := s.engine.RunCode(sessionID, code)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(buildRunResponse(res))
}

func (s *Server) handleRunFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := req.GetString("session_id", "")
	args := req.GetStringSlice("args", nil)

	res, err := s.engine.RunFile(sessionID, path, args)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(buildRunResponse(res))
}

func (s *Server) handleListNamespace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entries, err := s.engine.ListNamespace(sessionID)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"count":      len(entries),
		"variables":  entries,
	})
}

func (s *Server) handleGetVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	v, err := s.engine.GetVariable(sessionID, name)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(v)
}

func (s *Server) handleSetVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.engine.SetVariable(sessionID, name, value); err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"name":       name,
		"set":        true,
	})
}

func (s *Server) handleDeleteVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.engine.DeleteVariable(sessionID, name); err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"name":       name,
		"deleted":    true,
	})
}

func (s *Server) handleClearNamespace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cleared, err := s.engine.ClearNamespace(sessionID)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"cleared":    cleared,
		"count":      len(cleared),
	})
}

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := s.engine.ListSessions()
	return jsonResult(map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}

func (s *Server) handleDeleteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.engine.DeleteSession(sessionID); err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"deleted":    true,
	})
}

func (s *Server) handleGetHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	entries, total, err := s.engine.History(sessionID, limit)
	if err != nil {
		return s.engineError(err), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"total":      total,
		"entries":    entries,
	})
}

func (s *Server) handleServerStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.engine.Status()
	blocked := []string{}
	if s.cfg.SandboxEnabled {
		blocked = append(blocked, repl.DefaultBlockedModules...)
		blocked = append(blocked, repl.DefaultBlockedGlobals...)
	}
	return jsonResult(map[string]any{
		"status":              "ok",
		"time":                time.Now().UTC().Format(time.RFC3339),
		"active_sessions":     st.ActiveSessions,
		"max_sessions":        st.MaxSessions,
		"timeout_seconds":     st.TimeoutSeconds,
		"session_ttl_minutes": st.TTLMinutes,
		"max_output_bytes":    st.MaxOutputBytes,
		"sandbox":             st.Sandbox,
		"blocked_capabilities": blocked,
		"transport":           s.cfg.Transport,
	})
}
