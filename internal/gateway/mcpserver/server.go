// Package mcpserver exposes the execution engine over the Model Context
// Protocol. Tool handlers translate between MCP requests and the engine's
// typed API; every response body is JSON so callers can parse results
// without scraping prose.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/repl"
)

// Server wraps the MCP server and its transport.
type Server struct {
	mcp    *server.MCPServer
	engine *repl.Engine
	cfg    *config.Config
	logger *slog.Logger

	httpServer *server.StreamableHTTPServer
}

// New creates the MCP server and registers all tools.
func New(engine *repl.Engine, cfg *config.Config, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mcpSrv := server.NewMCPServer(
		"sanduku",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpSrv,
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve blocks on the configured transport until ctx is cancelled (HTTP)
// or stdin closes (stdio).
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case "http":
		addr := s.cfg.ListenAddr()
		s.logger.Info("mcp server listening", slog.String("transport", "http"), slog.String("addr", addr))
		s.httpServer = server.NewStreamableHTTPServer(s.mcp)

		errCh := make(chan error, 1)
		go func() {
			errCh <- s.httpServer.Start(addr)
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return s.httpServer.Shutdown(context.Background())
		}
	default: // stdio
		s.logger.Info("mcp server listening", slog.String("transport", "stdio"))
		return server.ServeStdio(s.mcp)
	}
}

// Shutdown stops the HTTP transport if one is running.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down mcp http server: %w", err)
	}
	return nil
}
