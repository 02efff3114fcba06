package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	pgmanager "github.com/rickchristie/postgres-manager"
	"github.com/rickchristie/postgres-manager/internal/meta"
)

func runServe() error {
	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serverConfig.Server.Port <= 0 {
		panic("gopgmgr: server.port must be > 0")
	}
	if serverConfig.Server.HealthCheckEnabled && serverConfig.Server.HealthCheckPath == "" {
		panic("gopgmgr: health_check_path must be set when health_check_enabled is true")
	}

	// 2. Resolve password
	serverConfig.Connection.Password = resolvePassword(serverConfig.Connection, isTTY(os.Stdin.Fd()), promptPassword)

	// 3. Setup logger
	logger, closeLog := setupLogger(serverConfig.Logging)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Create the manager and open the session
	mgr := pgmanager.New(serverConfig.Config, logger)
	if out := mgr.Connect(ctx); out.Status == pgmanager.StatusFailed {
		return fmt.Errorf("connect failed after %d attempt(s): %s", out.Attempts, out.Error)
	}
	defer func() {
		// Uncommitted work is discarded on shutdown.
		out := mgr.Disconnect(context.Background())
		logger.Info().Str("status", string(out.Status)).Msg("session closed")
	}()

	// 5. Create MCP server and HTTP handler
	streamableServer, httpSrv := newHTTPServer(serverConfig.Server, mgr, logger)

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down gopgmgr server")
		streamableServer.Shutdown(context.Background())
	}()

	logger.Info().
		Int("port", serverConfig.Server.Port).
		Str("version", meta.Version).
		Str("mode", string(mgr.Mode())).
		Msg("starting gopgmgr server")
	if err := streamableServer.Start(httpSrv.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newHTTPServer wires the MCP tools and the optional health check onto one
// mux served over streamable HTTP at /mcp.
func newHTTPServer(settings pgmanager.ServerSettings, mgr *pgmanager.Manager, logger zerolog.Logger) (*server.StreamableHTTPServer, *http.Server) {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gopgmgr", meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	pgmanager.RegisterMCPTools(mcpServer, mgr)

	mux := http.NewServeMux()
	if settings.HealthCheckEnabled {
		mux.HandleFunc(settings.HealthCheckPath, healthHandler)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.Port),
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	return streamableServer, httpSrv
}

// healthHandler reports process liveness only. It does not take the
// manager lock, so a long-running statement never fails the check.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","version":"` + meta.Version + `"}`))
}
