package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cliniscribe/dxgraph/internal/api"
	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/config"
	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/metrics"
	"github.com/cliniscribe/dxgraph/internal/server"
	"github.com/cliniscribe/dxgraph/internal/store"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		httpAddr      string
		mcpTransport  string
		dbURL         string
		authToken     string
		workspacesDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST/WebSocket API and the optional MCP transport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if mcpTransport != "" {
				cfg.MCPTransport = mcpTransport
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger, err := cfg.BuildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			metrics.InitFromEnv()

			storeCfg := store.NewConfig()
			if dbURL != "" {
				storeCfg.URL = dbURL
			}
			if authToken != "" {
				storeCfg.AuthToken = authToken
			}
			if workspacesDir != "" {
				storeCfg.WorkspacesDir = workspacesDir
				storeCfg.MultiWorkspace = true
			}

			st, err := store.NewStore(storeCfg, logger)
			if err != nil {
				return err
			}
			svc := clinic.NewService(st, export.NewFromEnv(), logger)

			err = runServers(cmd.Context(), cfg, svc, logger)

			if cerr := svc.Close(); cerr != nil {
				logger.Error("error closing clinic service", zap.Error(cerr))
			}
			logger.Info("dxgraphd stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&mcpTransport, "mcp-transport", "", "MCP transport: off, stdio or sse (overrides config)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "libSQL database URL (default: file:./dxgraph.db)")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "authentication token for remote databases")
	cmd.Flags().StringVar(&workspacesDir, "workspaces-dir", "", "base directory for workspaces; enables multi-workspace mode")

	return cmd
}

// runServers blocks until a signal arrives or one server fails, then shuts
// everything down.
func runServers(ctx context.Context, cfg *config.Config, svc *clinic.Service, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(svc, logger, api.Options{
		AllowedOrigins: cfg.CORSOrigins,
		FrameInterval:  cfg.FrameInterval(),
	})
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("environment", cfg.Environment))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	switch cfg.MCPTransport {
	case config.MCPStdio:
		mcpSrv := server.NewMCPServer(svc, logger)
		g.Go(func() error { return mcpSrv.Run(gctx) })
	case config.MCPSSE:
		mcpSrv := server.NewMCPServer(svc, logger)
		g.Go(func() error { return mcpSrv.RunSSE(gctx, cfg.MCPSSEAddr, cfg.MCPSSEEndpoint) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		// Normal signal-driven shutdown.
		return nil
	}
	return err
}
