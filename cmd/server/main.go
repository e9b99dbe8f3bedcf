package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"workflow-ingest/backend/internal/api"
	"workflow-ingest/backend/internal/auth"
	"workflow-ingest/backend/internal/bootstrap"
	"workflow-ingest/backend/internal/config"
	"workflow-ingest/backend/internal/ingest"
	"workflow-ingest/backend/internal/logging"
	"workflow-ingest/backend/internal/mcp"
	"workflow-ingest/backend/internal/telemetry"
	"workflow-ingest/backend/internal/tls"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Workflow run ingestion service",
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Start the HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Apply database migrations and exit",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("Migrations applied", "driver", cfg.Storage.Driver)
			return nil
		},
	}
}

func load(opts *rootOptions) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.NewLogger(cfg.Log.Level), nil
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, migrate bool) error {
	logger.Info("Starting workflow ingest service", "driver", cfg.Storage.Driver, "addr", cfg.Server.Addr)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer closeStore()

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Migrations applied")
	}

	workflows, closeCache, err := bootstrap.WorkflowRegistry(cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	authn := auth.New(store, logger)
	pipeline := ingest.New(authn, workflows, store, logger.With("component", "ingest"),
		ingest.WithStorageTimeout(cfg.Storage.Timeout),
	)

	e := newRouter(cfg, logger)
	api.NewHandler(pipeline, logger).RegisterRoutes(e)
	api.RegisterDocs(e)
	mcp.MountHTTPHandlers(e, mcp.NewServer(pipeline, authn, store, cfg.Storage.Timeout).GetMCPServer())
	logger.Info("Routes mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		generated, err := tls.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- fmt.Errorf("tls certificate: %w", err)
			return
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(sctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

func newRouter(cfg *config.Config, logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	origins := cfg.AllowedOrigins()
	allowAll := len(origins) == 1 && origins[0] == "*"

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("Request failed", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug("Request handled", args...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:                             origins,
		AllowCredentials:                         true,
		UnsafeWildcardOriginWithAllowCredentials: allowAll,
	}))
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	if cfg.Telemetry.Enabled {
		e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName))
	}
	return e
}
