// Package app wires the design API client, image cache, tool service and
// transports together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"figmamcp/config"
	"figmamcp/internal/auditlog"
	"figmamcp/internal/core"
	"figmamcp/internal/fetcher"
	"figmamcp/internal/figma"
	"figmamcp/internal/httpclient"
	"figmamcp/internal/imagecache"
	"figmamcp/internal/mcp"
	"figmamcp/internal/observability"
	"figmamcp/internal/server"
	"figmamcp/internal/tools"
	"figmamcp/internal/version"
)

// ServerName is announced to clients during initialize.
const ServerName = "figmamcp"

// App represents the main application with all its dependencies.
type App struct {
	config     *config.Config
	logger     *slog.Logger
	cache      *imagecache.Cache
	service    *tools.Service
	dispatcher *mcp.Dispatcher
	audit      *auditlog.Result
	server     *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	AppConfig *config.Config
	Logger    *slog.Logger

	// API replaces the REST client, mainly for tests.
	API core.DesignAPI
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{config: appCfg, logger: logger}

	clientCfg := httpclient.DefaultConfig().WithTimeouts(appCfg.HTTP.Timeout, appCfg.HTTP.ResponseHeaderTimeout)
	api := cfg.API
	if api == nil {
		client, err := figma.New(figma.Config{
			BaseURL:           appCfg.Figma.BaseURL,
			Token:             appCfg.Figma.Token,
			RequestsPerSecond: appCfg.Figma.RequestsPerSecond,
		}, figma.WithHTTPClient(httpclient.NewHTTPClient(&clientCfg)), figma.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create design API client: %w", err)
		}
		api = client
	}

	// The fetcher negotiates br/gzip itself.
	downloadCfg := clientCfg
	downloadCfg.DisableCompression = true
	download := fetcher.New(httpclient.NewHTTPClient(&downloadCfg), appCfg.HTTP.DownloadMaxBytes)

	cacheOpts := []imagecache.Option{imagecache.WithLogger(logger)}
	serviceOpts := []tools.Option{tools.WithLogger(logger)}
	if appCfg.Metrics.Enabled {
		cacheOpts = append(cacheOpts, imagecache.WithHooks(observability.CacheHooks{}))
		serviceOpts = append(serviceOpts, tools.WithObserver(observability.ToolCall))
	}
	a.cache = imagecache.New(download, cacheOpts...)
	a.service = tools.NewService(api, a.cache, serviceOpts...)

	auditResult, err := auditlog.New(ctx, appCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logging: %w", err)
	}
	a.audit = auditResult

	a.dispatcher = mcp.NewDispatcher(a.service, ServerName, version.Version,
		mcp.WithLogger(logger),
		mcp.WithCallObserver(a.recordCall),
	)

	serverCfg := &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		AuditLogger:     auditResult.Logger,
		Logger:          logger,
	}
	if auditResult.Storage != nil {
		serverCfg.HealthCheck = auditResult.Storage.Ping
	}
	a.server = server.New(a.dispatcher, a.service, serverCfg)

	a.logStartupInfo()
	return a, nil
}

func (a *App) recordCall(ctx context.Context, info mcp.CallInfo) {
	auditlog.RecordCall(ctx, a.audit.Logger, auditlog.Call{
		RPCMethod: info.Method,
		Tool:      info.Tool,
		FileKey:   info.FileKey,
		ErrorType: info.ErrorType,
		Duration:  info.Duration,
	})
	a.logger.Debug("handled message",
		"method", info.Method,
		"tool", info.Tool,
		"file_key", info.FileKey,
		"error_type", info.ErrorType,
		"duration", info.Duration,
	)
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// ServeStdio runs the protocol over in/out until in is closed or ctx is canceled.
func (a *App) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return a.dispatcher.ServeStdio(ctx, in, out)
}

// Shutdown stops the HTTP server and then flushes the audit log.
// It is idempotent; every step runs and failures are joined.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Error("audit logger close error", "error", err)
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	a.logger.Info("application shutdown complete", "exports_registered", a.cache.Len())
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		a.logger.Warn("MASTER_KEY not set, HTTP endpoints accept unauthenticated requests")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Figma.RequestsPerSecond > 0 {
		a.logger.Info("design API rate budget", "requests_per_second", cfg.Figma.RequestsPerSecond)
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	if cfg.Audit.Enabled {
		a.logger.Info("audit logging enabled",
			"storage_type", cfg.Storage.Type,
			"log_bodies", cfg.Audit.LogBodies,
			"log_headers", cfg.Audit.LogHeaders,
			"retention_days", cfg.Audit.RetentionDays,
		)
	} else {
		a.logger.Info("audit logging disabled")
	}
}
