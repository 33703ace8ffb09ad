package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"figmamcp/config"
	"figmamcp/internal/storage"
)

// Result holds the initialized audit logger and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Logger  LoggerInterface
	Storage storage.Storage
}

// Close flushes the logger before closing the storage it writes to.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates an audit logger from configuration. When auditing is disabled
// it returns a NoopLogger and no storage.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Result, error) {
	if !cfg.Audit.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	logStore, err := createLogStore(ctx, store, cfg.Audit.RetentionDays)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Result{
		Logger:  NewLogger(logStore, buildLoggerConfig(cfg.Audit), log),
		Storage: store,
	}, nil
}

func buildStorageConfig(cfg config.StorageConfig) storage.Config {
	storageCfg := storage.DefaultConfig()
	if cfg.Type != "" {
		storageCfg.Type = cfg.Type
	}
	if cfg.SQLite.Path != "" {
		storageCfg.SQLite.Path = cfg.SQLite.Path
	}
	storageCfg.PostgreSQL.URL = cfg.PostgreSQL.URL
	if cfg.PostgreSQL.MaxConns > 0 {
		storageCfg.PostgreSQL.MaxConns = cfg.PostgreSQL.MaxConns
	}
	storageCfg.MongoDB.URL = cfg.MongoDB.URL
	if cfg.MongoDB.Database != "" {
		storageCfg.MongoDB.Database = cfg.MongoDB.Database
	}
	return storageCfg
}

// createLogStore creates the LogStore matching the storage backend.
func createLogStore(ctx context.Context, store storage.Storage, retentionDays int) (LogStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

func buildLoggerConfig(cfg config.AuditConfig) Config {
	defaults := DefaultConfig()
	out := Config{
		Enabled:       cfg.Enabled,
		LogBodies:     cfg.LogBodies,
		LogHeaders:    cfg.LogHeaders,
		BufferSize:    cfg.BufferSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
		RetentionDays: cfg.RetentionDays,
	}
	if out.BufferSize <= 0 {
		out.BufferSize = defaults.BufferSize
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = defaults.FlushInterval
	}
	return out
}
