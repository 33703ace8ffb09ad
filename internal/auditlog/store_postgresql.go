package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresInsert = "INSERT INTO audit_logs (" + auditColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements LogStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool      *pgxpool.Pool
	retention *retentionSweeper
}

// NewPostgreSQLStore creates a new PostgreSQL audit log store.
// It creates the audit_logs table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT DEFAULT 0,
			rpc_method TEXT,
			tool TEXT,
			file_key TEXT,
			status_code INTEGER DEFAULT 0,
			error_type TEXT,
			transport TEXT,
			request_id TEXT,
			client_ip TEXT,
			method TEXT,
			path TEXT,
			data JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_logs(tool)",
		"CREATE INDEX IF NOT EXISTS idx_audit_file_key ON audit_logs(file_key)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_logs(status_code)",
		"CREATE INDEX IF NOT EXISTS idx_audit_data_gin ON audit_logs USING GIN (data)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{pool: pool}
	store.retention = newRetentionSweeper("postgresql", retentionDays, store.purgeBefore)
	store.retention.start()

	return store, nil
}

// WriteBatch queues every entry in a single pgx batch round trip.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(postgresInsert,
			e.ID,
			e.Timestamp,
			e.DurationNs,
			e.RPCMethod,
			e.Tool,
			e.FileKey,
			e.StatusCode,
			e.ErrorType,
			e.Transport,
			e.RequestID,
			e.ClientIP,
			e.Method,
			e.Path,
			marshalLogData(e.Data, e.ID),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	failed := 0
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			failed++
			slog.Warn("failed to insert audit log", "error", err, "id", e.ID)
		}
	}
	if failed == len(entries) {
		return fmt.Errorf("failed to insert audit logs batch: all %d entries rejected", failed)
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention sweeper.
// The pool is owned by the storage layer. Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	s.retention.close()
	return nil
}

// purgeBefore deletes log entries older than cutoff.
func (s *PostgreSQLStore) purgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
