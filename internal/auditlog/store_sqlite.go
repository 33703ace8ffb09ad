package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
// With 14 columns per log entry, we can safely insert up to 71 entries per batch (71 * 14 = 994).
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 14
	maxEntriesPerBatch = maxSQLiteParams / columnsPerEntry // 71 entries
)

// auditColumns lists the insert columns shared by the SQL stores.
const auditColumns = "id, timestamp, duration_ns, rpc_method, tool, file_key, status_code, error_type, transport, request_id, client_ip, method, path, data"

// SQLiteStore implements LogStore for SQLite databases.
type SQLiteStore struct {
	db        *sql.DB
	retention *retentionSweeper
}

// NewSQLiteStore creates a new SQLite audit log store.
// It creates the audit_logs table if it doesn't exist and starts
// a background cleanup goroutine if retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			duration_ns INTEGER DEFAULT 0,
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
			data JSON
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
		"CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_logs(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_error_type ON audit_logs(error_type)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{db: db}
	store.retention = newRetentionSweeper("sqlite", retentionDays, store.purgeBefore)
	store.retention.start()

	return store, nil
}

// WriteBatch writes multiple log entries to SQLite using batch insert.
// Entries are chunked to stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", columnsPerEntry), ", ") + ")"

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)

		for j, e := range chunk {
			placeholders[j] = placeholder

			// nil data becomes SQL NULL
			var dataValue any
			if dataJSON := marshalLogData(e.Data, e.ID); dataJSON != nil {
				dataValue = string(dataJSON)
			}

			values = append(values,
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
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
				dataValue,
			)
		}

		query := "INSERT OR IGNORE INTO audit_logs (" + auditColumns + ") VALUES " + strings.Join(placeholders, ",")
		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert audit logs batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the retention sweeper.
// The DB itself is owned by the storage layer. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	s.retention.close()
	return nil
}

// purgeBefore deletes log entries older than cutoff.
func (s *SQLiteStore) purgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < ?", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// marshalLogData encodes data for a JSON column. It returns nil for nil data
// and "{}" when encoding fails so the row is still written.
func marshalLogData(data *LogData, id string) []byte {
	if data == nil {
		return nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		slog.Warn("failed to marshal log data", "error", err, "id", id)
		return []byte("{}")
	}
	return out
}
