// Package auditlog records who called which tool on which design file.
// Entries are buffered in memory and written in batches to a configurable backend.
package auditlog

import (
	"context"
	"strings"
	"time"
)

// LogStore defines the interface for audit log storage backends.
// Implementations must be safe for concurrent use.
type LogStore interface {
	// WriteBatch writes multiple log entries to storage.
	WriteBatch(ctx context.Context, entries []*LogEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// LogEntry represents a single audit log entry.
// Core fields are stored as columns so they can be filtered on.
type LogEntry struct {
	// ID is a unique identifier for this log entry (UUID)
	ID string `json:"id" bson:"_id"`

	// Timestamp is when the request started
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// DurationNs is the request duration in nanoseconds
	DurationNs int64 `json:"duration_ns" bson:"duration_ns"`

	RPCMethod  string `json:"rpc_method,omitempty" bson:"rpc_method,omitempty"`
	Tool       string `json:"tool,omitempty" bson:"tool,omitempty"`
	FileKey    string `json:"file_key,omitempty" bson:"file_key,omitempty"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	ErrorType  string `json:"error_type,omitempty" bson:"error_type,omitempty"`

	// Transport
	Transport string `json:"transport" bson:"transport"`
	RequestID string `json:"request_id,omitempty" bson:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty" bson:"client_ip,omitempty"`
	Method    string `json:"method,omitempty" bson:"method,omitempty"`
	Path      string `json:"path,omitempty" bson:"path,omitempty"`

	// Data contains optional detail stored as JSON
	Data *LogData `json:"data" bson:"data"`
}

// Transports an entry can originate from.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// LogData holds optional request detail.
// Fields are omitted when empty to save storage space.
type LogData struct {
	UserAgent    string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	APIKeyHash   string `json:"api_key_hash,omitempty" bson:"api_key_hash,omitempty"`
	SessionID    string `json:"session_id,omitempty" bson:"session_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" bson:"error_message,omitempty"`

	// Optional headers (when AUDIT_LOG_HEADERS=true)
	// Sensitive headers are auto-redacted
	RequestHeaders  map[string]string `json:"request_headers,omitempty" bson:"request_headers,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty" bson:"response_headers,omitempty"`

	// Optional request body (when AUDIT_LOG_BODIES=true). Kept as a decoded
	// value so MongoDB stores it as a document.
	RequestBody              any  `json:"request_body,omitempty" bson:"request_body,omitempty"`
	RequestBodyTooBigToStore bool `json:"request_body_too_big,omitempty" bson:"request_body_too_big,omitempty"`
}

// RedactedHeaders contains headers that should be automatically redacted.
var RedactedHeaders = []string{
	"authorization",
	"x-figma-token",
	"x-api-key",
	"cookie",
	"set-cookie",
	"proxy-authorization",
}

// RedactHeaders redacts sensitive headers from a header map.
// The original map is not modified; a new map is returned.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	result := make(map[string]string, len(headers))
	for key, value := range headers {
		result[key] = value
		keyLower := strings.ToLower(key)
		for _, redactKey := range RedactedHeaders {
			if keyLower == redactKey {
				result[key] = "[REDACTED]"
				break
			}
		}
	}
	return result
}

// Config holds audit logging configuration
type Config struct {
	// Enabled controls whether audit logging is active
	Enabled bool

	// LogBodies enables logging of request bodies
	LogBodies bool

	// LogHeaders enables logging of request/response headers
	LogHeaders bool

	// BufferSize is the number of log entries to buffer before dropping
	BufferSize int

	// FlushInterval is how often to flush buffered logs
	FlushInterval time.Duration

	// RetentionDays is how long to keep logs (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

// auditedPrefixes are the routes that carry protocol traffic.
var auditedPrefixes = []string{"/mcp", "/v1/resources"}

// IsAuditedPath reports whether requests to path are recorded.
func IsAuditedPath(path string) bool {
	for _, prefix := range auditedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
