package auditlog

// Buffer and capture limits for audit logging.
const (
	// MaxBodyCapture is the maximum size of a request body to capture (1MB).
	MaxBodyCapture = 1024 * 1024

	// BatchFlushThreshold is the number of entries that triggers an immediate flush.
	BatchFlushThreshold = 100

	// APIKeyHashPrefixLength is the number of hex characters kept from the SHA256 hash.
	APIKeyHashPrefixLength = 16
)

type contextKey string

// LogEntryKey is the key under which the in-flight entry is stored,
// both in the echo context and in the request context.
const LogEntryKey contextKey = "auditlog_entry"
