package auditlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"figmamcp/internal/core"
)

// Middleware creates an Echo middleware for audit logging.
// It opens an entry before the handler runs, exposes it through the request
// context for enrichment, and queues it once the response is written.
func Middleware(logger LoggerInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if logger == nil || !logger.Config().Enabled || !IsAuditedPath(c.Request().URL.Path) {
				return next(c)
			}

			cfg := logger.Config()
			start := time.Now()
			req := c.Request()

			requestID := req.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-ID", requestID)

			entry := &LogEntry{
				ID:        uuid.NewString(),
				Timestamp: start,
				Transport: TransportHTTP,
				RequestID: requestID,
				ClientIP:  c.RealIP(),
				Method:    req.Method,
				Path:      req.URL.Path,
				Data: &LogData{
					UserAgent: req.UserAgent(),
					SessionID: req.Header.Get("Mcp-Session-Id"),
				},
			}

			if authHeader := req.Header.Get("Authorization"); authHeader != "" {
				entry.Data.APIKeyHash = hashAPIKey(authHeader)
			}

			if cfg.LogHeaders {
				entry.Data.RequestHeaders = extractHeaders(req.Header)
			}

			if cfg.LogBodies && req.Body != nil && req.ContentLength != 0 {
				captureRequestBody(req.Body, req.ContentLength, req.Header.Get("Content-Encoding"), entry, func(body io.ReadCloser) {
					req.Body = body
				})
			}

			c.Set(string(LogEntryKey), entry)
			ctx := context.WithValue(req.Context(), LogEntryKey, entry)
			ctx = core.WithRequestID(ctx, requestID)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			entry.DurationNs = time.Since(start).Nanoseconds()
			entry.StatusCode = c.Response().Status
			if err != nil && entry.ErrorType == "" {
				entry.ErrorType = "http_error"
				entry.Data.ErrorMessage = err.Error()
			}

			if cfg.LogHeaders {
				entry.Data.ResponseHeaders = extractHeaders(c.Response().Header())
			}

			logger.Write(entry)
			return err
		}
	}
}

// captureRequestBody copies up to MaxBodyCapture bytes of the body into entry
// and hands the handler an equivalent reader through restore.
func captureRequestBody(body io.ReadCloser, contentLength int64, contentEncoding string, entry *LogEntry, restore func(io.ReadCloser)) {
	if contentLength > MaxBodyCapture {
		entry.Data.RequestBodyTooBigToStore = true
		return
	}

	raw, err := io.ReadAll(io.LimitReader(body, MaxBodyCapture+1))
	if err != nil {
		return
	}
	restore(io.NopCloser(io.MultiReader(bytes.NewReader(raw), body)))
	if len(raw) > MaxBodyCapture {
		entry.Data.RequestBodyTooBigToStore = true
		return
	}

	if decompressed, ok := decompressBody(raw, contentEncoding); ok {
		raw = decompressed
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		entry.Data.RequestBody = parsed
	} else {
		entry.Data.RequestBody = toValidUTF8String(raw)
	}
}

// Call describes one handled protocol message.
type Call struct {
	RPCMethod string
	Tool      string
	FileKey   string
	ErrorType string
	Duration  time.Duration
}

// RecordCall attaches call details to the entry opened by Middleware. When ctx
// carries no entry (stdio transport) a standalone entry is queued instead.
func RecordCall(ctx context.Context, logger LoggerInterface, call Call) {
	if entry := EntryFromContext(ctx); entry != nil {
		// A single HTTP request carries one message; keep the first.
		if entry.RPCMethod == "" {
			entry.RPCMethod = call.RPCMethod
			entry.Tool = call.Tool
			entry.FileKey = call.FileKey
			entry.ErrorType = call.ErrorType
		}
		return
	}

	if logger == nil || !logger.Config().Enabled {
		return
	}
	logger.Write(&LogEntry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().Add(-call.Duration),
		DurationNs: call.Duration.Nanoseconds(),
		RPCMethod:  call.RPCMethod,
		Tool:       call.Tool,
		FileKey:    call.FileKey,
		ErrorType:  call.ErrorType,
		Transport:  TransportStdio,
		RequestID:  core.GetRequestID(ctx),
		Data:       &LogData{SessionID: core.GetSessionID(ctx)},
	})
}

// EntryFromContext returns the entry opened by Middleware, or nil.
func EntryFromContext(ctx context.Context) *LogEntry {
	entry, _ := ctx.Value(LogEntryKey).(*LogEntry)
	return entry
}

// EnrichEntryWithError adds error information to the entry of an echo request.
func EnrichEntryWithError(c echo.Context, errorType, errorMessage string) {
	entry, ok := c.Get(string(LogEntryKey)).(*LogEntry)
	if !ok || entry == nil {
		return
	}

	entry.ErrorType = errorType
	if entry.Data != nil {
		entry.Data.ErrorMessage = errorMessage
	}
}

// extractHeaders takes the first value for each key and redacts sensitive headers.
func extractHeaders(headers map[string][]string) map[string]string {
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return RedactHeaders(result)
}

// hashAPIKey returns the first APIKeyHashPrefixLength hex characters of the key's SHA256.
func hashAPIKey(authHeader string) string {
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return ""
	}

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])[:APIKeyHashPrefixLength]
}

// toValidUTF8String prevents "Invalid UTF-8 string in BSON document" errors in MongoDB.
func toValidUTF8String(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// decompressBody decodes gzip or brotli bodies. It returns false when the
// body is not compressed or cannot be decoded.
func decompressBody(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || contentEncoding == "" {
		return body, false
	}

	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))

	var reader io.Reader
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, false
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, false
	}

	// Compression bomb protection
	const maxDecompressedSize = 2 * MaxBodyCapture
	decompressed, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
	if err != nil {
		return body, false
	}
	return decompressed, true
}
