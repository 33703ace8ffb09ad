// Package core provides the error taxonomy and shared interfaces of the design-file service.
package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates bad caller input (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates an unknown file, node or resource (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeUpstream indicates the design API failed (5xx or malformed reply)
	ErrorTypeUpstream ErrorType = "upstream_error"
	// ErrorTypeAuthentication indicates a rejected or malformed token (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeRateLimit indicates the design API throttled us (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeDownload indicates exported bytes could not be fetched
	ErrorTypeDownload ErrorType = "download_error"
)

// ServiceError is the base error type surfaced to clients.
type ServiceError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ServiceError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream, ErrorTypeDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *ServiceError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewUpstreamError creates a new design API failure (502 by default)
func NewUpstreamError(statusCode int, message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeUpstream,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Err:        err,
	}
}

// NewDownloadError creates a new export download error (502)
func NewDownloadError(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeDownload,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// ParseUpstreamError classifies a failed design API response.
// The API reports failures as {"status": 403, "err": "..."} on most endpoints
// and {"error": true, "message": "..."} on a few; both shapes are read.
func ParseUpstreamError(statusCode int, body []byte) *ServiceError {
	message := upstreamMessage(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}
	if message == "" {
		message = fmt.Sprintf("design API returned status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err := NewAuthenticationError(message)
		err.StatusCode = statusCode
		return err
	case statusCode == http.StatusNotFound:
		return NewNotFoundError(message, nil)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(message)
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestError(message, nil)
		err.StatusCode = statusCode
		return err
	default:
		return NewUpstreamError(http.StatusBadGateway, message, nil)
	}
}

// UpstreamErrField returns the "err" field of a 2xx reply that still carries a failure, or "".
func UpstreamErrField(body []byte) string {
	res := gjson.GetBytes(body, "err")
	if !res.Exists() || res.Type == gjson.Null {
		return ""
	}
	return res.String()
}

func upstreamMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"err", "message", "error.message"} {
		if res := gjson.GetBytes(body, path); res.Exists() && res.Type == gjson.String && res.Str != "" {
			return res.Str
		}
	}
	return ""
}
