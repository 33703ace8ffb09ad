package core

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	err := &ServiceError{Type: ErrorTypeInvalidRequest, Message: "bad request"}
	if got, want := err.Error(), "invalid_request_error: bad request"; got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := NewDownloadError("download failed", originalErr)

	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is did not find the original error")
	}
}

func TestServiceError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected int
	}{
		{
			name:     "explicit status code",
			err:      &ServiceError{Type: ErrorTypeUpstream, StatusCode: http.StatusServiceUnavailable},
			expected: http.StatusServiceUnavailable,
		},
		{name: "rate limit default", err: &ServiceError{Type: ErrorTypeRateLimit}, expected: http.StatusTooManyRequests},
		{name: "invalid request default", err: &ServiceError{Type: ErrorTypeInvalidRequest}, expected: http.StatusBadRequest},
		{name: "authentication default", err: &ServiceError{Type: ErrorTypeAuthentication}, expected: http.StatusUnauthorized},
		{name: "not found default", err: &ServiceError{Type: ErrorTypeNotFound}, expected: http.StatusNotFound},
		{name: "upstream default", err: &ServiceError{Type: ErrorTypeUpstream}, expected: http.StatusBadGateway},
		{name: "download default", err: &ServiceError{Type: ErrorTypeDownload}, expected: http.StatusBadGateway},
		{name: "unknown type", err: &ServiceError{Type: "other"}, expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestServiceError_ToJSON(t *testing.T) {
	err := NewNotFoundError("file not found", nil)
	body := err.ToJSON()

	inner, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("ToJSON()[error] has type %T", body["error"])
	}
	if inner["type"] != ErrorTypeNotFound {
		t.Errorf("type = %v, want %v", inner["type"], ErrorTypeNotFound)
	}
	if inner["message"] != "file not found" {
		t.Errorf("message = %v", inner["message"])
	}
}

func TestParseUpstreamError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantType    ErrorType
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "forbidden with err field",
			status:      http.StatusForbidden,
			body:        `{"status":403,"err":"Invalid token"}`,
			wantType:    ErrorTypeAuthentication,
			wantStatus:  http.StatusForbidden,
			wantMessage: "Invalid token",
		},
		{
			name:        "not found",
			status:      http.StatusNotFound,
			body:        `{"status":404,"err":"Not found"}`,
			wantType:    ErrorTypeNotFound,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Not found",
		},
		{
			name:        "rate limited with message field",
			status:      http.StatusTooManyRequests,
			body:        `{"error":true,"message":"Rate limit exceeded"}`,
			wantType:    ErrorTypeRateLimit,
			wantStatus:  http.StatusTooManyRequests,
			wantMessage: "Rate limit exceeded",
		},
		{
			name:        "bad request",
			status:      http.StatusBadRequest,
			body:        `{"status":400,"err":"Invalid parameter: ids"}`,
			wantType:    ErrorTypeInvalidRequest,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid parameter: ids",
		},
		{
			name:        "server error with plain text",
			status:      http.StatusInternalServerError,
			body:        "upstream exploded",
			wantType:    ErrorTypeUpstream,
			wantStatus:  http.StatusBadGateway,
			wantMessage: "upstream exploded",
		},
		{
			name:        "empty body falls back to status text",
			status:      http.StatusServiceUnavailable,
			body:        "",
			wantType:    ErrorTypeUpstream,
			wantStatus:  http.StatusBadGateway,
			wantMessage: "Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseUpstreamError(tt.status, []byte(tt.body))
			if err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", err.Type, tt.wantType)
			}
			if err.HTTPStatusCode() != tt.wantStatus {
				t.Errorf("HTTPStatusCode() = %v, want %v", err.HTTPStatusCode(), tt.wantStatus)
			}
			if err.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMessage)
			}
		})
	}
}

func TestUpstreamErrField(t *testing.T) {
	tests := map[string]string{
		`{"err":null,"images":{}}`:     "",
		`{"images":{}}`:                "",
		`{"err":"Render timeout"}`:     "Render timeout",
		`{"status":400,"err":"bad id"}`: "bad id",
	}
	for body, want := range tests {
		if got := UpstreamErrField([]byte(body)); got != want {
			t.Errorf("UpstreamErrField(%s) = %q, want %q", body, got, want)
		}
	}
}
