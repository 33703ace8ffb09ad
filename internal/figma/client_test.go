package figma

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figmamcp/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{BaseURL: server.URL + "/v1/", Token: "figd_test"}
	for _, m := range mutate {
		m(&cfg)
	}
	client, err := New(cfg, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestNew_TokenValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeAuthentication, svcErr.Type)

	_, err = New(Config{Token: "abc\r\nX-Injected: 1"})
	require.ErrorAs(t, err, &svcErr)
	assert.Contains(t, svcErr.Message, "control characters")

	client, err := New(Config{Token: "figd_ok"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.BaseURL())
}

func TestGetFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/ABC123", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("depth"))
		assert.Equal(t, "figd_test", r.Header.Get("X-Figma-Token"))
		_, _ = w.Write([]byte(`{"name":"My File","document":{"id":"0:0"}}`))
	})

	raw, err := client.GetFile(context.Background(), "ABC123", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"My File","document":{"id":"0:0"}}`, string(raw))
}

func TestGetFile_NoDepth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.GetFile(context.Background(), "ABC123", 0)
	require.NoError(t, err)

	_, err = client.GetFile(context.Background(), "", 0)
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, svcErr.Type)
}

func TestGetFileNodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/ABC123/nodes", r.URL.Path)
		assert.Equal(t, "1:2,3:4", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"nodes":{"1:2":{},"3:4":{}}}`))
	})

	raw, err := client.GetFileNodes(context.Background(), "ABC123", []string{"1:2", "3:4"}, 1)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"3:4"`)

	_, err = client.GetFileNodes(context.Background(), "ABC123", nil, 1)
	assert.Error(t, err)
}

func TestExportImages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/ABC123", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1:2,3:4", q.Get("ids"))
		assert.Equal(t, "svg", q.Get("format"))
		assert.Equal(t, "2.5", q.Get("scale"))
		_, _ = w.Write([]byte(`{"err":null,"images":{"1:2":"https://s3/a.svg","3:4":null}}`))
	})

	res, err := client.ExportImages(context.Background(), &core.ExportRequest{
		FileKey: "ABC123",
		NodeIDs: []string{"1:2", "3:4"},
		Format:  "svg",
		Scale:   2.5,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1:2": "https://s3/a.svg"}, res.Images)
	assert.Contains(t, string(res.Raw), `"images"`)
}

func TestExportImages_ErrFieldOnSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"err":"Render timeout","images":{}}`))
	})

	_, err := client.ExportImages(context.Background(), &core.ExportRequest{FileKey: "ABC123", NodeIDs: []string{"1:2"}})
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, core.ErrorTypeUpstream, svcErr.Type)
	assert.Equal(t, "Render timeout", svcErr.Message)
}

func TestGetMe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"1","handle":"designer"}`))
	})

	raw, err := client.GetMe(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "designer")
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"status":403,"err":"Invalid token"}`, wantType: core.ErrorTypeAuthentication},
		{name: "not found", status: http.StatusNotFound, body: `{"status":404,"err":"Not found"}`, wantType: core.ErrorTypeNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"status":429,"err":"Rate limit exceeded"}`, wantType: core.ErrorTypeRateLimit},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantType: core.ErrorTypeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetFile(context.Background(), "ABC123", 1)
			var svcErr *core.ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantType, svcErr.Type)
			assert.Equal(t, int32(1), calls.Load(), "failed calls are not retried")
		})
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := client.GetMe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestClient_ResponseTooLarge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"` + strings.Repeat("x", 100) + `"}`))
	}, func(c *Config) { c.MaxResponseBytes = 32 })

	_, err := client.GetMe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestClient_RateLimiterPacesCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, func(c *Config) { c.RequestsPerSecond = 20 })

	start := time.Now()
	for range 25 {
		_, err := client.GetMe(context.Background())
		require.NoError(t, err)
	}
	// A burst of 20 then 5 more at 20/s needs roughly 250ms.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestClient_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, func(c *Config) { c.RequestsPerSecond = 0.001 })

	// First call drains the single token.
	_, err := client.GetMe(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = client.GetMe(ctx)
	require.Error(t, err)
	var svcErr *core.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Contains(t, svcErr.Message, "request budget")
}
