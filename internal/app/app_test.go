package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"figmamcp/config"
	"figmamcp/internal/core"
)

type stubAPI struct{}

func (stubAPI) GetFile(context.Context, string, int) (json.RawMessage, error) {
	return json.RawMessage(`{"name":"Design"}`), nil
}

func (stubAPI) GetFileNodes(context.Context, string, []string, int) (json.RawMessage, error) {
	return json.RawMessage(`{"nodes":{}}`), nil
}

func (stubAPI) ExportImages(context.Context, *core.ExportRequest) (*core.ExportResult, error) {
	return &core.ExportResult{Raw: json.RawMessage(`{"images":{}}`), Images: map[string]string{}}, nil
}

func (stubAPI) GetMe(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Figma:  config.FigmaConfig{Token: "figd_test"},
		HTTP:   config.HTTPConfig{Timeout: 5 * time.Second},
		Audit: config.AuditConfig{
			Enabled:       true,
			BufferSize:    10,
			FlushInterval: 60,
		},
		Storage: config.StorageConfig{
			Type:   "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_RejectsMissingToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Figma.Token = ""
	_, err := New(context.Background(), Config{AppConfig: cfg, Logger: quietLogger()})
	assert.ErrorContains(t, err, "design API client")
}

func TestApp_HTTPRequestsAreAuditedToSQLite(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), Config{AppConfig: cfg, Logger: quietLogger(), API: stubAPI{}})
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_file","arguments":{"file_key":"ABC123"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "result.content.0.text").String(), "Design")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()), "shutdown is idempotent")

	db, err := sql.Open("sqlite", cfg.Storage.SQLite.Path)
	require.NoError(t, err)
	defer db.Close()

	var tool, fileKey, transport string
	require.NoError(t, db.QueryRow("SELECT tool, file_key, transport FROM audit_logs").Scan(&tool, &fileKey, &transport))
	assert.Equal(t, "get_file", tool)
	assert.Equal(t, "ABC123", fileKey)
	assert.Equal(t, "http", transport)
}

func TestApp_ServeStdio(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = false
	a, err := New(context.Background(), Config{AppConfig: cfg, Logger: quietLogger(), API: stubAPI{}})
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, a.ServeStdio(context.Background(), in, &out))

	assert.Equal(t, int64(6), gjson.Get(out.String(), "result.tools.#").Int())
}
