package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with every bound variable cleared.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://api.figma.com/v1", cfg.Figma.BaseURL)
	assert.Zero(t, cfg.Figma.RequestsPerSecond)
	assert.Equal(t, 60*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(50<<20), cfg.HTTP.DownloadMaxBytes)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, 1000, cfg.Audit.BufferSize)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, ".cache/figmamcp.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, "figmamcp", cfg.Storage.MongoDB.Database)

	assert.ErrorIs(t, cfg.Validate(), ErrMissingToken)
}

func TestLoad_FromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("FIGMA_TOKEN", "figd_test")
	t.Setenv("FIGMA_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("HTTP_TIMEOUT", "15s")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("AUDIT_ENABLED", "true")
	t.Setenv("STORAGE_TYPE", "postgresql")
	t.Setenv("POSTGRES_URL", "postgres://localhost/figma")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "figd_test", cfg.Figma.Token)
	assert.InDelta(t, 2.5, cfg.Figma.RequestsPerSecond, 0.0001)
	assert.Equal(t, 15*time.Second, cfg.HTTP.Timeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/figma", cfg.Storage.PostgreSQL.URL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLWithPlaceholders(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TEST_FIGMA_TOKEN", "from-env")

	content := `
server:
  port: "${TEST_PORT_UNSET:-7070}"
figma:
  token: "${TEST_FIGMA_TOKEN}"
audit:
  enabled: true
  retention_days: 7
`
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Figma.Token)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)
	assert.Equal(t, 1000, cfg.Audit.BufferSize, "unset keys keep their defaults")
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte("server:\n  port: \"7070\"\n"), 0o644))
	t.Setenv("PORT", "1111")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1111", cfg.Server.Port)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	// godotenv only fills variables that are absent, so unset instead of blanking.
	require.NoError(t, os.Unsetenv("FIGMA_TOKEN"))
	require.NoError(t, os.WriteFile(dir+"/.env", []byte("FIGMA_TOKEN=dotenv-token\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("FIGMA_TOKEN") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dotenv-token", cfg.Figma.Token)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte("server: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Figma: FigmaConfig{Token: "t"}, Storage: StorageConfig{Type: "redis"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
	assert.NotErrorIs(t, err, ErrMissingToken)

	cfg.Figma.RequestsPerSecond = -1
	cfg.Storage.Type = "mongodb"
	assert.ErrorContains(t, cfg.Validate(), "must not be negative")
}

func TestExpandString(t *testing.T) {
	t.Setenv("EXPAND_SET", "value")
	t.Setenv("EXPAND_EMPTY", "")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "no placeholders", input: "plain", expected: "plain"},
		{name: "simple variable", input: "${EXPAND_SET}", expected: "value"},
		{name: "variable in the middle", input: "a-${EXPAND_SET}-b", expected: "a-value-b"},
		{name: "default unused", input: "${EXPAND_SET:-other}", expected: "value"},
		{name: "default for unset", input: "${EXPAND_MISSING:-fallback}", expected: "fallback"},
		{name: "default for empty", input: "${EXPAND_EMPTY:-fallback}", expected: "fallback"},
		{name: "unset without default", input: "x${EXPAND_MISSING}y", expected: "xy"},
		{name: "default with colon", input: "${EXPAND_MISSING:-http://h:1}", expected: "http://h:1"},
		{name: "not a placeholder", input: "$EXPAND_SET", expected: "$EXPAND_SET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}
