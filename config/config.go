// Package config provides configuration management for the application.
//
// Values are resolved in this order, later sources winning: built-in
// defaults, config.yaml (with ${VAR} and ${VAR:-default} expansion), then
// environment variables. A .env file in the working directory is loaded into
// the environment first and never overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Figma   FigmaConfig   `mapstructure:"figma"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `mapstructure:"port"`
	MasterKey     string `mapstructure:"master_key"`
	BodySizeLimit string `mapstructure:"body_size_limit"`
}

// FigmaConfig holds the design API settings.
type FigmaConfig struct {
	Token             string  `mapstructure:"token"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// HTTPConfig holds outbound HTTP client settings.
type HTTPConfig struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	DownloadMaxBytes      int64         `mapstructure:"download_max_bytes"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Format is "text", "json" or empty for auto-detection.
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuditConfig controls the audit log.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	LogBodies  bool `mapstructure:"log_bodies"`
	LogHeaders bool `mapstructure:"log_headers"`
	BufferSize int  `mapstructure:"buffer_size"`
	// FlushInterval is in seconds
	FlushInterval int `mapstructure:"flush_interval"`
	RetentionDays int `mapstructure:"retention_days"`
}

// StorageConfig selects the audit log backend.
type StorageConfig struct {
	Type       string           `mapstructure:"type"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// ErrMissingToken is returned by Validate when no design API token is configured.
var ErrMissingToken = errors.New("FIGMA_TOKEN is required")

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"server.port":                  "PORT",
	"server.master_key":            "MASTER_KEY",
	"server.body_size_limit":       "BODY_SIZE_LIMIT",
	"figma.token":                  "FIGMA_TOKEN",
	"figma.base_url":               "FIGMA_API_BASE_URL",
	"figma.requests_per_second":    "FIGMA_REQUESTS_PER_SECOND",
	"http.timeout":                 "HTTP_TIMEOUT",
	"http.response_header_timeout": "HTTP_RESPONSE_HEADER_TIMEOUT",
	"http.download_max_bytes":      "DOWNLOAD_MAX_BYTES",
	"log.format":                   "LOG_FORMAT",
	"log.level":                    "LOG_LEVEL",
	"metrics.enabled":              "METRICS_ENABLED",
	"metrics.endpoint":             "METRICS_ENDPOINT",
	"audit.enabled":                "AUDIT_ENABLED",
	"audit.log_bodies":             "AUDIT_LOG_BODIES",
	"audit.log_headers":            "AUDIT_LOG_HEADERS",
	"audit.buffer_size":            "AUDIT_BUFFER_SIZE",
	"audit.flush_interval":         "AUDIT_FLUSH_INTERVAL",
	"audit.retention_days":         "AUDIT_RETENTION_DAYS",
	"storage.type":                 "STORAGE_TYPE",
	"storage.sqlite.path":          "SQLITE_PATH",
	"storage.postgresql.url":       "POSTGRES_URL",
	"storage.postgresql.max_conns": "POSTGRES_MAX_CONNS",
	"storage.mongodb.url":          "MONGODB_URL",
	"storage.mongodb.database":     "MONGODB_DATABASE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.body_size_limit", "10M")
	v.SetDefault("figma.base_url", "https://api.figma.com/v1")
	v.SetDefault("figma.requests_per_second", 0)
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("http.response_header_timeout", "60s")
	v.SetDefault("http.download_max_bytes", 50<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 5)
	v.SetDefault("audit.retention_days", 30)
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.sqlite.path", ".cache/figmamcp.db")
	v.SetDefault("storage.postgresql.max_conns", 10)
	v.SetDefault("storage.mongodb.database", "figmamcp")
}

// configPaths are searched in order; the first readable file is used.
var configPaths = []string{"config.yaml", "config/config.yaml"}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		fileValues, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := v.MergeConfigMap(fileValues); err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		break
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// parseYAML expands environment placeholders and decodes the document.
func parseYAML(data []byte) (map[string]any, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal([]byte(expandString(string(data))), &values); err != nil {
		return nil, err
	}
	return values, nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. An unset VAR without a
// default expands to the empty string; a set but empty VAR uses the default.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[3]
	})
}

// Validate reports configuration that would prevent the server from working.
func (c *Config) Validate() error {
	var errs []error
	if c.Figma.Token == "" {
		errs = append(errs, ErrMissingToken)
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type))
	}
	if c.Figma.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("FIGMA_REQUESTS_PER_SECOND must not be negative"))
	}
	return errors.Join(errs...)
}
