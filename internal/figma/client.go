// Package figma is a thin client for the Figma REST API.
//
// Responses are returned as opaque JSON; the client only looks inside a body
// to find error fields and, for image exports, the node-to-URL map.
package figma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"figmamcp/internal/core"
	"figmamcp/internal/httpclient"
)

// DefaultBaseURL is the public REST endpoint.
const DefaultBaseURL = "https://api.figma.com/v1"

const (
	tokenHeader = "X-Figma-Token"

	defaultMaxResponseBytes int64 = 64 * 1024 * 1024
)

// Config holds configuration for the API client
type Config struct {
	// BaseURL is the API base URL, without a trailing slash
	BaseURL string

	// Token is a personal access token sent as X-Figma-Token
	Token string

	// RequestsPerSecond paces outbound calls. 0 means unlimited.
	RequestsPerSecond float64

	// MaxResponseBytes caps a single response body
	MaxResponseBytes int64
}

// Client talks to the design API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	config     Config
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ core.DesignAPI = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. The token must be non-empty and free of control characters.
func New(config Config, opts ...Option) (*Client, error) {
	if err := ValidateToken(config.Token); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaultMaxResponseBytes
	}

	c := &Client{
		httpClient: httpclient.NewHTTPClient(nil),
		config:     config,
		limiter:    newLimiter(config.RequestsPerSecond),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateToken rejects tokens that cannot be sent as a header value.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return core.NewAuthenticationError("figma token is required")
	}
	for _, r := range token {
		if unicode.IsControl(r) {
			return core.NewAuthenticationError("figma token contains control characters")
		}
	}
	return nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// BaseURL returns the configured API base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// GetFile fetches GET /files/{key}.
func (c *Client) GetFile(ctx context.Context, fileKey string, depth int) (json.RawMessage, error) {
	if fileKey == "" {
		return nil, core.NewInvalidRequestError("file_key is required", nil)
	}
	query := url.Values{}
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}
	return c.get(ctx, "/files/"+url.PathEscape(fileKey), query)
}

// GetFileNodes fetches GET /files/{key}/nodes?ids=...
func (c *Client) GetFileNodes(ctx context.Context, fileKey string, nodeIDs []string, depth int) (json.RawMessage, error) {
	if fileKey == "" {
		return nil, core.NewInvalidRequestError("file_key is required", nil)
	}
	if len(nodeIDs) == 0 {
		return nil, core.NewInvalidRequestError("at least one node id is required", nil)
	}
	query := url.Values{}
	query.Set("ids", strings.Join(nodeIDs, ","))
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}
	return c.get(ctx, "/files/"+url.PathEscape(fileKey)+"/nodes", query)
}

// ExportImages calls GET /images/{key} and collects the returned download URLs.
// Nodes the API answers with null are left out of Images.
func (c *Client) ExportImages(ctx context.Context, req *core.ExportRequest) (*core.ExportResult, error) {
	if req == nil || req.FileKey == "" {
		return nil, core.NewInvalidRequestError("file_key is required", nil)
	}
	if len(req.NodeIDs) == 0 {
		return nil, core.NewInvalidRequestError("at least one node id is required", nil)
	}

	query := url.Values{}
	query.Set("ids", strings.Join(req.NodeIDs, ","))
	if req.Format != "" {
		query.Set("format", req.Format)
	}
	if req.Scale > 0 {
		query.Set("scale", strconv.FormatFloat(req.Scale, 'f', -1, 64))
	}

	body, err := c.get(ctx, "/images/"+url.PathEscape(req.FileKey), query)
	if err != nil {
		return nil, err
	}

	images := make(map[string]string)
	gjson.GetBytes(body, "images").ForEach(func(nodeID, link gjson.Result) bool {
		if link.Type == gjson.String && link.Str != "" {
			images[nodeID.String()] = link.Str
		}
		return true
	})

	return &core.ExportResult{Raw: body, Images: images}, nil
}

// GetMe fetches GET /me.
func (c *Client) GetMe(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/me", nil)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, core.NewUpstreamError(http.StatusBadGateway, "waiting for request budget: "+err.Error(), err)
	}

	target := c.config.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request: "+err.Error(), err)
	}
	req.Header.Set(tokenHeader, c.config.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewUpstreamError(http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, core.NewUpstreamError(http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	if int64(len(body)) > c.config.MaxResponseBytes {
		return nil, core.NewUpstreamError(http.StatusBadGateway,
			fmt.Sprintf("response body too large (exceeds %d bytes)", c.config.MaxResponseBytes), nil)
	}

	c.logger.Debug("figma api call",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ParseUpstreamError(resp.StatusCode, body)
	}
	if msg := core.UpstreamErrField(body); msg != "" {
		return nil, core.NewUpstreamError(http.StatusBadGateway, msg, nil)
	}
	if !gjson.ValidBytes(body) {
		return nil, core.NewUpstreamError(http.StatusBadGateway, "design API returned invalid JSON", nil)
	}
	return json.RawMessage(body), nil
}
