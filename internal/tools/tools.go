// Package tools implements the callable tools and readable resources of the design-file service.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"figmamcp/internal/core"
	"figmamcp/internal/figmaurl"
	"figmamcp/internal/imagecache"
)

// ErrUnknownTool is returned by Call for names not in Definitions.
var ErrUnknownTool = errors.New("unknown tool")

const (
	defaultDepth  = 1
	defaultScale  = 1.0
	minScale      = 0.01
	maxScale      = 4.0
	defaultFormat = imagecache.FormatPNG
)

// Content is one block of a tool result. Only text blocks are produced.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is what a tool call returns to the client. Failures are reported
// with IsError set rather than as protocol errors.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func textResult(texts ...string) *Result {
	r := &Result{Content: make([]Content, 0, len(texts))}
	for _, t := range texts {
		r.Content = append(r.Content, Content{Type: "text", Text: t})
	}
	return r
}

func errorResult(format string, args ...any) *Result {
	r := textResult(fmt.Sprintf(format, args...))
	r.IsError = true
	return r
}

// Definition describes a tool to clients.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type handlerFunc func(ctx context.Context, args json.RawMessage) *Result

// Service wires the design API and the image cache behind the tool surface.
type Service struct {
	api      core.DesignAPI
	cache    *imagecache.Cache
	logger   *slog.Logger
	observe  func(tool string, failed bool)
	handlers map[string]handlerFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver is called after every tool call, e.g. to count calls.
func WithObserver(fn func(tool string, failed bool)) Option {
	return func(s *Service) {
		s.observe = fn
	}
}

// NewService creates the tool service.
func NewService(api core.DesignAPI, cache *imagecache.Cache, opts ...Option) *Service {
	s := &Service{
		api:     api,
		cache:   cache,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		observe: func(string, bool) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]handlerFunc{
		"parse_figma_url": s.parseFigmaURL,
		"get_file":        s.getFile,
		"get_file_nodes":  s.getFileNodes,
		"export_images":   s.exportImages,
		"get_me":          s.getMe,
		"help":            s.help,
	}
	return s
}

// Definitions lists the tools in a stable order.
func (s *Service) Definitions() []Definition {
	return definitions
}

// Call runs the named tool. The error is non-nil only for unknown tools;
// every other failure is carried in the result.
func (s *Service) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage(`{}`)
	}

	result := handler(ctx, args)
	s.observe(name, result.IsError)
	if result.IsError {
		s.logger.Warn("tool call failed",
			"tool", name,
			"request_id", core.GetRequestID(ctx),
			"error", result.Content[0].Text,
		)
	} else {
		s.logger.Debug("tool call", "tool", name, "request_id", core.GetRequestID(ctx))
	}
	return result, nil
}

type parseURLArgs struct {
	URL string `json:"url"`
}

func (s *Service) parseFigmaURL(_ context.Context, raw json.RawMessage) *Result {
	var args parseURLArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("Invalid arguments: %v", err)
	}

	parsed, err := figmaurl.Parse(args.URL)
	if err != nil {
		return errorResult("Error parsing URL: %v", err)
	}
	return textResult(mustIndent(parsed))
}

type getFileArgs struct {
	FileKey string `json:"file_key"`
	Depth   *int   `json:"depth"`
}

func (s *Service) getFile(ctx context.Context, raw json.RawMessage) *Result {
	var args getFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("Invalid arguments: %v", err)
	}
	if args.FileKey == "" {
		return errorResult("Invalid arguments: file_key is required")
	}

	body, err := s.api.GetFile(ctx, args.FileKey, depthOrDefault(args.Depth))
	if err != nil {
		return errorResult("Error fetching file: %v", err)
	}
	return textResult(indentRaw(body))
}

type getFileNodesArgs struct {
	FileKey string `json:"file_key"`
	NodeIDs string `json:"node_ids"`
	Depth   *int   `json:"depth"`
}

func (s *Service) getFileNodes(ctx context.Context, raw json.RawMessage) *Result {
	var args getFileNodesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("Invalid arguments: %v", err)
	}
	if args.FileKey == "" {
		return errorResult("Invalid arguments: file_key is required")
	}
	ids := splitNodeIDs(args.NodeIDs)
	if len(ids) == 0 {
		return errorResult("Invalid arguments: node_ids is required")
	}

	body, err := s.api.GetFileNodes(ctx, args.FileKey, ids, depthOrDefault(args.Depth))
	if err != nil {
		return errorResult("Error fetching file nodes: %v", err)
	}
	return textResult(indentRaw(body))
}

type exportImagesArgs struct {
	FileKey string   `json:"file_key"`
	NodeIDs string   `json:"node_ids"`
	Format  string   `json:"format"`
	Scale   *float64 `json:"scale"`
}

type exportedResource struct {
	NodeID   string `json:"node_id"`
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
}

func (s *Service) exportImages(ctx context.Context, raw json.RawMessage) *Result {
	var args exportImagesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("Invalid arguments: %v", err)
	}
	if args.FileKey == "" {
		return errorResult("Invalid arguments: file_key is required")
	}
	ids := splitNodeIDs(args.NodeIDs)
	if len(ids) == 0 {
		return errorResult("Invalid arguments: node_ids is required")
	}

	format := defaultFormat
	if args.Format != "" {
		f, err := imagecache.ParseFormat(args.Format)
		if err != nil {
			return errorResult("Invalid arguments: %v", err)
		}
		format = f
	}

	scale := defaultScale
	if args.Scale != nil {
		scale = *args.Scale
	}
	if scale < minScale || scale > maxScale {
		return errorResult("Invalid arguments: scale must be between %g and %g", minScale, maxScale)
	}

	res, err := s.api.ExportImages(ctx, &core.ExportRequest{
		FileKey: args.FileKey,
		NodeIDs: ids,
		Format:  string(format),
		Scale:   scale,
	})
	if err != nil {
		return errorResult("Error exporting images: %v", err)
	}

	nodeIDs := make([]string, 0, len(res.Images))
	for nodeID := range res.Images {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	registered := make([]exportedResource, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		key := imagecache.Key{FileKey: args.FileKey, NodeID: nodeID, Format: format}
		info := s.cache.Register(key, res.Images[nodeID], scale)
		registered = append(registered, exportedResource{
			NodeID:   nodeID,
			URI:      info.URI,
			MimeType: info.MimeType,
		})
	}

	return textResult(indentRaw(res.Raw), mustIndent(map[string]any{"resources": registered}))
}

func (s *Service) getMe(ctx context.Context, _ json.RawMessage) *Result {
	body, err := s.api.GetMe(ctx)
	if err != nil {
		return errorResult("Error fetching user info: %v", err)
	}
	return textResult(indentRaw(body))
}

func (s *Service) help(context.Context, json.RawMessage) *Result {
	return textResult(helpText)
}

func depthOrDefault(depth *int) int {
	if depth == nil || *depth < 1 {
		return defaultDepth
	}
	return *depth
}

// splitNodeIDs accepts both browser (1-2) and API (1:2) notation.
func splitNodeIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if normalized := figmaurl.NormalizeNodeID(part); normalized != "" {
			part = normalized
		}
		ids = append(ids, part)
	}
	return ids
}

func indentRaw(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func mustIndent(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("Serialization error: %v", err)
	}
	return string(out)
}
