package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"figmamcp/internal/core"
	"figmamcp/internal/imagecache"
	"figmamcp/internal/tools"
)

const instructions = "A Figma server that provides tools to access Figma files and export images. Use the 'help' tool for usage instructions."

// CallInfo summarizes a handled message for audit logging.
type CallInfo struct {
	Method    string
	Tool      string
	FileKey   string
	ErrorType string
	Duration  time.Duration
}

// Dispatcher routes JSON-RPC messages to the tool service. It is stateless
// apart from its dependencies and safe for concurrent use.
type Dispatcher struct {
	service    *tools.Service
	serverInfo Implementation
	logger     *slog.Logger
	onCall     func(ctx context.Context, info CallInfo)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithCallObserver is invoked once per handled message, notifications included.
func WithCallObserver(fn func(ctx context.Context, info CallInfo)) Option {
	return func(d *Dispatcher) {
		d.onCall = fn
	}
}

// NewDispatcher creates a dispatcher announcing itself as name/version.
func NewDispatcher(service *tools.Service, name, version string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		service:    service,
		serverInfo: Implementation{Name: name, Version: version},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		onCall:     func(context.Context, CallInfo) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decodes one raw message and returns the response to send back,
// or nil when the message was a notification.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) *Response {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return newError(nil, CodeInvalidRequest, "batch requests are not supported")
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return newError(nil, CodeParseError, "parse error: "+err.Error())
	}
	return d.HandleRequest(ctx, &req)
}

// HandleRequest dispatches an already decoded request.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return newError(req.ID, CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\" and method is required")
	}

	start := time.Now()
	info := CallInfo{Method: req.Method}
	resp := d.dispatch(ctx, req, &info)
	if resp != nil && resp.Error != nil && info.ErrorType == "" {
		info.ErrorType = "rpc_error"
	}
	info.Duration = time.Since(start)
	d.onCall(ctx, info)

	if req.IsNotification() {
		return nil
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, info *CallInfo) *Response {
	switch req.Method {
	case "initialize":
		return d.initialize(req)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return newResult(req.ID, struct{}{})
	case "tools/list":
		return newResult(req.ID, map[string]any{"tools": d.service.Definitions()})
	case "tools/call":
		return d.callTool(ctx, req, info)
	case "resources/list":
		return newResult(req.ID, map[string]any{"resources": d.service.ListResources()})
	case "resources/templates/list":
		return newResult(req.ID, map[string]any{"resourceTemplates": []resourceTemplate{{
			URITemplate: imagecache.URIScheme + "file/{file_key}/node/{node_id}.{format}",
			Name:        "Exported node image",
			Description: "Images registered by export_images",
		}}})
	case "resources/read":
		return d.readResource(ctx, req, info)
	default:
		return newError(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (d *Dispatcher) initialize(req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, CodeInvalidParams, "invalid initialize params: "+err.Error())
		}
	}
	d.logger.Info("client initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", params.ProtocolVersion,
	)

	return newResult(req.ID, initializeResult{
		ProtocolVersion: negotiateVersion(params.ProtocolVersion),
		Capabilities: capabilities{
			Tools:     &struct{}{},
			Resources: &struct{}{},
		},
		ServerInfo:   d.serverInfo,
		Instructions: instructions,
	})
}

var supportedVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// negotiateVersion echoes a supported client version and otherwise offers ours.
func negotiateVersion(requested string) string {
	if supportedVersions[requested] {
		return requested
	}
	return ProtocolVersion
}

func (d *Dispatcher) callTool(ctx context.Context, req *Request, info *CallInfo) *Response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return newError(req.ID, CodeInvalidParams, "tools/call requires a tool name")
	}
	info.Tool = params.Name
	info.FileKey = gjson.GetBytes(params.Arguments, "file_key").String()

	result, err := d.service.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return newError(req.ID, CodeInvalidParams, err.Error())
		}
		return newError(req.ID, CodeInternalError, err.Error())
	}
	if result.IsError {
		info.ErrorType = "tool_error"
	}
	return newResult(req.ID, result)
}

func (d *Dispatcher) readResource(ctx context.Context, req *Request, info *CallInfo) *Response {
	var params readResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return newError(req.ID, CodeInvalidParams, "resources/read requires a uri")
	}
	if key, err := imagecache.ParseURI(params.URI); err == nil {
		info.FileKey = key.FileKey
	}

	contents, err := d.service.ReadResource(ctx, params.URI)
	if err != nil {
		code := CodeInternalError
		var svcErr *core.ServiceError
		if errors.As(err, &svcErr) {
			info.ErrorType = string(svcErr.Type)
			if svcErr.Type == core.ErrorTypeNotFound {
				code = CodeResourceNotFound
			}
			return newError(req.ID, code, svcErr.Message)
		}
		return newError(req.ID, code, err.Error())
	}
	return newResult(req.ID, map[string]any{"contents": []*tools.ResourceContents{contents}})
}
