// Package server exposes the protocol dispatcher and exported resources over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"figmamcp/internal/auditlog"
	"figmamcp/internal/core"
	"figmamcp/internal/mcp"
	"figmamcp/internal/tools"
)

// SessionHeader carries the protocol session id between client and server.
const SessionHeader = "Mcp-Session-Id"

// Handler holds the HTTP handlers
type Handler struct {
	dispatcher  *mcp.Dispatcher
	service     *tools.Service
	healthCheck func(ctx context.Context) error
}

// NewHandler creates a new handler. healthCheck may be nil.
func NewHandler(dispatcher *mcp.Dispatcher, service *tools.Service, healthCheck func(ctx context.Context) error) *Handler {
	return &Handler{
		dispatcher:  dispatcher,
		service:     service,
		healthCheck: healthCheck,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	if h.healthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.healthCheck(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// MCP handles POST /mcp. One JSON-RPC message per request; notifications
// are acknowledged with 202 and no body.
func (h *Handler) MCP(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError("failed to read request body", err))
	}

	ctx := req.Context()
	sessionID := req.Header.Get(SessionHeader)
	if sessionID == "" && gjson.GetBytes(body, "method").String() == "initialize" {
		sessionID = uuid.NewString()
		if entry := auditlog.EntryFromContext(ctx); entry != nil && entry.Data != nil {
			entry.Data.SessionID = sessionID
		}
	}
	if sessionID != "" {
		c.Response().Header().Set(SessionHeader, sessionID)
		ctx = core.WithSessionID(ctx, sessionID)
	}

	resp := h.dispatcher.Handle(ctx, body)
	if resp == nil {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListResources handles GET /v1/resources
func (h *Handler) ListResources(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"resources": h.service.ListResources()})
}

// ResourceBlob handles GET /v1/resources/blob?uri=... and serves the raw
// image bytes, downloading them on first access.
func (h *Handler) ResourceBlob(c echo.Context) error {
	uri := c.QueryParam("uri")
	if uri == "" {
		return handleError(c, core.NewInvalidRequestError("uri query parameter is required", nil))
	}

	data, key, err := h.service.ReadResourceBytes(c.Request().Context(), uri)
	if entry := auditlog.EntryFromContext(c.Request().Context()); entry != nil {
		entry.FileKey = key.FileKey
	}
	if err != nil {
		return handleError(c, err)
	}

	if digest := h.service.ResourceDigest(key); digest != "" {
		etag := `"` + digest + `"`
		c.Response().Header().Set("ETag", etag)
		if c.Request().Header.Get("If-None-Match") == etag {
			return c.NoContent(http.StatusNotModified)
		}
	}
	c.Response().Header().Set("Cache-Control", "private, no-cache")
	return c.Blob(http.StatusOK, key.Format.MimeType(), data)
}

// handleError converts service errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var svcErr *core.ServiceError
	if errors.As(err, &svcErr) {
		auditlog.EnrichEntryWithError(c, string(svcErr.Type), svcErr.Message)
		return c.JSON(svcErr.HTTPStatusCode(), svcErr.ToJSON())
	}

	auditlog.EnrichEntryWithError(c, "internal_error", err.Error())
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
