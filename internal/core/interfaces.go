package core

import (
	"context"
	"encoding/json"
)

// DesignAPI is the subset of the remote design-file API the tools call.
// Responses are passed through as opaque JSON.
type DesignAPI interface {
	// GetFile returns the document tree of a file, truncated at depth when depth > 0.
	GetFile(ctx context.Context, fileKey string, depth int) (json.RawMessage, error)

	// GetFileNodes returns the subtrees rooted at nodeIDs.
	GetFileNodes(ctx context.Context, fileKey string, nodeIDs []string, depth int) (json.RawMessage, error)

	// ExportImages asks the API to render nodeIDs and returns short-lived download URLs.
	ExportImages(ctx context.Context, req *ExportRequest) (*ExportResult, error)

	// GetMe returns the user the token belongs to.
	GetMe(ctx context.Context) (json.RawMessage, error)
}
