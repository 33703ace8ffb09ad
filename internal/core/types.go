package core

import "encoding/json"

// ExportRequest describes one render call against the images endpoint.
type ExportRequest struct {
	FileKey string
	NodeIDs []string
	Format  string
	Scale   float64
}

// ExportResult is the reply of the images endpoint.
type ExportResult struct {
	// Raw is the unmodified response body.
	Raw json.RawMessage
	// Images maps node id to download URL. Nodes the API could not render are absent.
	Images map[string]string
}
