package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"figmamcp/internal/core"
	"figmamcp/internal/imagecache"
)

// Resource describes one exported image.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        *int   `json:"size,omitempty"`
}

// ResourceContents is a base64 blob read from the image cache.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Blob     string `json:"blob"`
}

// ListResources returns every registered export. It never downloads.
func (s *Service) ListResources() []Resource {
	infos := s.cache.List()
	resources := make([]Resource, 0, len(infos))
	for _, info := range infos {
		r := Resource{
			URI:  info.URI,
			Name: fmt.Sprintf("Node %s Export", info.NodeID),
			Description: fmt.Sprintf("Exported from Figma file %s as %s (%sx scale)",
				info.FileKey, info.Format, strconv.FormatFloat(info.Scale, 'f', -1, 64)),
			MimeType: info.MimeType,
		}
		if info.Materialized {
			size := info.Size
			r.Size = &size
		}
		resources = append(resources, r)
	}
	return resources
}

// ReadResource returns the bytes behind uri, downloading them on first read.
func (s *Service) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	data, key, err := s.ReadResourceBytes(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &ResourceContents{
		URI:      uri,
		MimeType: key.Format.MimeType(),
		Blob:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ReadResourceBytes is ReadResource without the base64 step. Errors are *core.ServiceError.
func (s *Service) ReadResourceBytes(ctx context.Context, uri string) ([]byte, imagecache.Key, error) {
	key, err := imagecache.ParseURI(uri)
	if err != nil {
		return nil, imagecache.Key{}, core.NewNotFoundError("Resource not found: "+uri, err)
	}

	data, err := s.cache.Read(ctx, key)
	switch {
	case err == nil:
		return data, key, nil
	case errors.Is(err, imagecache.ErrNotFound):
		return nil, key, core.NewNotFoundError("Resource not found: "+uri, err)
	case errors.Is(err, imagecache.ErrDownloadFailed):
		return nil, key, core.NewDownloadError(
			fmt.Sprintf("Failed to download image for %s; the export link may have expired, please re-export the image", uri), err)
	default:
		return nil, key, core.NewUpstreamError(0, "Failed to read resource: "+err.Error(), err)
	}
}

// ResourceDigest returns the content digest of a materialized resource, or "".
func (s *Service) ResourceDigest(key imagecache.Key) string {
	return s.cache.Digest(key)
}
