package imagecache

import (
	"fmt"
	"strings"
)

// URIScheme prefixes every resource URI handed out for cached exports.
const URIScheme = "figma://"

// Format is an export format accepted by the images endpoint.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
	FormatSVG Format = "svg"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts the format names used by callers, case-insensitively.
// "jpeg" is treated as "jpg".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	case "svg":
		return FormatSVG, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (valid: png, jpg, svg, pdf)", s)
	}
}

// MimeType returns the content type of exported bytes in this format.
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPG:
		return "image/jpeg"
	case FormatSVG:
		return "image/svg+xml"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Key identifies one cacheable export. Keys with equal fields address the same entry.
type Key struct {
	FileKey string
	NodeID  string
	Format  Format
}

// URI renders the key as figma://file/{file_key}/node/{node_id}.{format}.
func (k Key) URI() string {
	return fmt.Sprintf("%sfile/%s/node/%s.%s", URIScheme, k.FileKey, k.NodeID, k.Format)
}

func (k Key) String() string {
	return k.URI()
}

// ParseURI is the inverse of Key.URI.
func ParseURI(uri string) (Key, error) {
	rest, ok := strings.CutPrefix(uri, URIScheme+"file/")
	if !ok {
		return Key{}, fmt.Errorf("invalid resource uri %q: expected %sfile/ prefix", uri, URIScheme)
	}

	fileKey, nodePart, ok := strings.Cut(rest, "/node/")
	if !ok || fileKey == "" || strings.Contains(fileKey, "/") {
		return Key{}, fmt.Errorf("invalid resource uri %q: missing file key or node segment", uri)
	}

	dot := strings.LastIndex(nodePart, ".")
	if dot <= 0 || dot == len(nodePart)-1 {
		return Key{}, fmt.Errorf("invalid resource uri %q: missing node id or format", uri)
	}

	format, err := ParseFormat(nodePart[dot+1:])
	if err != nil {
		return Key{}, fmt.Errorf("invalid resource uri %q: %w", uri, err)
	}
	if string(format) != nodePart[dot+1:] {
		// Only canonical extensions round-trip.
		return Key{}, fmt.Errorf("invalid resource uri %q: non-canonical format %q", uri, nodePart[dot+1:])
	}

	return Key{
		FileKey: fileKey,
		NodeID:  nodePart[:dot],
		Format:  format,
	}, nil
}
