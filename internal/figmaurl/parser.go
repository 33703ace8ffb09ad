// Package figmaurl turns shared Figma links into file keys and node ids.
package figmaurl

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind tells which path form a file URL used.
type Kind string

const (
	// KindLegacy is the /file/<key> form.
	KindLegacy Kind = "legacy"
	// KindCurrent is the /design/<key> form.
	KindCurrent Kind = "current"
)

// ErrNotAFileURL is returned when the input does not match any known file-reference URL shape.
var ErrNotAFileURL = errors.New("not a figma file url")

// ParseError describes a rejected input.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", ErrNotAFileURL, e.Reason, e.Input)
}

// Unwrap lets callers match ErrNotAFileURL with errors.Is.
func (e *ParseError) Unwrap() error {
	return ErrNotAFileURL
}

// ParsedURL is the structured form of a file-reference URL.
type ParsedURL struct {
	FileKey     string `json:"file_key"`
	NodeID      string `json:"node_id,omitempty"`
	Kind        Kind   `json:"url_kind"`
	OriginalURL string `json:"original_url"`
}

// HasNode reports whether the URL pointed at a specific node.
func (p ParsedURL) HasNode() bool {
	return p.NodeID != ""
}

// pattern matches one path form and extracts the file key from it.
type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// patterns are evaluated in order; the first match wins.
var patterns = []pattern{
	{kind: KindLegacy, re: regexp.MustCompile(`^/file/([A-Za-z0-9]+)(?:/.*)?$`)},
	{kind: KindCurrent, re: regexp.MustCompile(`^/design/([A-Za-z0-9]+)(?:/.*)?$`)},
}

var allowedHosts = map[string]bool{
	"figma.com":     true,
	"www.figma.com": true,
}

const nodeIDParam = "node-id"

// nodeIDPattern accepts plain ("1:2") and instance ("I1:2;3:4") node ids.
var nodeIDPattern = regexp.MustCompile(`^I?\d+:\d+(?:;I?\d+:\d+)*$`)

// schemePrefix matches a leading "<scheme>://". A "://" later in the query does not count.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Parse decomposes raw into a ParsedURL. A URL without a scheme is treated as https.
func Parse(raw string) (ParsedURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedURL{}, &ParseError{Input: raw, Reason: "empty url"}
	}

	candidate := trimmed
	if !schemePrefix.MatchString(candidate) {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return ParsedURL{}, &ParseError{Input: raw, Reason: "malformed url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ParsedURL{}, &ParseError{Input: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	if !allowedHosts[strings.ToLower(u.Hostname())] {
		return ParsedURL{}, &ParseError{Input: raw, Reason: "host is not figma.com"}
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(u.EscapedPath())
		if m == nil {
			continue
		}
		return ParsedURL{
			FileKey:     m[1],
			NodeID:      extractNodeID(u.RawQuery),
			Kind:        p.kind,
			OriginalURL: raw,
		}, nil
	}

	return ParsedURL{}, &ParseError{Input: raw, Reason: "path is not a file or design link"}
}

// ExtractFileKey returns only the file key of raw.
func ExtractFileKey(raw string) (string, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return parsed.FileKey, nil
}

// NormalizeNodeID maps the dash notation used in browser URLs onto the
// colon notation the REST API expects. It returns "" for ids it cannot read.
func NormalizeNodeID(id string) string {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", ":")
	if !nodeIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// extractNodeID never fails: an unreadable node-id parameter is dropped.
func extractNodeID(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	for _, part := range strings.Split(rawQuery, "&") {
		name, value, _ := strings.Cut(part, "=")
		if name != nodeIDParam {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return ""
		}
		return NormalizeNodeID(decoded)
	}
	return ""
}
