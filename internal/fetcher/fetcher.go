// Package fetcher downloads exported image bytes from the storage URLs returned by the images endpoint.
package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes int64 = 50 * 1024 * 1024

var (
	// ErrNotFound means the export URL no longer serves content, usually because it expired.
	ErrNotFound = errors.New("export url expired or not found")
	// ErrUnexpectedStatus covers every other non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected download status")
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("download exceeds size limit")
)

// StatusError carries the HTTP status of a failed download.
type StatusError struct {
	URL        string
	StatusCode int
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d from %s", e.kind, e.StatusCode, redact(e.URL))
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// HTTPFetcher performs plain GETs against pre-signed export URLs.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// New returns a fetcher using client. maxBytes <= 0 selects DefaultMaxBytes.
func New(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads url and returns the decoded body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading export: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusGone:
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, kind: ErrNotFound}
	default:
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, kind: ErrUnexpectedStatus}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	limited := io.LimitReader(body, f.maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading export body: %w", err)
	}
	if int64(len(raw)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	return raw, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return gz, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// redact drops the query string, which holds the signature of pre-signed URLs.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
