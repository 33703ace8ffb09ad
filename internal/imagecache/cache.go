// Package imagecache tracks exported images and downloads their bytes on first read.
//
// Export URLs handed out by the design API are short-lived, so the cache stores
// the URL at registration time and only materializes bytes when a caller reads
// the resource. Materialized bytes stay in memory for the life of the process
// unless a newer export of the same key replaces the entry.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads the bytes behind an export URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Hooks receives cache events. Implementations must be safe for concurrent use.
type Hooks interface {
	CacheHit(key Key)
	CacheMiss(key Key)
	Download(key Key, size int, err error)
	Entries(n int)
}

type noopHooks struct{}

func (noopHooks) CacheHit(Key)             {}
func (noopHooks) CacheMiss(Key)            {}
func (noopHooks) Download(Key, int, error) {}
func (noopHooks) Entries(int)              {}

// EntryInfo is a point-in-time copy of an entry's metadata.
type EntryInfo struct {
	Key            Key       `json:"-"`
	URI            string    `json:"uri"`
	FileKey        string    `json:"file_key"`
	NodeID         string    `json:"node_id"`
	Format         Format    `json:"format"`
	MimeType       string    `json:"mime_type"`
	Scale          float64   `json:"scale"`
	ExportURL      string    `json:"-"`
	RegisteredAt   time.Time `json:"registered_at"`
	Materialized   bool      `json:"materialized"`
	Size           int       `json:"size,omitempty"`
	Digest         string    `json:"digest,omitempty"`
	MaterializedAt time.Time `json:"materialized_at,omitzero"`
}

type entry struct {
	key          Key
	exportURL    string
	scale        float64
	registeredAt time.Time
	// generation changes on every Register so an in-flight download can tell
	// whether the entry it started from is still current.
	generation uint64

	data           []byte
	digest         uint64
	materializedAt time.Time
}

func (e *entry) info() EntryInfo {
	info := EntryInfo{
		Key:          e.key,
		URI:          e.key.URI(),
		FileKey:      e.key.FileKey,
		NodeID:       e.key.NodeID,
		Format:       e.key.Format,
		MimeType:     e.key.Format.MimeType(),
		Scale:        e.scale,
		ExportURL:    e.exportURL,
		RegisteredAt: e.registeredAt,
	}
	if e.data != nil {
		info.Materialized = true
		info.Size = len(e.data)
		info.Digest = strconv.FormatUint(e.digest, 16)
		info.MaterializedAt = e.materializedAt
	}
	return info
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	nextGen uint64

	fetcher Fetcher
	flights singleflight.Group
	hooks   Hooks
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithHooks installs event hooks, e.g. metrics.
func WithHooks(h Hooks) Option {
	return func(c *Cache) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache that downloads through fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]*entry),
		fetcher: fetcher,
		hooks:   noopHooks{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records a fresh export for key, replacing any previous entry and
// its bytes. It performs no I/O. A scale <= 0 is stored as 1.
func (c *Cache) Register(key Key, exportURL string, scale float64) EntryInfo {
	if scale <= 0 {
		scale = 1
	}

	c.mu.Lock()
	c.nextGen++
	e := &entry{
		key:          key,
		exportURL:    exportURL,
		scale:        scale,
		registeredAt: c.now(),
		generation:   c.nextGen,
	}
	_, replaced := c.entries[key]
	c.entries[key] = e
	n := len(c.entries)
	info := e.info()
	c.mu.Unlock()

	c.hooks.Entries(n)
	c.logger.Debug("registered export", "uri", info.URI, "replaced", replaced)
	return info
}

// Contains reports whether key has been registered. It never downloads.
func (c *Cache) Contains(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[key]
	return ok
}

// Lookup returns the metadata of key without downloading.
func (c *Cache) Lookup(key Key) (EntryInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return EntryInfo{}, false
	}
	return e.info(), true
}

// List returns a snapshot of all entries ordered by URI.
func (c *Cache) List() []EntryInfo {
	c.mu.RLock()
	infos := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, e.info())
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].URI < infos[j].URI
	})
	return infos
}

// Len returns the number of registered entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Read returns the bytes of key, downloading them on first use.
// The returned slice is shared with the cache and must not be modified.
//
// Unknown keys fail with ErrNotFound. Download failures return a *DownloadError
// and leave the entry untouched; callers re-export to obtain a fresh URL.
func (c *Cache) Read(ctx context.Context, key Key) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.URI())
	}
	data, exportURL, gen := e.data, e.exportURL, e.generation
	c.mu.RUnlock()

	if data != nil {
		c.hooks.CacheHit(key)
		return data, nil
	}
	c.hooks.CacheMiss(key)

	// The download is detached from ctx so one caller giving up does not fail
	// the others sharing the flight; each caller still stops waiting on its own ctx.
	flight := key.URI() + "#" + strconv.FormatUint(gen, 10)
	ch := c.flights.DoChan(flight, func() (any, error) {
		return c.download(context.WithoutCancel(ctx), key, exportURL, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// download runs without any lock held and commits under the write lock.
func (c *Cache) download(ctx context.Context, key Key, exportURL string, gen uint64) ([]byte, error) {
	// An earlier flight for this generation may have committed after the caller's check.
	if data, ok := c.committed(key, gen); ok {
		return data, nil
	}

	start := c.now()
	data, err := c.fetcher.Fetch(ctx, exportURL)
	if err == nil && data == nil {
		data = []byte{}
	}
	c.hooks.Download(key, len(data), err)
	if err != nil {
		c.logger.Warn("export download failed", "uri", key.URI(), "error", err)
		return nil, newDownloadError(key, err)
	}

	c.mu.Lock()
	cur, ok := c.entries[key]
	committed := ok && cur.generation == gen && cur.data == nil
	if committed {
		cur.data = data
		cur.digest = xxhash.Sum64(data)
		cur.materializedAt = c.now()
	}
	c.mu.Unlock()

	c.logger.Debug("export downloaded",
		"uri", key.URI(),
		"bytes", len(data),
		"duration", c.now().Sub(start),
		"committed", committed,
	)
	return data, nil
}

// committed returns the bytes of key if generation gen is already materialized.
func (c *Cache) committed(key Key, gen uint64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.generation != gen || e.data == nil {
		return nil, false
	}
	return e.data, true
}

// Digest returns the content digest of materialized bytes, or "" if key has not been read yet.
func (c *Cache) Digest(key Key) string {
	info, ok := c.Lookup(key)
	if !ok {
		return ""
	}
	return info.Digest
}

// ErrNotFound is returned for keys that were never registered.
var ErrNotFound = errors.New("image cache: resource not registered")

// ErrDownloadFailed matches every *DownloadError.
var ErrDownloadFailed = errors.New("image cache: download failed")

// DownloadError reports a failed materialization of an export URL.
type DownloadError struct {
	Key        Key
	StatusCode int
	Err        error
}

func newDownloadError(key Key, err error) *DownloadError {
	de := &DownloadError{Key: key, Err: err}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		de.StatusCode = sc.HTTPStatus()
	}
	return de
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: upstream status %d: %v", e.Key.URI(), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.Key.URI(), e.Err)
}

// Unwrap exposes both ErrDownloadFailed and the underlying cause.
func (e *DownloadError) Unwrap() []error {
	return []error{ErrDownloadFailed, e.Err}
}
