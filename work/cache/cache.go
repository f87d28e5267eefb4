package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// DocumentCache holds fetched playlist and EPG documents keyed by source URL.
// It is bounded by a byte budget with weight-based eviction rather than entry
// count, since one XMLTV document can be orders of magnitude larger than a
// playlist. Constructed once per process and passed by reference; there is no
// module-level cache state.
type DocumentCache struct {
	docs *otter.Cache[string, []byte]
}

// New creates a DocumentCache with the given byte budget and entry TTL.
func New(maxBytes int64, ttl time.Duration) *DocumentCache {
	docs := otter.Must(&otter.Options[string, []byte]{
		MaximumWeight: uint64(maxBytes),
		Weigher: func(key string, value []byte) uint32 {
			return uint32(len(key) + len(value))
		},
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
	})

	return &DocumentCache{docs: docs}
}

// Get returns the cached document for a source URL, if present and fresh.
func (dc *DocumentCache) Get(url string) ([]byte, bool) {
	return dc.docs.GetIfPresent(url)
}

// Set stores a fetched document under its source URL.
func (dc *DocumentCache) Set(url string, body []byte) {
	dc.docs.Set(url, body)
}

// Invalidate drops one cached document, forcing the next refresh to re-fetch.
func (dc *DocumentCache) Invalidate(url string) {
	dc.docs.Invalidate(url)
}

// Clear empties the cache.
func (dc *DocumentCache) Clear() {
	dc.docs.InvalidateAll()
}
