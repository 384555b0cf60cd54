// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "sync"

// maxETagEntries bounds the conditional-request cache. Steward's URLs
// are per-pull-request, so over the lifetime of a long-running service
// the set of distinct URLs grows without limit; a bound keeps the cache
// from holding every response body ever seen.
const maxETagEntries = 1024

// etagEntry holds a cached response for a URL.
type etagEntry struct {
	etag string
	body []byte
}

// etagCache stores ETag → response body mappings for conditional GET
// requests. When a GET response includes an ETag header, the response
// body is cached. On subsequent GETs to the same URL, the
// If-None-Match header is sent. If GitHub returns 304 Not Modified,
// the cached body is used instead of consuming rate limit quota.
//
// Eviction is arbitrary: when the cache is full, an unspecified entry
// is dropped to make room. A 304 for a dropped entry falls back to a
// full re-fetch, so eviction only costs quota, never correctness.
type etagCache struct {
	mu      sync.Mutex
	entries map[string]etagEntry
}

func newETagCache() *etagCache {
	return &etagCache{entries: make(map[string]etagEntry)}
}

// get returns the cached ETag for a URL, or empty string if not cached.
func (cache *etagCache) get(url string) string {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	entry, ok := cache.entries[url]
	if !ok {
		return ""
	}
	return entry.etag
}

// body returns the cached response body for a URL, or nil if not cached.
func (cache *etagCache) body(url string) []byte {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	entry, ok := cache.entries[url]
	if !ok {
		return nil
	}
	return entry.body
}

// put stores an ETag and response body for a URL, evicting an arbitrary
// entry if the cache is full.
func (cache *etagCache) put(url string, etag string, body []byte) {
	if etag == "" {
		return
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()

	if _, exists := cache.entries[url]; !exists && len(cache.entries) >= maxETagEntries {
		for victim := range cache.entries {
			delete(cache.entries, victim)
			break
		}
	}
	cache.entries[url] = etagEntry{etag: etag, body: body}
}
