package runloop

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/arlowright/oddcrawl/pkg/fileutil"
)

// FailureEntry is one cached hard failure. Entries expire a configurable
// TTL after last_recorded_at and are pruned on save.
type FailureEntry struct {
	URL             string    `json:"url"`
	Status          *int      `json:"status,omitempty"`
	Reason          string    `json:"reason"`
	FirstRecordedAt time.Time `json:"first_recorded_at"`
	LastRecordedAt  time.Time `json:"last_recorded_at"`
	Count           int       `json:"count"`
}

// FailureCache remembers URLs that failed hard (default: 404) so the run
// loop and the seeder skip them without refetching. Persisted as a JSON
// list via atomic tmp+rename.
type FailureCache struct {
	mu sync.Mutex

	entries      map[string]*FailureEntry
	path         string
	skipStatuses map[int]struct{}
	expiry       time.Duration
	clock        func() time.Time
}

// NewFailureCache returns an empty cache persisting to path. clock
// defaults to time.Now when nil.
func NewFailureCache(path string, skipStatuses []int, expirySeconds float64, clock func() time.Time) *FailureCache {
	if clock == nil {
		clock = time.Now
	}
	statuses := make(map[int]struct{}, len(skipStatuses))
	for _, s := range skipStatuses {
		statuses[s] = struct{}{}
	}
	return &FailureCache{
		entries:      make(map[string]*FailureEntry),
		path:         path,
		skipStatuses: statuses,
		expiry:       time.Duration(expirySeconds * float64(time.Second)),
		clock:        clock,
	}
}

// LoadFailureCache restores a cache from path. A missing file yields an
// empty cache; a corrupt file is an error.
func LoadFailureCache(path string, skipStatuses []int, expirySeconds float64, clock func() time.Time) (*FailureCache, error) {
	cache := NewFailureCache(path, skipStatuses, expirySeconds, clock)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cache, nil
		}
		return nil, err
	}

	var entries []FailureEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entry := entries[i]
		cache.entries[entry.URL] = &entry
	}
	return cache, nil
}

// Record upserts the entry for url and returns the cache's total size.
func (c *FailureCache) Record(url string, status *int, reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	entry, ok := c.entries[url]
	if !ok {
		entry = &FailureEntry{URL: url, FirstRecordedAt: now}
		c.entries[url] = entry
	}
	entry.Status = status
	entry.Reason = reason
	entry.LastRecordedAt = now
	entry.Count++
	return len(c.entries)
}

// ShouldSkip reports whether url has a fresh entry with a configured
// skip status. Expired entries never cause a skip.
func (c *FailureCache) ShouldSkip(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return false
	}
	if entry.Status == nil {
		return false
	}
	if _, skip := c.skipStatuses[*entry.Status]; !skip {
		return false
	}
	return c.clock().Sub(entry.LastRecordedAt) < c.expiry
}

// Len reports the number of cached entries, expired or not.
func (c *FailureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save prunes expired entries and writes the remainder atomically.
func (c *FailureCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	entries := make([]FailureEntry, 0, len(c.entries))
	for url, entry := range c.entries {
		if now.Sub(entry.LastRecordedAt) >= c.expiry {
			delete(c.entries, url)
			continue
		}
		entries = append(entries, *entry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if writeErr := fileutil.WriteFileAtomic(c.path, data, 0o644); writeErr != nil {
		return writeErr
	}
	return nil
}
