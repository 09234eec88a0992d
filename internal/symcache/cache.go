// Package symcache holds canopy's in-memory symbol index: an
// eventually-exact mirror of the store's (name -> locations) mapping, kept
// warm so an exact-symbol query resolves a name, case-insensitively, to its
// files and handle ids without a lookup of the store's name index.
package symcache

import (
	"strings"
	"sync"
)

// Location is one place a symbol name is defined.
type Location struct {
	FilePath string
	HandleID string
	NodeType string
}

// Cache is a bidirectional index: forward from name_lower to its locations,
// and reverse from file path to the lowercased names defined in it, so
// evicting a file's stale entries on reindex is O(k) in the number of names
// that file defined rather than a full table scan. Keys are case-folded so
// a lookup for "Authenticate" hits a definition stored as "authenticate".
// Mirrors the registry pattern the corpus uses for its own in-memory lookup
// tables, generalized to two maps instead of one.
type Cache struct {
	mu      sync.RWMutex
	forward map[string][]Location // name_lower -> locations
	reverse map[string][]string   // file path -> name_lower defined there
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		forward: make(map[string][]Location),
		reverse: make(map[string][]string),
	}
}

// ExactSymbol returns every known location for name, case-insensitively.
func (c *Cache) ExactSymbol(name string) []Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	locs := c.forward[strings.ToLower(name)]
	out := make([]Location, len(locs))
	copy(out, locs)
	return out
}

// ApplyBatch evicts every name previously recorded for the given file
// paths, then (re)adds the supplied locations. Called once per commit of
// an indexing batch, after the corresponding store.Batch.Commit succeeds,
// so the cache never observes a name the store hasn't durably persisted
// yet.
func (c *Cache) ApplyBatch(touchedFiles []string, removedFiles []string, add map[string][]Location) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, path := range touchedFiles {
		c.evictFileLocked(path)
	}
	for _, path := range removedFiles {
		c.evictFileLocked(path)
	}

	for name, locs := range add {
		nameLower := strings.ToLower(name)
		c.forward[nameLower] = append(c.forward[nameLower], locs...)
		for _, loc := range locs {
			c.reverse[loc.FilePath] = append(c.reverse[loc.FilePath], nameLower)
		}
	}
}

// evictFileLocked removes every location belonging to path from forward,
// and clears path's reverse entry. Caller must hold c.mu for writing.
func (c *Cache) evictFileLocked(path string) {
	names, ok := c.reverse[path]
	if !ok {
		return
	}
	for _, name := range names {
		locs := c.forward[name]
		kept := locs[:0]
		for _, loc := range locs {
			if loc.FilePath != path {
				kept = append(kept, loc)
			}
		}
		if len(kept) == 0 {
			delete(c.forward, name)
		} else {
			c.forward[name] = kept
		}
	}
	delete(c.reverse, path)
}

// Len returns the number of distinct symbol names currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.forward)
}
