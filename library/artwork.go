package library

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ArtworkCache serves box art images from disk through a bounded LRU.
// Box art can run to hundreds of kilobytes per title; the menu scrolls
// over the whole catalog, so only the recently shown tiles stay in
// memory. Misses are cached too, so absent artwork costs one stat, not
// one per redraw.
type ArtworkCache struct {
	dir   string
	cache *lru.Cache[string, []byte]
}

// NewArtworkCache creates a cache over dir holding up to entries
// images. Artwork files are named by fingerprint: <crc32-hex>.png.
func NewArtworkCache(dir string, entries int) (*ArtworkCache, error) {
	c, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, fmt.Errorf("creating artwork cache: %w", err)
	}
	return &ArtworkCache{dir: dir, cache: c}, nil
}

// Path returns where artwork for a fingerprint lives on disk.
func (a *ArtworkCache) Path(fingerprint string) string {
	return filepath.Join(a.dir, fingerprint+".png")
}

// Get returns the raw artwork bytes for a fingerprint, or false when
// the title has none.
func (a *ArtworkCache) Get(fingerprint string) ([]byte, bool) {
	if data, ok := a.cache.Get(fingerprint); ok {
		return data, data != nil
	}

	data, err := os.ReadFile(a.Path(fingerprint))
	if err != nil {
		a.cache.Add(fingerprint, nil) // negative entry
		return nil, false
	}
	a.cache.Add(fingerprint, data)
	return data, true
}

// Store writes artwork to disk and refreshes the cache entry.
func (a *ArtworkCache) Store(fingerprint string, data []byte) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("creating artwork directory: %w", err)
	}
	if err := os.WriteFile(a.Path(fingerprint), data, 0644); err != nil {
		return fmt.Errorf("writing artwork: %w", err)
	}
	a.cache.Add(fingerprint, data)
	return nil
}

// Invalidate drops a cache entry, forcing the next Get to re-read disk.
func (a *ArtworkCache) Invalidate(fingerprint string) {
	a.cache.Remove(fingerprint)
}

// Len returns the number of cached entries, negative entries included.
func (a *ArtworkCache) Len() int {
	return a.cache.Len()
}
