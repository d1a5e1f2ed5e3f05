package storage

import (
	"errors"
	"os"
	"sort"
	"strings"
)

// CatalogEntry is one persisted game record, keyed by fingerprint so a
// renamed or moved file keeps its history.
type CatalogEntry struct {
	Fingerprint string `json:"fingerprint"` // crc32 hex
	Path        string `json:"path"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Region      string `json:"region,omitempty"`
	Color       string `json:"color,omitempty"` // tile color hex, unmatched entries
	Matched     bool   `json:"matched"`
	Missing     bool   `json:"missing,omitempty"`

	Added           int64 `json:"added"`
	LastPlayed      int64 `json:"last_played,omitempty"`
	PlayTimeSeconds int64 `json:"play_time_seconds,omitempty"`
}

// Catalog is the persisted game collection.
type Catalog struct {
	Version int                      `json:"version"`
	Games   map[string]*CatalogEntry `json:"games"`
}

const catalogVersion = 1

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{Version: catalogVersion, Games: map[string]*CatalogEntry{}}
}

// Get returns the entry for a fingerprint, or nil.
func (c *Catalog) Get(fingerprint string) *CatalogEntry {
	return c.Games[fingerprint]
}

// Put inserts or replaces an entry, preserving user history when the
// fingerprint is already known.
func (c *Catalog) Put(entry *CatalogEntry) {
	if old := c.Games[entry.Fingerprint]; old != nil {
		entry.Added = old.Added
		entry.LastPlayed = old.LastPlayed
		entry.PlayTimeSeconds = old.PlayTimeSeconds
	}
	c.Games[entry.Fingerprint] = entry
}

// Sorted returns the entries ordered by display name for a stable menu.
func (c *Catalog) Sorted() []*CatalogEntry {
	out := make([]*CatalogEntry, 0, len(c.Games))
	for _, e := range c.Games {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a := strings.ToLower(out[i].DisplayName)
		b := strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// LoadCatalog loads catalog.json. A missing file yields an empty
// catalog.
func LoadCatalog() (*Catalog, error) {
	path, err := CatalogPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return NewCatalog(), nil
	}

	catalog := NewCatalog()
	if err := ReadJSON(path, catalog); err != nil {
		return nil, err
	}
	if catalog.Games == nil {
		catalog.Games = map[string]*CatalogEntry{}
	}
	return catalog, nil
}

// SaveCatalog writes catalog.json atomically.
func SaveCatalog(catalog *Catalog) error {
	path, err := CatalogPath()
	if err != nil {
		return err
	}
	return AtomicWriteJSON(path, catalog)
}
