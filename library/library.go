// Package library builds the browsable game catalog: it enumerates
// images on storage, fingerprints them, and resolves metadata against
// the game database. Entries without a database match are first-class
// catalog items, not errors.
package library

import (
	"image/color"
	"path/filepath"
	"strings"

	"github.com/Sinono3/retroarcade/rdb"
	"github.com/Sinono3/retroarcade/romhash"
	"github.com/Sinono3/retroarcade/romloader"
)

// LibraryEntry is one catalog item.
type LibraryEntry struct {
	// Path of the file on storage (the archive, for archived images).
	Path string
	// Name of the actual image file, inside the archive if any.
	Name string
	// Fingerprint of the canonicalized image content.
	Fingerprint romhash.Fingerprint
	// Game is the resolved metadata record, nil when unmatched.
	Game *rdb.Game

	DisplayName string
	Region      string
	// Color is the tile color shown for entries without artwork.
	Color color.RGBA
}

// Matched reports whether the entry resolved to a metadata record.
func (e *LibraryEntry) Matched() bool {
	return e.Game != nil
}

// Matcher resolves game images to metadata records. Matching is pure:
// the same image bytes always yield the same result, independent of
// filename or location.
type Matcher struct {
	db *rdb.DB
}

// NewMatcher creates a matcher over db. A nil db matches nothing, which
// keeps the catalog usable when the database failed to open.
func NewMatcher(db *rdb.DB) *Matcher {
	return &Matcher{db: db}
}

// Match fingerprints an image and looks it up. An image absent from the
// database comes back unmatched with filename-derived display fields.
func (m *Matcher) Match(img *romloader.Image) LibraryEntry {
	fp, err := romhash.Compute(img.Data, romhash.ForPath(img.Name))
	if err != nil {
		// The system hasher rejected the image structure (headerless
		// .nes dump, truncated trainer). Hash the raw bytes instead:
		// the database keys on canonical dumps so it will not match,
		// but the entry keeps a stable identity and tile color.
		fp, _ = romhash.Compute(img.Data, nil)
	}

	entry := LibraryEntry{
		Path:        img.Path,
		Name:        img.Name,
		Fingerprint: fp,
		Color:       entryColor(fp),
	}

	if m.db != nil {
		game, ok := m.db.Lookup(fp.CRC32)
		if !ok {
			game, ok = m.db.LookupMD5(fp.MD5Hex())
		}
		if ok {
			entry.Game = game
			entry.DisplayName = rdb.DisplayName(game.Name)
			entry.Region = rdb.RegionFromName(game.Name)
		}
	}

	if entry.DisplayName == "" {
		entry.DisplayName = cleanDisplayName(img.Name)
	}
	return entry
}

// cleanDisplayName strips the extension and parenthesized dump metadata
// from a filename.
func cleanDisplayName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	if idx := strings.Index(name, " ("); idx > 0 {
		name = strings.TrimSpace(name[:idx])
	}
	return name
}

// entryColor derives a stable tile color from the fingerprint, so an
// unmatched entry looks the same on every run and every machine. Hue
// comes from the digest; saturation and lightness are fixed to keep
// tiles readable.
func entryColor(fp romhash.Fingerprint) color.RGBA {
	hue := float64(uint16(fp.MD5[0])<<8|uint16(fp.MD5[1])) / 65536.0 * 360.0
	r, g, b := hslToRGB(hue, 0.55, 0.45)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - abs(2*l-1)) * s
	hp := h / 60.0
	x := c * (1 - abs(mod2(hp)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	m := l - c/2
	return uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func mod2(v float64) float64 {
	for v >= 2 {
		v -= 2
	}
	return v
}
