// Package rdb is a read-only query layer over RDB files, the binary
// database of game metadata used by RetroArch/libretro. A database is
// parsed once at startup and never mutated, so lookups are safe from
// any number of goroutines without locking.
//
// Parser adapted from github.com/libretro/ludo/rdb
// Original Copyright (c) libretro team
package rdb

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrUnavailable is returned by Open when the database file is missing or
// not a valid RDB file. Callers are expected to degrade to an all-unmatched
// catalog rather than treat this as fatal.
var ErrUnavailable = errors.New("metadata database unavailable")

// rdbMagic is the file header prefix of every RDB file.
var rdbMagic = []byte("RARCHDB")

// First record starts after the 16-byte file header.
const headerSize = 0x10

// Game is one metadata record. A single title may appear under several
// fingerprints (regional dumps); each record stands alone.
type Game struct {
	Name         string // Full No-Intro name (e.g. "Sonic the Hedgehog (USA, Europe)")
	Description  string
	Genre        string
	Developer    string
	Publisher    string
	Franchise    string
	ESRBRating   string
	ROMName      string // ROM filename as dumped
	ReleaseMonth uint
	ReleaseYear  uint
	Size         uint64
	CRC32        uint32
	Serial       string
	MD5          string // hex encoded
	SHA1         string // hex encoded
}

// DB holds every record of a parsed RDB file with lookup indexes.
// Immutable after construction.
type DB struct {
	games    []Game
	byCRC32  map[uint32]*Game
	byMD5    map[string]*Game
	bySerial map[string]*Game
}

// MessagePack format markers used by RDB files.
const (
	mpfFixMap   = 0x80
	mpfMap16    = 0xde
	mpfMap32    = 0xdf
	mpfFixArray = 0x90
	mpfFixStr   = 0xa0
	mpfStr8     = 0xd9
	mpfStr16    = 0xda
	mpfStr32    = 0xdb
	mpfBin8     = 0xc4
	mpfBin16    = 0xc5
	mpfBin32    = 0xc6
	mpfUint8    = 0xcc
	mpfUint16   = 0xcd
	mpfUint32   = 0xce
	mpfUint64   = 0xcf
	mpfNil      = 0xc0
)

// Open reads and parses an RDB file from disk. A missing file, short file
// or bad magic yields ErrUnavailable.
func Open(path string) (*DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Parse(data)
}

// Parse parses raw RDB file content.
func Parse(data []byte) (*DB, error) {
	if len(data) < headerSize || !bytes.HasPrefix(data, rdbMagic) {
		return nil, fmt.Errorf("%w: not an RDB file", ErrUnavailable)
	}

	db := &DB{games: parseGames(data)}
	db.byCRC32 = make(map[uint32]*Game, len(db.games))
	db.byMD5 = make(map[string]*Game, len(db.games))
	db.bySerial = make(map[string]*Game, len(db.games))

	for i := range db.games {
		g := &db.games[i]
		if g.CRC32 != 0 {
			db.byCRC32[g.CRC32] = g
		}
		if g.MD5 != "" {
			db.byMD5[g.MD5] = g
		}
		if g.Serial != "" {
			db.bySerial[g.Serial] = g
		}
	}

	return db, nil
}

// Lookup finds a record by CRC32 fingerprint. Pure and deterministic:
// repeated lookups of the same value return the identical record.
func (db *DB) Lookup(crc32 uint32) (*Game, bool) {
	g, ok := db.byCRC32[crc32]
	return g, ok
}

// LookupMD5 finds a record by its hex-encoded MD5 digest.
func (db *DB) LookupMD5(md5 string) (*Game, bool) {
	g, ok := db.byMD5[md5]
	return g, ok
}

// LookupSerial finds a record by cartridge/disc serial.
func (db *DB) LookupSerial(serial string) (*Game, bool) {
	g, ok := db.bySerial[serial]
	return g, ok
}

// Len returns the number of records in the database.
func (db *DB) Len() int {
	return len(db.games)
}

// DisplayName extracts a clean display name from a No-Intro name by
// dropping region/version information in parentheses.
func DisplayName(name string) string {
	if idx := strings.Index(name, " ("); idx > 0 {
		return strings.TrimSpace(name[:idx])
	}
	return name
}

// RegionFromName extracts region information from a No-Intro name.
// Returns "us", "eu", "jp", or "" if unknown.
func RegionFromName(name string) string {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "(usa"),
		strings.Contains(lower, "(us)"),
		strings.Contains(lower, ", usa)"):
		return "us"
	case strings.Contains(lower, "(europe"),
		strings.Contains(lower, "(eu)"),
		strings.Contains(lower, ", europe)"):
		return "eu"
	case strings.Contains(lower, "(japan"),
		strings.Contains(lower, "(jp)"),
		strings.Contains(lower, ", japan)"):
		return "jp"
	case strings.Contains(lower, "(world)"):
		// Multi-region dumps default to US
		return "us"
	}

	return ""
}

// parseGames decodes the MessagePack record stream following the header.
// The format is a flat sequence of maps; each map marker starts a new
// record and a nil marker terminates the stream.
func parseGames(data []byte) []Game {
	var out []Game

	pos := headerSize
	iskey := false
	key := ""
	g := Game{}

	flush := func() {
		if g.Name != "" || g.CRC32 != 0 {
			out = append(out, g)
		}
		g = Game{}
	}

	for pos < len(data) && int(data[pos]) != mpfNil {
		fieldtype := int(data[pos])
		var value []byte

		if fieldtype < mpfFixMap {
			// positive fixint, no payload
		} else if fieldtype < mpfFixArray {
			// fixmap marks a new record
			flush()
			pos++
			iskey = true
			continue
		} else if fieldtype < mpfNil {
			// fixstr
			length := int(data[pos]) - mpfFixStr
			pos++
			if pos+length > len(data) {
				break
			}
			value = data[pos : pos+length]
			pos += length
		}

		switch fieldtype {
		case mpfStr8, mpfStr16, mpfStr32:
			pos++
			lenlen := fieldtype - mpfStr8 + 1
			if pos+lenlen > len(data) {
				break
			}
			length := int(beUint(data[pos : pos+lenlen]))
			pos += lenlen
			if pos+length > len(data) {
				break
			}
			value = data[pos : pos+length]
			pos += length

		case mpfUint8, mpfUint16, mpfUint32, mpfUint64:
			pow := float64(data[pos]) - 0xC9
			length := int(math.Pow(2, pow)) / 8
			pos++
			if pos+length > len(data) {
				break
			}
			value = data[pos : pos+length]
			pos += length

		case mpfBin8, mpfBin16, mpfBin32:
			pos++
			if pos >= len(data) {
				break
			}
			length := int(data[pos])
			pos++
			if pos+length > len(data) {
				break
			}
			value = data[pos : pos+length]
			pos += length

		case mpfMap16, mpfMap32:
			// Same as fixmap but for records with 16+ fields
			flush()
			length := 2
			if int(data[pos]) == mpfMap32 {
				length = 4
			}
			pos++
			if pos+length > len(data) {
				break
			}
			pos += length
			iskey = true
			continue
		}

		if iskey {
			key = string(value)
		} else {
			setGameField(&g, key, value)
		}
		iskey = !iskey
	}

	flush()
	return out
}

// beUint decodes a big-endian unsigned integer of 1..8 bytes.
func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// setGameField assigns one key/value pair to the record being built.
// Numeric fields arrive as big-endian byte strings.
func setGameField(g *Game, key string, value []byte) {
	switch key {
	case "name":
		g.Name = string(value)
	case "description":
		g.Description = string(value)
	case "genre":
		g.Genre = string(value)
	case "developer":
		g.Developer = string(value)
	case "publisher":
		g.Publisher = string(value)
	case "franchise":
		g.Franchise = string(value)
	case "esrb_rating":
		g.ESRBRating = string(value)
	case "serial":
		g.Serial = string(value)
	case "rom_name":
		g.ROMName = string(value)
	case "size":
		g.Size = beUint(value)
	case "releasemonth":
		g.ReleaseMonth = uint(beUint(value))
	case "releaseyear":
		g.ReleaseYear = uint(beUint(value))
	case "crc":
		g.CRC32 = uint32(beUint(value))
	case "md5":
		// Stored as raw 16 bytes, kept as a hex string
		g.MD5 = fmt.Sprintf("%x", value)
	case "sha1":
		g.SHA1 = fmt.Sprintf("%x", value)
	}
}

// FormatReleaseDate renders month/year metadata as a display string,
// e.g. "June 1991" or "1991". Empty when the year is unknown.
func (g *Game) FormatReleaseDate() string {
	if g.ReleaseYear == 0 {
		return ""
	}
	if g.ReleaseMonth >= 1 && g.ReleaseMonth <= 12 {
		months := []string{"", "January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"}
		return fmt.Sprintf("%s %d", months[g.ReleaseMonth], g.ReleaseYear)
	}
	return strconv.FormatUint(uint64(g.ReleaseYear), 10)
}
