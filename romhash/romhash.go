// Package romhash computes content fingerprints for game images.
//
// A fingerprint is a pure function of image bytes: the same dump always
// produces the same fingerprint regardless of filename, path or
// filesystem metadata, so database matches survive renames and platform
// moves. Some systems need a canonicalization pass first (copier headers,
// trainers) so that differently-dumped copies of the same cartridge hash
// identically; that is what the per-system hashers are for.
package romhash

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"strings"
)

// ErrInvalidImage is returned when an image fails a system hasher's
// structural checks (e.g. a .nes file without an iNES header).
var ErrInvalidImage = errors.New("invalid ROM image")

// Fingerprint identifies a game image by content.
type Fingerprint struct {
	CRC32 uint32
	MD5   [md5.Size]byte
	Size  uint64
}

// Hex returns the CRC32 as a lowercase 8-digit hex string, the form used
// for filesystem keys (save dirs, artwork paths).
func (f Fingerprint) Hex() string {
	return fmt.Sprintf("%08x", f.CRC32)
}

// MD5Hex returns the MD5 digest as a lowercase hex string.
func (f Fingerprint) MD5Hex() string {
	return fmt.Sprintf("%x", f.MD5)
}

// Hasher canonicalizes a system's image bytes before digesting. The
// returned slice aliases the input where possible; callers must not
// mutate it.
type Hasher interface {
	// Canonical strips container headers and returns the bytes to digest.
	Canonical(data []byte) ([]byte, error)
}

// Compute fingerprints data after canonicalizing it with h. A nil Hasher
// digests the raw bytes.
func Compute(data []byte, h Hasher) (Fingerprint, error) {
	if h != nil {
		var err error
		data, err = h.Canonical(data)
		if err != nil {
			return Fingerprint{}, err
		}
	}

	return Fingerprint{
		CRC32: crc32.ChecksumIEEE(data),
		MD5:   md5.Sum(data),
		Size:  uint64(len(data)),
	}, nil
}

// ForExtension returns the Hasher for a file extension (with or without
// the leading dot, case-insensitive), or nil when raw bytes are hashed.
func ForExtension(ext string) Hasher {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "sfc", "smc", "fig", "swc":
		return SNESHasher{}
	case "nes":
		return NESHasher{}
	}
	return nil
}

// ForPath returns the Hasher for a file path based on its extension.
func ForPath(path string) Hasher {
	return ForExtension(filepath.Ext(path))
}

// SNESHasher strips the 512-byte copier header some SNES dumps carry.
// A dump has one exactly when its size is 512 bytes past a 1KB multiple.
type SNESHasher struct{}

func (SNESHasher) Canonical(data []byte) ([]byte, error) {
	if len(data) > 512 && len(data)%1024 == 512 {
		return data[512:], nil
	}
	return data, nil
}

// inesMagic is the iNES container signature.
var inesMagic = []byte("NES\x1a")

// NESHasher strips the 16-byte iNES header and, when the header flags
// one, the 512-byte trainer, hashing only PRG+CHR data.
type NESHasher struct{}

func (NESHasher) Canonical(data []byte) ([]byte, error) {
	if len(data) < 16 || !bytes.HasPrefix(data, inesMagic[:3]) {
		return nil, fmt.Errorf("%w: missing iNES header", ErrInvalidImage)
	}

	offset := 16
	if data[6]&0x04 != 0 {
		offset += 512 // trainer present
	}
	if len(data) < offset {
		return nil, fmt.Errorf("%w: truncated iNES image", ErrInvalidImage)
	}
	return data[offset:], nil
}
