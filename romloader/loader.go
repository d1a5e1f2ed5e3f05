// Package romloader loads game images from disk, transparently
// extracting them from compressed archives (ZIP, 7z, gzip, tar.gz, RAR).
//
// The loaded Image is immutable: its bytes are read fully into memory
// once and never touched again, which is what makes fingerprinting and
// core game-loading safe to run on different goroutines.
package romloader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Image is a loaded game image: raw bytes plus provenance. Name is the
// basename of the file the bytes actually came from, which differs from
// Path's basename when the image was extracted from an archive.
type Image struct {
	Path string // file the image was loaded from
	Name string // basename of the inner ROM file
	Data []byte
}

// Magic bytes for archive detection
var (
	magicZIP    = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZIPEnd = []byte{0x50, 0x4B, 0x05, 0x06} // empty zip
	magic7z     = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicGzip   = []byte{0x1F, 0x8B}
	magicRAR    = []byte{0x52, 0x61, 0x72, 0x21} // "Rar!"
)

// Maximum image size (64MB safety limit; covers every cartridge system)
const maxImageSize = 64 * 1024 * 1024

// ErrNoROMFile is returned when an archive contains no file matching the
// accepted extensions.
var ErrNoROMFile = errors.New("no ROM file found in archive")

// ErrUnsupportedFormat is returned for unrecognized file formats.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrFileTooLarge is returned when content exceeds the size limit.
var ErrFileTooLarge = errors.New("file exceeds maximum size limit")

type format int

const (
	formatUnknown format = iota
	formatRaw
	formatZIP
	format7z
	formatGzip
	formatRAR
)

// Load reads a game image from path. Archives are detected by magic
// bytes (falling back to extension) and the first inner file matching one
// of the accepted extensions is extracted. An empty extensions list
// accepts any inner file, matching the catalog policy that every regular
// file is a candidate image.
func Load(path string, extensions []string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	header = header[:n]

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek file: %w", err)
	}

	switch detectFormat(header, path) {
	case formatZIP:
		return extractZIP(path, extensions)
	case format7z:
		return extract7z(path, extensions)
	case formatGzip:
		return extractGzip(path, extensions)
	case formatRAR:
		return extractRAR(path, extensions)
	default:
		// Raw image: the file itself is the ROM
		data, err := limitedRead(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read ROM: %w", err)
		}
		return &Image{Path: path, Name: filepath.Base(path), Data: data}, nil
	}
}

// detectFormat determines the container format from magic bytes, falling
// back to the file extension.
func detectFormat(header []byte, path string) format {
	if len(header) >= 4 {
		if bytes.HasPrefix(header, magicZIP) || bytes.HasPrefix(header, magicZIPEnd) {
			return formatZIP
		}
		if bytes.HasPrefix(header, magicRAR) {
			return formatRAR
		}
	}
	if len(header) >= 6 && bytes.HasPrefix(header, magic7z) {
		return format7z
	}
	if len(header) >= 2 && bytes.HasPrefix(header, magicGzip) {
		return formatGzip
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return formatZIP
	case ".7z":
		return format7z
	case ".gz", ".tgz":
		return formatGzip
	case ".rar":
		return formatRAR
	}

	return formatRaw
}

// IsArchive reports whether a path looks like a supported archive based
// on extension alone, without opening it.
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	switch filepath.Ext(lower) {
	case ".zip", ".7z", ".gz", ".tgz", ".rar":
		return true
	}
	return strings.HasSuffix(lower, ".tar.gz")
}

// matchesExt checks a filename against the accepted extensions
// (case-insensitive). An empty list accepts everything.
func matchesExt(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// limitedRead reads from r up to maxImageSize bytes, erroring if exceeded.
func limitedRead(r io.Reader) ([]byte, error) {
	lr := io.LimitReader(r, maxImageSize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
