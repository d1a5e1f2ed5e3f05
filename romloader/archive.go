package romloader

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
)

// extractZIP extracts the first matching file from a ZIP archive.
func extractZIP(path string, extensions []string) (*Image, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !matchesExt(f.Name, extensions) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		data, err := limitedRead(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		return &Image{Path: path, Name: filepath.Base(f.Name), Data: data}, nil
	}

	return nil, ErrNoROMFile
}

// extract7z extracts the first matching file from a 7z archive.
func extract7z(path string, extensions []string) (*Image, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !matchesExt(f.Name, extensions) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		data, err := limitedRead(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		return &Image{Path: path, Name: filepath.Base(f.Name), Data: data}, nil
	}

	return nil, ErrNoROMFile
}

// extractRAR extracts the first matching file from a RAR archive.
func extractRAR(path string, extensions []string) (*Image, error) {
	r, err := rardecode.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rar: %w", err)
	}
	defer r.Close()

	for {
		header, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rar entry: %w", err)
		}

		if header.IsDir || !matchesExt(header.Name, extensions) {
			continue
		}

		data, err := limitedRead(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		return &Image{Path: path, Name: filepath.Base(header.Name), Data: data}, nil
	}

	return nil, ErrNoROMFile
}

// extractGzip extracts from a gzip or tar.gz archive. A plain .gz is
// assumed to wrap the ROM directly.
func extractGzip(path string, extensions []string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gr.Close()

	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return extractTar(path, gr, extensions)
	}

	data, err := limitedRead(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip: %w", err)
	}

	name := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		name = name[:len(name)-3]
	}
	return &Image{Path: path, Name: name, Data: data}, nil
}

// extractTar extracts the first matching file from a tar stream.
func extractTar(path string, r io.Reader, extensions []string) (*Image, error) {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}

		if header.Typeflag != tar.TypeReg || !matchesExt(header.Name, extensions) {
			continue
		}

		data, err := limitedRead(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from tar: %w", header.Name, err)
		}
		return &Image{Path: path, Name: filepath.Base(header.Name), Data: data}, nil
	}

	return nil, ErrNoROMFile
}
