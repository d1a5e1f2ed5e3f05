package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Sinono3/retroarcade/romloader"
)

// defaultWorkers bounds concurrent hashing. Fingerprinting is CPU-bound
// on large images; a small pool keeps the menu responsive while a game
// runs.
const defaultWorkers = 4

// SkippedFile records one file the scan could not process.
type SkippedFile struct {
	Path string
	Err  error
}

// Scanner enumerates game images under a root directory. Every regular
// file is a candidate; extension policy belongs to the caller. A
// Scanner is reusable: each Scan call is an independent pass over the
// tree.
type Scanner struct {
	fs      afero.Fs
	matcher *Matcher
	workers int
}

// NewScanner creates a scanner reading through fsys. Production callers
// pass afero.NewOsFs(); tests pass an in-memory filesystem.
func NewScanner(fsys afero.Fs, matcher *Matcher) *Scanner {
	return &Scanner{
		fs:      fsys,
		matcher: matcher,
		workers: defaultWorkers,
	}
}

// SetWorkers overrides the hashing pool size.
func (s *Scanner) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// Scan is one in-flight pass over a directory tree.
type Scan struct {
	// Entries streams catalog items as they are matched, so a caller
	// can render partial results. Closed when the pass finishes.
	Entries <-chan LibraryEntry

	g *errgroup.Group

	mu      sync.Mutex
	skipped []SkippedFile
}

// Scan walks root and matches every regular file, streaming entries as
// they complete. Unreadable files are skipped and reported through
// Wait, never fatal. Cancel the context to abandon the pass.
func (s *Scanner) Scan(ctx context.Context, root string) *Scan {
	entries := make(chan LibraryEntry, 64)
	paths := make(chan string, 64)

	scan := &Scan{Entries: entries}
	g, ctx := errgroup.WithContext(ctx)
	scan.g = g

	g.Go(func() error {
		defer close(paths)
		return afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				scan.skip(path, err)
				if info != nil && info.IsDir() {
					return nil // walk continues past the subtree
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			select {
			case paths <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
	})

	var workers sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for path := range paths {
				img, err := s.load(path)
				if err != nil {
					scan.skip(path, err)
					continue
				}
				entry := s.matcher.Match(img)
				select {
				case entries <- entry:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		workers.Wait()
		close(entries)
	}()

	return scan
}

// load reads one candidate image. On the real filesystem archives are
// opened and their first inner file extracted; on virtual filesystems
// files are read as raw images.
func (s *Scanner) load(path string) (*romloader.Image, error) {
	if _, ok := s.fs.(*afero.OsFs); ok {
		return romloader.Load(path, nil)
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	return &romloader.Image{Path: path, Name: filepath.Base(path), Data: data}, nil
}

func (sc *Scan) skip(path string, err error) {
	sc.mu.Lock()
	sc.skipped = append(sc.skipped, SkippedFile{Path: path, Err: err})
	sc.mu.Unlock()
}

// Wait blocks until the pass finishes and returns the skipped files.
// The caller must drain Entries; Wait alone does not consume them.
func (sc *Scan) Wait() []SkippedFile {
	sc.g.Wait()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]SkippedFile, len(sc.skipped))
	copy(out, sc.skipped)
	return out
}
