package library

import (
	"bytes"
	"context"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"

	"github.com/Sinono3/retroarcade/rdb"
	"github.com/Sinono3/retroarcade/romhash"
	"github.com/Sinono3/retroarcade/romloader"
)

// Minimal RDB stream builders, enough to assemble a test database.

func buildTestRDB(records ...[]byte) []byte {
	data := append([]byte("RARCHDB"), make([]byte, 9)...)
	for _, r := range records {
		data = append(data, r...)
	}
	return append(data, 0xc0) // nil terminator
}

func record(fields ...[]byte) []byte {
	r := []byte{0x80 | byte(len(fields)/2)} // fixmap
	for _, f := range fields {
		r = append(r, f...)
	}
	return r
}

func fixstr(s string) []byte {
	return append([]byte{0xa0 | byte(len(s))}, s...)
}

func bin(b ...byte) []byte {
	return append([]byte{0xc4, byte(len(b))}, b...)
}

// testImage is a deterministic 32KB image.
func testImageData() []byte {
	data := make([]byte, 32*1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

// dbFor builds a database containing exactly the given image.
func dbFor(t *testing.T, data []byte, name string) *rdb.DB {
	t.Helper()
	crc := crc32.ChecksumIEEE(data)
	db, err := rdb.Parse(buildTestRDB(record(
		fixstr("name"), fixstr(name),
		fixstr("crc"), bin(byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc)),
	)))
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestMatchKnownImage(t *testing.T) {
	data := testImageData()
	db := dbFor(t, data, "Test Title (USA)")
	m := NewMatcher(db)

	entry := m.Match(&romloader.Image{Path: "/roms/x.bin", Name: "x.bin", Data: data})
	if !entry.Matched() {
		t.Fatal("known image should match")
	}
	if entry.Game.Name != "Test Title (USA)" {
		t.Errorf("name = %q", entry.Game.Name)
	}
	if entry.DisplayName != "Test Title" {
		t.Errorf("display name = %q", entry.DisplayName)
	}
	if entry.Region != "us" {
		t.Errorf("region = %q", entry.Region)
	}
}

func TestMatchMutatedImageIsUnmatched(t *testing.T) {
	data := testImageData()
	db := dbFor(t, data, "Test Title (USA)")
	m := NewMatcher(db)

	mutated := append([]byte(nil), data...)
	mutated[100] ^= 0x01

	entry := m.Match(&romloader.Image{Path: "/roms/x.bin", Name: "x.bin", Data: mutated})
	if entry.Matched() {
		t.Fatal("single-byte mutation must not match")
	}
	// Unmatched is a valid catalog state with usable display fields.
	if entry.DisplayName != "x" {
		t.Errorf("display name = %q", entry.DisplayName)
	}
	if entry.Color.A != 0xff {
		t.Error("unmatched entry should carry a tile color")
	}
}

func TestMatchIndependentOfFilename(t *testing.T) {
	data := testImageData()
	db := dbFor(t, data, "Test Title (USA)")
	m := NewMatcher(db)

	a := m.Match(&romloader.Image{Path: "/a/first.bin", Name: "first.bin", Data: data})
	b := m.Match(&romloader.Image{Path: "/b/renamed.bin", Name: "renamed.bin", Data: data})
	if a.Fingerprint != b.Fingerprint {
		t.Fatal("fingerprint must not depend on path or filename")
	}
	if !a.Matched() || !b.Matched() {
		t.Fatal("same dump should match under any name")
	}
}

func TestMatchWithNilDatabase(t *testing.T) {
	m := NewMatcher(nil)
	entry := m.Match(&romloader.Image{Name: "game.sfc", Data: []byte{1, 2, 3}})
	if entry.Matched() {
		t.Fatal("nil database matches nothing")
	}
	if entry.DisplayName != "game" {
		t.Errorf("display name = %q", entry.DisplayName)
	}
}

func TestMatchMalformedImageFallsBackToRawHash(t *testing.T) {
	m := NewMatcher(nil)
	// A .nes file without the iNES magic fails canonicalization; the
	// entry still gets a fingerprint over the raw bytes.
	data := []byte("not an iNES image at all, just bytes")

	entry := m.Match(&romloader.Image{Name: "broken.nes", Data: data})
	if entry.Matched() {
		t.Fatal("malformed image must not match")
	}

	want, err := romhash.Compute(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Fingerprint != want {
		t.Error("fingerprint should fall back to hashing raw bytes")
	}
	if entry.Color.A != 0xff {
		t.Error("fallback entry should still carry a tile color")
	}
}

func TestEntryColorDeterministic(t *testing.T) {
	m := NewMatcher(nil)
	data := testImageData()

	a := m.Match(&romloader.Image{Name: "a.bin", Data: data})
	b := m.Match(&romloader.Image{Name: "b.bin", Data: data})
	if a.Color != b.Color {
		t.Error("same content must yield the same tile color")
	}

	other := m.Match(&romloader.Image{Name: "c.bin", Data: []byte("different")})
	if other.Color == a.Color {
		t.Error("different content should yield a different tile color")
	}
}

// failFs makes selected files unreadable.
type failFs struct {
	afero.Fs
	deny map[string]bool
}

func (f *failFs) Open(name string) (afero.File, error) {
	if f.deny[filepath.Base(name)] {
		return nil, fs.ErrPermission
	}
	return f.Fs.Open(name)
}

func (f *failFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.deny[filepath.Base(name)] {
		return nil, fs.ErrPermission
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func scanTree(t *testing.T, fsys afero.Fs, db *rdb.DB) ([]LibraryEntry, []SkippedFile) {
	t.Helper()
	s := NewScanner(fsys, NewMatcher(db))
	s.SetWorkers(2)

	scan := s.Scan(context.Background(), "/roms")
	var entries []LibraryEntry
	for e := range scan.Entries {
		entries = append(entries, e)
	}
	return entries, scan.Wait()
}

func TestScanYieldsAllReadableFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	for _, p := range []string{
		"/roms/a.sfc",
		"/roms/sub/b.nes",
		"/roms/sub/deeper/c.bin",
		"/roms/bad1.sfc",
		"/roms/sub/bad2.nes",
	} {
		afero.WriteFile(mem, p, []byte(p), 0644)
	}
	fsys := &failFs{Fs: mem, deny: map[string]bool{"bad1.sfc": true, "bad2.nes": true}}

	entries, skipped := scanTree(t, fsys, nil)

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped files, got %d: %v", len(skipped), skipped)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	want := []string{"a.sfc", "b.nes", "c.bin"}
	for i, n := range names {
		if n != want[i] {
			t.Errorf("entry %d = %q, want %q", i, n, want[i])
		}
	}
}

func TestScanMatchesAgainstDatabase(t *testing.T) {
	data := testImageData()
	db := dbFor(t, data, "Test Title (USA)")

	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/roms/known.bin", data, 0644)
	afero.WriteFile(mem, "/roms/unknown.bin", []byte("nope"), 0644)

	entries, skipped := scanTree(t, mem, db)
	if len(skipped) != 0 {
		t.Fatalf("unexpected skips: %v", skipped)
	}

	byName := map[string]LibraryEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	known := byName["known.bin"]
	if !known.Matched() {
		t.Error("known image should match")
	}
	unknown := byName["unknown.bin"]
	if unknown.Matched() {
		t.Error("unknown image should be unmatched, not dropped")
	}
}

func TestScanIsRestartable(t *testing.T) {
	mem := afero.NewMemMapFs()
	afero.WriteFile(mem, "/roms/a.bin", []byte("a"), 0644)

	s := NewScanner(mem, NewMatcher(nil))
	for pass := 0; pass < 2; pass++ {
		scan := s.Scan(context.Background(), "/roms")
		n := 0
		for range scan.Entries {
			n++
		}
		scan.Wait()
		if n != 1 {
			t.Fatalf("pass %d: expected 1 entry, got %d", pass, n)
		}
	}
}

func TestScanCancellation(t *testing.T) {
	mem := afero.NewMemMapFs()
	for i := 0; i < 200; i++ {
		afero.WriteFile(mem, filepath.Join("/roms", string(rune('a'+i%26))+string(rune('0'+i/26))+".bin"), bytes.Repeat([]byte{1}, 10), 0644)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScanner(mem, NewMatcher(nil))
	scan := s.Scan(ctx, "/roms")

	// Take one entry, then abandon the pass.
	<-scan.Entries
	cancel()
	for range scan.Entries {
	}
	scan.Wait()
}

func TestScanMissingRoot(t *testing.T) {
	mem := afero.NewMemMapFs()
	scan := NewScanner(mem, NewMatcher(nil)).Scan(context.Background(), "/nowhere")
	for range scan.Entries {
		t.Fatal("no entries expected")
	}
	if skipped := scan.Wait(); len(skipped) != 1 {
		t.Fatalf("missing root should be reported, got %v", skipped)
	}
}

func TestArtworkCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewArtworkCache(dir, 4)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := cache.Get("deadbeef"); ok {
		t.Fatal("empty dir should have no artwork")
	}

	art := []byte("png-bytes")
	if err := cache.Store("deadbeef", art); err != nil {
		t.Fatal(err)
	}
	got, ok := cache.Get("deadbeef")
	if !ok || !bytes.Equal(got, art) {
		t.Fatalf("got %q, %v", got, ok)
	}

	// Negative entries are cached: deleting the file behind the cache's
	// back keeps serving until invalidated.
	os.Remove(cache.Path("deadbeef"))
	if _, ok := cache.Get("deadbeef"); !ok {
		t.Fatal("cache should still serve after file removal")
	}
	cache.Invalidate("deadbeef")
	if _, ok := cache.Get("deadbeef"); ok {
		t.Fatal("invalidated entry should miss")
	}
}

func TestArtworkCacheEviction(t *testing.T) {
	cache, err := NewArtworkCache(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	cache.Store("aa", []byte("a"))
	cache.Store("bb", []byte("b"))
	cache.Store("cc", []byte("c"))

	if cache.Len() != 2 {
		t.Fatalf("cache len = %d, want 2", cache.Len())
	}
	// Evicted entries reload from disk.
	if _, ok := cache.Get("aa"); !ok {
		t.Fatal("evicted entry should reload from disk")
	}
}
