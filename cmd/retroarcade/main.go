// Command retroarcade maintains the game catalog and runs games
// through dynamically loaded emulation cores. The menu frontend is a
// separate collaborator; this binary exposes the scanning and session
// machinery directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/Sinono3/retroarcade/library"
	"github.com/Sinono3/retroarcade/libretro"
	"github.com/Sinono3/retroarcade/rdb"
	"github.com/Sinono3/retroarcade/romhash"
	"github.com/Sinono3/retroarcade/romloader"
	"github.com/Sinono3/retroarcade/savestate"
	"github.com/Sinono3/retroarcade/session"
	"github.com/Sinono3/retroarcade/storage"
)

func main() {
	log.SetFlags(log.Ltime)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := storage.EnsureDirectories(); err != nil {
		log.Fatalf("storage init: %v", err)
	}
	if err := storage.CreateConfigIfMissing(); err != nil {
		log.Fatalf("config init: %v", err)
	}
	cfg, err := storage.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "scan":
		err = runScan(ctx, cfg, os.Args[2:])
	case "run":
		err = runGame(ctx, cfg, os.Args[2:])
	case "list":
		err = runList()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: retroarcade <command> [flags]

commands:
  scan [-dir path]             rebuild the game catalog
  list                         print the catalog
  run [-core path] <image>     run a game image
`)
}

// openDatabase opens the metadata database. A missing or corrupt
// database is non-fatal: scanning continues with zero matches.
func openDatabase(cfg *storage.Config) *rdb.DB {
	path, err := storage.DatabasePath(cfg.Database)
	if err != nil {
		return nil
	}
	db, err := rdb.Open(path)
	if err != nil {
		log.Printf("database unavailable, catalog will be unmatched: %v", err)
		return nil
	}
	log.Printf("database: %d records", db.Len())
	return db
}

func runScan(ctx context.Context, cfg *storage.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	dir := fs.String("dir", cfg.RomsDir, "directory to scan")
	fs.Parse(args)

	if *dir == "" {
		return fmt.Errorf("no roms directory: pass -dir or set roms_dir in config")
	}

	catalog, err := storage.LoadCatalog()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	db := openDatabase(cfg)
	scanner := library.NewScanner(afero.NewOsFs(), library.NewMatcher(db))
	scanner.SetWorkers(cfg.Scan.Workers)

	start := time.Now()
	scan := scanner.Scan(ctx, *dir)
	found := 0
	for entry := range scan.Entries {
		found++
		catalog.Put(catalogEntry(entry))
		log.Printf("found %s (%s)", entry.DisplayName, entry.Fingerprint.Hex())
	}
	skipped := scan.Wait()
	for _, s := range skipped {
		log.Printf("skipped %s: %v", s.Path, s.Err)
	}

	if err := storage.SaveCatalog(catalog); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	log.Printf("scan done: %d found, %d skipped in %s", found, len(skipped), time.Since(start).Round(time.Millisecond))
	return ctx.Err()
}

func catalogEntry(e library.LibraryEntry) *storage.CatalogEntry {
	entry := &storage.CatalogEntry{
		Fingerprint: e.Fingerprint.Hex(),
		Path:        e.Path,
		Name:        e.Name,
		DisplayName: e.DisplayName,
		Region:      e.Region,
		Matched:     e.Matched(),
		Added:       time.Now().Unix(),
	}
	if !e.Matched() {
		entry.Color = fmt.Sprintf("#%02x%02x%02x", e.Color.R, e.Color.G, e.Color.B)
	}
	return entry
}

func runList() error {
	catalog, err := storage.LoadCatalog()
	if err != nil {
		return err
	}
	for _, e := range catalog.Sorted() {
		status := "unmatched"
		if e.Matched {
			status = e.Region
			if status == "" {
				status = "matched"
			}
		}
		fmt.Printf("%s  %-10s %s\n", e.Fingerprint, status, e.DisplayName)
	}
	return nil
}

func runGame(ctx context.Context, cfg *storage.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	corePath := fs.String("core", "", "core image to load (default: by extension from config)")
	resume := fs.Bool("resume", true, "restore the resume state if present")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("run: exactly one game image expected")
	}
	romPath := fs.Arg(0)

	core, err := loadCore(cfg, *corePath, romPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Unload(); err != nil {
			log.Printf("core unload: %v", err)
		}
	}()

	info := core.SystemInfo()
	log.Printf("core: %s %s", info.Name, info.Version)

	img, err := romloader.Load(romPath, info.Extensions)
	if err != nil {
		return fmt.Errorf("loading image: %w", err)
	}
	fp, err := romhash.Compute(img.Data, romhash.ForPath(img.Name))
	if err != nil {
		return fmt.Errorf("hashing image: %w", err)
	}

	sess := session.New(core, session.Config{
		Volume: cfg.Audio.Volume,
		Muted:  cfg.Audio.Muted,
	})
	defer sess.Close()

	if err := sess.LoadGame(img); err != nil {
		return err
	}
	av := core.AVInfo()
	log.Printf("game: %s, %dx%d @ %.2f fps", img.Name,
		av.Geometry.BaseWidth, av.Geometry.BaseHeight, av.Timing.FPS)

	savesDir, err := storage.SavesDir()
	if err != nil {
		return err
	}
	saves := savestate.NewManager(savesDir)
	saves.SetGame(info.Name, fp.Hex(), fp.CRC32)

	if err := saves.LoadSRAM(sess); err != nil {
		log.Printf("sram load: %v", err)
	}
	if *resume && saves.HasResumeState() {
		if err := saves.LoadResume(sess); err != nil {
			log.Printf("resume failed, starting fresh: %v", err)
		}
	}

	err = sess.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("session ended: %v", err)
	}
	if reason := sess.FaultReason(); reason != "" {
		log.Printf("core fault: %s", reason)
	}

	// Session is stopped; persist SRAM and the resume point.
	if err := saves.SaveSRAM(sess); err != nil {
		log.Printf("sram save: %v", err)
	}
	if sess.StateSize() > 0 {
		if err := saves.SaveResume(sess); err != nil {
			log.Printf("resume save: %v", err)
		}
	}
	return nil
}

// loadCore resolves which core image to load: an explicit -core path
// wins, otherwise the config maps the game's extension to a core file.
func loadCore(cfg *storage.Config, corePath, romPath string) (*libretro.Core, error) {
	if corePath == "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(romPath)), ".")
		name, ok := cfg.Cores[ext]
		if !ok {
			return nil, fmt.Errorf("no core configured for extension %q", ext)
		}
		coresDir, err := storage.CoresDir()
		if err != nil {
			return nil, err
		}
		corePath = filepath.Join(coresDir, name)
	}

	systemDir, err := storage.SystemDir()
	if err != nil {
		return nil, err
	}
	savesDir, err := storage.SavesDir()
	if err != nil {
		return nil, err
	}
	return libretro.Load(corePath,
		libretro.WithSystemDir(systemDir),
		libretro.WithSaveDir(savesDir),
	)
}
