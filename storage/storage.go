// Package storage owns the on-disk layout: the application data
// directory, JSON persistence helpers, and the session-independent
// catalog file.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

var appName = "retroarcade"

// Init overrides the data directory name. Call before any storage
// operation.
func Init(dataDirName string) {
	appName = dataDirName
}

const (
	configFile  = "config.json"
	catalogFile = "catalog.json"
	coresDir    = "cores"
	systemDir   = "system"
	savesDir    = "saves"
	artworkDir  = "artwork"
	databaseDir = "database"
)

// BaseDir returns the application data directory:
// - macOS: ~/Library/Application Support/<appName>
// - Windows: %APPDATA%/<appName>
// - elsewhere: $XDG_DATA_HOME/<appName> or ~/.local/share/<appName>
func BaseDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, appName), nil
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", appName), nil
	}
}

// EnsureDirectories creates the full data directory tree.
func EnsureDirectories() error {
	baseDir, err := BaseDir()
	if err != nil {
		return err
	}

	dirs := []string{
		baseDir,
		filepath.Join(baseDir, coresDir),
		filepath.Join(baseDir, systemDir),
		filepath.Join(baseDir, savesDir),
		filepath.Join(baseDir, artworkDir),
		filepath.Join(baseDir, databaseDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigPath returns the full path to config.json.
func ConfigPath() (string, error) {
	return subPath(configFile)
}

// CatalogPath returns the full path to catalog.json.
func CatalogPath() (string, error) {
	return subPath(catalogFile)
}

// CoresDir returns the directory core images are loaded from.
func CoresDir() (string, error) {
	return subPath(coresDir)
}

// SystemDir returns the directory handed to cores for BIOS/firmware.
func SystemDir() (string, error) {
	return subPath(systemDir)
}

// SavesDir returns the root directory for save states and SRAM.
func SavesDir() (string, error) {
	return subPath(savesDir)
}

// ArtworkDir returns the box art directory.
func ArtworkDir() (string, error) {
	return subPath(artworkDir)
}

// DatabasePath returns the path of a named database file.
func DatabasePath(name string) (string, error) {
	return subPath(filepath.Join(databaseDir, name))
}

func subPath(rel string) (string, error) {
	baseDir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, rel), nil
}

// AtomicWriteJSON writes data as indented JSON via a temp file and
// rename, so the target is never observed half-written.
func AtomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// ReadJSON reads and unmarshals a JSON file.
func ReadJSON(path string, data interface{}) error {
	jsonData, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonData, data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}
