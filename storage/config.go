package storage

import (
	"errors"
	"os"
)

// Config is the kiosk's persisted configuration.
type Config struct {
	// RomsDir is the directory the library scans.
	RomsDir string `json:"roms_dir"`
	// Cores maps lowercased image extensions (without dot) to core
	// image filenames under the cores directory, e.g. "sfc" ->
	// "snes9x_libretro.so".
	Cores map[string]string `json:"cores"`
	// Database is the metadata database filename under the database
	// directory.
	Database string `json:"database"`

	Audio AudioConfig `json:"audio"`
	Scan  ScanConfig  `json:"scan"`
}

// AudioConfig controls playback.
type AudioConfig struct {
	Volume float64 `json:"volume"` // 0..2
	Muted  bool    `json:"muted"`
}

// ScanConfig controls library scanning.
type ScanConfig struct {
	// Workers bounds concurrent image hashing.
	Workers int `json:"workers"`
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() *Config {
	return &Config{
		Cores:    map[string]string{},
		Database: "games.rdb",
		Audio:    AudioConfig{Volume: 1.0},
		Scan:     ScanConfig{Workers: 4},
	}
}

// normalize clamps out-of-range values instead of failing; a hand-edited
// config should degrade, not brick the kiosk.
func (c *Config) normalize() {
	if c.Cores == nil {
		c.Cores = map[string]string{}
	}
	if c.Database == "" {
		c.Database = "games.rdb"
	}
	if c.Audio.Volume < 0 {
		c.Audio.Volume = 0
	} else if c.Audio.Volume > 2 {
		c.Audio.Volume = 2
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 4
	}
}

// LoadConfig loads config.json. A missing file yields defaults; a
// corrupt file is an error so a typo never silently wipes settings.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	config := DefaultConfig()
	if err := ReadJSON(path, config); err != nil {
		return nil, err
	}
	config.normalize()
	return config, nil
}

// SaveConfig writes config.json atomically.
func SaveConfig(config *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return AtomicWriteJSON(path, config)
}

// CreateConfigIfMissing writes the default config on first run.
func CreateConfigIfMissing() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return SaveConfig(DefaultConfig())
	}
	return nil
}
