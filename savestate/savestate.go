// Package savestate persists core machine state and battery-backed
// SRAM. States are framed with a core-identity header so a blob is
// never restored into the wrong core.
package savestate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const slotCount = 10

// ErrSizeMismatch is returned when a state blob's size does not match
// the core's currently reported state size. State size may vary per
// loaded game, not just per core.
var ErrSizeMismatch = errors.New("state size does not match core's reported size")

// ErrNoState is returned when the requested slot holds no state.
var ErrNoState = errors.New("no state in slot")

// Stater is the session surface the manager needs. Callers must hold
// the session paused or between frames; the manager never runs
// concurrently with frame execution by construction, since every method
// here goes through the session's execution lock.
type Stater interface {
	StateSize() int
	CaptureState() ([]byte, error)
	RestoreState(data []byte) error
	ReadSaveRAM() []byte
	WriteSaveRAM(data []byte) error
}

// Manager handles save state slots, the resume state, and SRAM for one
// game at a time.
type Manager struct {
	baseDir     string
	coreName    string
	fingerprint string
	crc32       uint32
	currentSlot int
}

// NewManager creates a manager rooted at baseDir. Each game's files
// live under a directory named by its fingerprint.
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// SetGame points the manager at a game. coreName is recorded in state
// headers; fingerprint names the on-disk directory.
func (m *Manager) SetGame(coreName, fingerprint string, crc uint32) {
	m.coreName = coreName
	m.fingerprint = fingerprint
	m.crc32 = crc
	m.currentSlot = 0
}

// CurrentSlot returns the active slot index.
func (m *Manager) CurrentSlot() int {
	return m.currentSlot
}

// SetSlot selects a slot directly.
func (m *Manager) SetSlot(slot int) {
	if slot < 0 || slot >= slotCount {
		return
	}
	m.currentSlot = slot
}

// NextSlot cycles forward through the slots.
func (m *Manager) NextSlot() int {
	m.currentSlot = (m.currentSlot + 1) % slotCount
	return m.currentSlot
}

// PreviousSlot cycles backward through the slots.
func (m *Manager) PreviousSlot() int {
	m.currentSlot--
	if m.currentSlot < 0 {
		m.currentSlot = slotCount - 1
	}
	return m.currentSlot
}

func (m *Manager) gameDir() (string, error) {
	if m.fingerprint == "" {
		return "", fmt.Errorf("no game set")
	}
	return filepath.Join(m.baseDir, m.fingerprint), nil
}

func (m *Manager) slotPath(slot int) (string, error) {
	dir, err := m.gameDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("state-%d.state", slot)), nil
}

// Capture serializes the session's state into a framed blob suitable
// for writing to disk. Fails when the core reports zero state size.
func (m *Manager) Capture(st Stater) ([]byte, error) {
	raw, err := st.CaptureState()
	if err != nil {
		return nil, err
	}
	return encodeState(m.coreName, m.crc32, raw)
}

// Restore decodes a framed blob and loads it into the session. The raw
// blob must match the core's currently reported state size.
func (m *Manager) Restore(st Stater, data []byte) error {
	raw, err := decodeState(data, m.coreName, m.crc32)
	if err != nil {
		return err
	}
	if size := st.StateSize(); len(raw) != size {
		return fmt.Errorf("%w: blob %d, core %d", ErrSizeMismatch, len(raw), size)
	}
	return st.RestoreState(raw)
}

// Save captures and writes the state to the current slot.
func (m *Manager) Save(st Stater) error {
	path, err := m.slotPath(m.currentSlot)
	if err != nil {
		return err
	}
	data, err := m.Capture(st)
	if err != nil {
		return fmt.Errorf("capturing state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// Load reads the current slot and restores it into the session.
func (m *Manager) Load(st Stater) error {
	path, err := m.slotPath(m.currentSlot)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w %d", ErrNoState, m.currentSlot)
		}
		return fmt.Errorf("reading state file: %w", err)
	}
	return m.Restore(st, data)
}

// SlotOccupied reports whether a slot holds a state on disk.
func (m *Manager) SlotOccupied(slot int) bool {
	path, err := m.slotPath(slot)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// SaveResume writes the automatic resume state.
func (m *Manager) SaveResume(st Stater) error {
	data, err := m.Capture(st)
	if err != nil {
		return fmt.Errorf("capturing resume state: %w", err)
	}
	return m.SaveResumeData(data)
}

// SaveResumeData writes pre-captured framed state as the resume state.
// Used by auto-save, where capture happens on the frame goroutine and
// the disk write elsewhere.
func (m *Manager) SaveResumeData(data []byte) error {
	dir, err := m.gameDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "resume.state"), data, 0644)
}

// LoadResume restores the resume state.
func (m *Manager) LoadResume(st Stater) error {
	dir, err := m.gameDir()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, "resume.state"))
	if err != nil {
		return err
	}
	return m.Restore(st, data)
}

// HasResumeState reports whether a resume state exists for the current
// game.
func (m *Manager) HasResumeState() bool {
	dir, err := m.gameDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, "resume.state"))
	return err == nil
}

// SaveSRAM writes battery-backed cartridge RAM. A core without SRAM is
// not an error.
func (m *Manager) SaveSRAM(st Stater) error {
	sram := st.ReadSaveRAM()
	if len(sram) == 0 {
		return nil
	}
	dir, err := m.gameDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "cart.srm"), sram, 0644)
}

// LoadSRAM loads cartridge RAM into the core. Missing SRAM files are
// fine; the game simply starts fresh.
func (m *Manager) LoadSRAM(st Stater) error {
	dir, err := m.gameDir()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "cart.srm"))
	if err != nil {
		return nil
	}
	return st.WriteSaveRAM(data)
}
