// Package session drives one loaded core bound to one game image. The
// frame loop runs on a dedicated goroutine paced by audio drain; the
// frontend reads the shared framebuffer and writes the shared input
// state from its own thread.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sinono3/retroarcade/libretro"
	"github.com/Sinono3/retroarcade/romloader"
)

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateGameLoaded
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateGameLoaded:
		return "game-loaded"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// GameLoadError reports a core refusing a game image. The session stays
// Uninitialized and may retry with a different image.
type GameLoadError struct {
	Path string
	Err  error
}

func (e *GameLoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *GameLoadError) Unwrap() error { return e.Err }

// ErrWrongState is returned for operations invalid in the current
// lifecycle state.
var ErrWrongState = errors.New("operation invalid in current session state")

// ErrUnsupportedByCore is returned when the core reports zero-size
// serialized state.
var ErrUnsupportedByCore = errors.New("core does not support save states")

// Backend is the core surface a session drives. *libretro.Core
// implements it; tests substitute an instrumented fake.
type Backend interface {
	BindCallbacks(h libretro.Host)
	Retain()
	Release()
	LoadGame(path string, data []byte) error
	UnloadGame()
	Run()
	Reset()
	AVInfo() libretro.AVInfo
	SerializeSize() int
	Serialize() ([]byte, error)
	Unserialize(data []byte) error
	MemoryRegion(id int) []byte
	WriteMemoryRegion(id int, data []byte) error
	ShutdownRequested() bool
}

// Config carries session construction options.
type Config struct {
	// Volume in [0, 2]; applied before playback starts.
	Volume float64
	// Muted keeps the audio device draining (it paces the frame loop)
	// at zero volume.
	Muted bool
	// DisableAudio skips the audio device entirely. Pacing falls back
	// to wall-clock frame timing. Intended for tests and headless runs.
	DisableAudio bool
}

// Audio-driven pacing thresholds in buffered bytes. At 48kHz stereo
// 16-bit a 60fps frame is 3200 bytes.
const (
	pacingMinBuffer = 9600  // ~3 frames, speed up below this
	pacingMaxBuffer = 19200 // ~6 frames, slow down above this
)

// Session owns one core bound to one game image and its video, audio
// and input bridges. Create with New, destroy with exactly one Close.
type Session struct {
	core Backend
	cfg  Config

	stateMu     sync.Mutex
	state       State
	faultReason string

	// execMu serializes frame execution against capture/restore and
	// memory access. StepFrame holds it for exactly one frame.
	execMu  sync.Mutex
	inFrame atomic.Bool
	faulted atomic.Bool
	fault   atomic.Pointer[string]

	framebuffer *SharedFramebuffer
	input       *SharedInput
	audio       *AudioPlayer

	control *control
	// loopDone is created in New and closed exactly once when the frame
	// loop exits (or on Close if Run never started), so readers never
	// race a late assignment.
	loopDone    chan struct{}
	loopRunning atomic.Bool
	doneOnce    sync.Once
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.loopDone) })
}

// New binds a session to a core. The core's callback table points at
// this session until Close; the core is retained so it cannot be
// unloaded out from under us.
func New(core Backend, cfg Config) *Session {
	s := &Session{
		core:     core,
		cfg:      cfg,
		state:    StateUninitialized,
		input:    &SharedInput{},
		control:  newControl(),
		loopDone: make(chan struct{}),
	}
	core.Retain()
	core.BindCallbacks(s)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// FaultReason returns why the session stopped, or "" for a clean stop.
func (s *Session) FaultReason() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.faultReason
}

// LoadGame hands the image to the core and sizes the video and audio
// bridges from the core's reported geometry and timing.
func (s *Session) LoadGame(img *romloader.Image) error {
	s.stateMu.Lock()
	if s.state != StateUninitialized {
		s.stateMu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	s.stateMu.Unlock()

	if err := s.core.LoadGame(img.Path, img.Data); err != nil {
		return &GameLoadError{Path: img.Path, Err: err}
	}

	av := s.core.AVInfo()
	w, h := av.Geometry.MaxWidth, av.Geometry.MaxHeight
	if w <= 0 || h <= 0 {
		w, h = av.Geometry.BaseWidth, av.Geometry.BaseHeight
	}
	s.framebuffer = NewSharedFramebuffer(w, h)

	if !s.cfg.DisableAudio && av.Timing.SampleRate > 0 {
		volume := s.cfg.Volume
		if s.cfg.Muted {
			volume = 0
		}
		player, err := NewAudioPlayer(int(av.Timing.SampleRate), volume)
		if err != nil {
			// Pacing degrades to wall clock; the game still runs.
			s.audio = nil
		} else {
			s.audio = player
		}
	}

	s.stateMu.Lock()
	s.state = StateGameLoaded
	s.stateMu.Unlock()
	return nil
}

// StepFrame executes exactly one frame. Core callbacks fire
// synchronously on the calling goroutine before it returns. Holding the
// execution lock for the frame's duration keeps capture/restore and
// memory access out of the core while it runs.
func (s *Session) StepFrame() error {
	s.stateMu.Lock()
	switch s.state {
	case StateGameLoaded, StateRunning, StatePaused:
	default:
		s.stateMu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	s.stateMu.Unlock()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	if !s.inFrame.CompareAndSwap(false, true) {
		// Unreachable while execMu is honored; a second in-flight frame
		// means core-internal state is already suspect.
		return errors.New("frame already in flight")
	}
	defer s.inFrame.Store(false)

	s.core.Run()

	if r := s.fault.Load(); r != nil {
		s.stop(*r)
		return fmt.Errorf("core fault: %s", *r)
	}
	if s.core.ShutdownRequested() {
		s.stop("")
		return nil
	}
	return nil
}

// Run drives the frame loop until the context is cancelled, Stop is
// called, the core requests shutdown, or a fault occurs. Pacing follows
// the audio buffer level when a device is open, wall clock otherwise.
func (s *Session) Run(ctx context.Context) error {
	s.stateMu.Lock()
	switch s.state {
	case StateGameLoaded, StatePaused:
		s.state = StateRunning
		s.loopRunning.Store(true)
	default:
		st := s.state
		s.stateMu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	s.stateMu.Unlock()

	defer func() {
		s.stop(s.FaultReason())
		s.closeDone()
	}()

	fps := s.core.AVInfo().Timing.FPS
	if fps <= 0 {
		fps = 60
	}
	frameTime := time.Duration(float64(time.Second) / fps)
	lastFrame := time.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.control.CheckPause() {
			return nil
		}

		if err := s.StepFrame(); err != nil {
			return err
		}
		if s.State() == StateStopped {
			return nil
		}

		elapsed := time.Since(lastFrame)
		sleepTime := frameTime - elapsed
		if s.audio != nil {
			level := s.audio.BufferLevel()
			if level < pacingMinBuffer {
				sleepTime = time.Duration(float64(sleepTime) * 0.9)
			} else if level > pacingMaxBuffer {
				sleepTime = time.Duration(float64(sleepTime) * 1.1)
			}
		}
		if sleepTime > time.Millisecond {
			time.Sleep(sleepTime)
		}
		lastFrame = time.Now()
	}
}

// Pause halts the frame loop at the next frame boundary and returns
// once no frame is in flight.
func (s *Session) Pause() {
	s.stateMu.Lock()
	if s.state != StateRunning {
		s.stateMu.Unlock()
		return
	}
	s.state = StatePaused
	s.stateMu.Unlock()

	s.control.RequestPause()
}

// Resume continues a paused frame loop.
func (s *Session) Resume() {
	s.stateMu.Lock()
	if s.state != StatePaused {
		s.stateMu.Unlock()
		return
	}
	s.state = StateRunning
	s.stateMu.Unlock()

	s.control.RequestResume()
}

// Stop requests termination. Safe from any goroutine; takes effect at a
// frame boundary, never mid-callback.
func (s *Session) Stop() {
	s.stop("")
}

func (s *Session) stop(reason string) {
	s.control.Stop()

	s.stateMu.Lock()
	if s.state != StateStopped {
		s.state = StateStopped
		s.faultReason = reason
	}
	s.stateMu.Unlock()
}

// Done returns a channel closed when the frame loop exits. For a
// session whose loop never started it closes on Close.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// Reset soft-resets the loaded game between frames.
func (s *Session) Reset() {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.core.Reset()
	if s.audio != nil {
		s.audio.ClearQueue()
	}
}

// StateSize returns the core's currently reported serialized state
// size. Zero means unsupported; the size may vary per loaded game.
func (s *Session) StateSize() int {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.core.SerializeSize()
}

// CaptureState serializes the core's machine state. The blob is copied
// out before the core runs again, so it remains valid indefinitely.
func (s *Session) CaptureState() ([]byte, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	if s.core.SerializeSize() <= 0 {
		return nil, ErrUnsupportedByCore
	}
	return s.core.Serialize()
}

// RestoreState loads machine state captured earlier. Stale audio is
// flushed so playback resumes at the restored position.
func (s *Session) RestoreState(data []byte) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	if err := s.core.Unserialize(data); err != nil {
		return err
	}
	if s.audio != nil {
		s.audio.ClearQueue()
	}
	return nil
}

// ReadSaveRAM copies the core's battery-backed save RAM, or nil when
// the core exposes none.
func (s *Session) ReadSaveRAM() []byte {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.core.MemoryRegion(libretro.MemorySaveRAM)
}

// WriteSaveRAM loads battery-backed save RAM into the core.
func (s *Session) WriteSaveRAM(data []byte) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.core.WriteMemoryRegion(libretro.MemorySaveRAM, data)
}

// Input returns the shared input state the frontend writes to.
func (s *Session) Input() *SharedInput {
	return s.input
}

// Framebuffer returns the shared framebuffer, nil before a game loads.
func (s *Session) Framebuffer() *SharedFramebuffer {
	return s.framebuffer
}

// AudioLevel returns buffered audio bytes for metering, 0 without a
// device.
func (s *Session) AudioLevel() int {
	if s.audio == nil {
		return 0
	}
	return s.audio.BufferLevel()
}

// SetVolume adjusts playback volume.
func (s *Session) SetVolume(vol float64) {
	if s.audio != nil {
		s.audio.SetVolume(vol)
	}
}

// Close stops the loop, tears down the bridges, unloads the game and
// releases the core reference. After Close the core may be unloaded.
func (s *Session) Close() {
	s.stop(s.FaultReason())
	if s.loopRunning.Load() {
		<-s.loopDone
	}
	s.closeDone()

	if s.audio != nil {
		s.audio.Close()
		s.audio = nil
	}

	s.core.UnloadGame()
	s.core.BindCallbacks(nil)
	s.core.Release()
}

// Host bridge. These run synchronously on the goroutine currently
// inside StepFrame; the core is untrusted native code, so dimensions
// are validated and buffers clipped rather than trusted.

// VideoRefresh publishes one frame into the shared framebuffer.
func (s *Session) VideoRefresh(frame libretro.VideoFrame) {
	if s.framebuffer == nil {
		return
	}
	if !frame.Duplicate && (frame.Width <= 0 || frame.Height <= 0 || frame.Pitch < 0) {
		s.recordFault(fmt.Sprintf("invalid frame dimensions %dx%d pitch %d", frame.Width, frame.Height, frame.Pitch))
		return
	}
	s.framebuffer.Publish(frame)
}

// AudioBatch queues interleaved stereo samples, applying backpressure
// through the bounded ring buffer.
func (s *Session) AudioBatch(samples []int16) int {
	if s.audio == nil {
		return len(samples) / 2
	}
	return s.audio.QueueSamples(samples)
}

// InputPoll latches the input snapshot for this frame.
func (s *Session) InputPoll() {
	s.input.Latch()
}

// InputState answers a core input query.
func (s *Session) InputState(port, device, index, id uint) int16 {
	return s.input.State(port, device, index, id)
}

// recordFault marks the session for termination at the frame boundary.
// Callbacks never abort mid-frame; the core unwinds its own stack first.
func (s *Session) recordFault(reason string) {
	if s.faulted.CompareAndSwap(false, true) {
		s.fault.Store(&reason)
	}
}
