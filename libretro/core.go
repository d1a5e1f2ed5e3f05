package libretro

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ErrCoreLoad is wrapped by Load failures: missing file, not a loadable
// image, missing entry points, or an ABI version mismatch. Fatal to that
// core only.
var ErrCoreLoad = errors.New("core load failed")

// ErrGameRejected is wrapped when a core refuses a game image. The core
// itself remains usable.
var ErrGameRejected = errors.New("core rejected game image")

// ErrCoreBusy is returned by Unload while sessions still reference the
// core.
var ErrCoreBusy = errors.New("core is referenced by an active session")

// ErrNoGame is returned for operations that need a loaded game.
var ErrNoGame = errors.New("no game loaded")

// runtimeMu is the one intentionally centralized lock in the system: it
// serializes dlopen/dlclose and game load/unload across all cores, since
// those touch process-wide loader state and core-static globals. Frame
// execution of already-loaded cores does not take it.
var runtimeMu sync.Mutex

// coreSymbols is the fixed entry-point surface resolved from a core.
type coreSymbols struct {
	init                    func()
	deinit                  func()
	apiVersion              func() uint32
	getSystemInfo           func(info *cSystemInfo)
	getSystemAVInfo         func(info *cAVInfo)
	setEnvironment          func(cb uintptr)
	setVideoRefresh         func(cb uintptr)
	setAudioSample          func(cb uintptr)
	setAudioSampleBatch     func(cb uintptr)
	setInputPoll            func(cb uintptr)
	setInputState           func(cb uintptr)
	setControllerPortDevice func(port, device uint32)
	reset                   func()
	run                     func()
	serializeSize           func() uintptr
	serialize               func(data unsafe.Pointer, size uintptr) bool
	unserialize             func(data unsafe.Pointer, size uintptr) bool
	loadGame                func(info *cGameInfo) bool
	unloadGame              func()
	getRegion               func() uint32
	getMemoryData           func(id uint32) uintptr
	getMemorySize           func(id uint32) uintptr
}

// requiredSymbols lists every entry point a valid core must export.
var requiredSymbols = []string{
	"retro_init",
	"retro_deinit",
	"retro_api_version",
	"retro_get_system_info",
	"retro_get_system_av_info",
	"retro_set_environment",
	"retro_set_video_refresh",
	"retro_set_audio_sample",
	"retro_set_audio_sample_batch",
	"retro_set_input_poll",
	"retro_set_input_state",
	"retro_set_controller_port_device",
	"retro_reset",
	"retro_run",
	"retro_serialize_size",
	"retro_serialize",
	"retro_unserialize",
	"retro_load_game",
	"retro_unload_game",
	"retro_get_region",
	"retro_get_memory_data",
	"retro_get_memory_size",
}

// Core owns one loaded core image. It is created by Load and destroyed
// by exactly one successful Unload.
type Core struct {
	path   string
	handle uintptr
	sym    coreSymbols
	info   SystemInfo

	// refs counts sessions holding this core. Unload is refused while
	// nonzero.
	refs atomic.Int32

	host atomic.Pointer[hostBox]

	// Game state, guarded by runtimeMu for load/unload and by the
	// session's execution discipline during frames.
	gameLoaded bool
	gameData   []byte
	gamePath   []byte
	pinner     runtime.Pinner
	avInfo     AVInfo

	// Environment negotiation state.
	pixelFormat    PixelFormat
	options        map[string]*coreOption
	optionOrder    []string
	optionsDirty   bool
	supportsNoGame bool
	shutdownReq    atomic.Bool

	// NUL-terminated directory strings the core may hold pointers into.
	systemDir []byte
	saveDir   []byte

	unloaded bool
}

// hostBox wraps a Host so an interface value can sit in an
// atomic.Pointer.
type hostBox struct{ h Host }

// coreOption is one capability/variable the core declared via
// SET_VARIABLES.
type coreOption struct {
	key    string
	desc   string
	values []string
	value  string
	cvalue []byte // NUL-terminated current value handed back to the core
}

// CoreExt returns the platform's shared-library extension for core
// images.
func CoreExt() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// Load dlopens a core image, resolves its entry points, verifies the ABI
// version and runs its init sequence. Loading is process-wide exclusive.
func Load(path string, opts ...Option) (*Core, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCoreLoad, path, err)
	}

	c := &Core{
		path:        path,
		handle:      handle,
		pixelFormat: PixelFormat0RGB1555, // ABI default
		options:     make(map[string]*coreOption),
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.resolveSymbols(); err != nil {
		purego.Dlclose(handle)
		return nil, err
	}

	if v := c.sym.apiVersion(); v != apiVersion {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("%w: %s: ABI version %d, want %d", ErrCoreLoad, path, v, apiVersion)
	}

	var raw cSystemInfo
	c.sym.getSystemInfo(&raw)
	c.info = SystemInfo{
		Name:         gostring(raw.libraryName),
		Version:      gostring(raw.libraryVersion),
		NeedFullpath: raw.needFullpath,
		BlockExtract: raw.blockExtract,
	}
	if exts := gostring(raw.validExtensions); exts != "" {
		c.info.Extensions = strings.Split(exts, "|")
	}

	// The environment callback must be registered before retro_init;
	// cores declare their variables during either call.
	c.enter(func() {
		c.sym.setEnvironment(environTrampoline())
		c.sym.setVideoRefresh(videoTrampoline())
		c.sym.setAudioSample(audioSampleTrampoline())
		c.sym.setAudioSampleBatch(audioBatchTrampoline())
		c.sym.setInputPoll(inputPollTrampoline())
		c.sym.setInputState(inputStateTrampoline())
		c.sym.init()
	})

	return c, nil
}

// Option configures a Core during Load.
type Option func(*Core)

// WithSystemDir sets the directory handed to cores asking for
// RETRO_ENVIRONMENT_GET_SYSTEM_DIRECTORY (BIOS and firmware files).
func WithSystemDir(dir string) Option {
	return func(c *Core) { c.systemDir = cstring(dir) }
}

// WithSaveDir sets the directory handed to cores asking for
// RETRO_ENVIRONMENT_GET_SAVE_DIRECTORY.
func WithSaveDir(dir string) Option {
	return func(c *Core) { c.saveDir = cstring(dir) }
}

// resolveSymbols checks and registers every required entry point.
func (c *Core) resolveSymbols() error {
	for _, name := range requiredSymbols {
		if _, err := purego.Dlsym(c.handle, name); err != nil {
			return fmt.Errorf("%w: %s: missing symbol %s", ErrCoreLoad, c.path, name)
		}
	}

	purego.RegisterLibFunc(&c.sym.init, c.handle, "retro_init")
	purego.RegisterLibFunc(&c.sym.deinit, c.handle, "retro_deinit")
	purego.RegisterLibFunc(&c.sym.apiVersion, c.handle, "retro_api_version")
	purego.RegisterLibFunc(&c.sym.getSystemInfo, c.handle, "retro_get_system_info")
	purego.RegisterLibFunc(&c.sym.getSystemAVInfo, c.handle, "retro_get_system_av_info")
	purego.RegisterLibFunc(&c.sym.setEnvironment, c.handle, "retro_set_environment")
	purego.RegisterLibFunc(&c.sym.setVideoRefresh, c.handle, "retro_set_video_refresh")
	purego.RegisterLibFunc(&c.sym.setAudioSample, c.handle, "retro_set_audio_sample")
	purego.RegisterLibFunc(&c.sym.setAudioSampleBatch, c.handle, "retro_set_audio_sample_batch")
	purego.RegisterLibFunc(&c.sym.setInputPoll, c.handle, "retro_set_input_poll")
	purego.RegisterLibFunc(&c.sym.setInputState, c.handle, "retro_set_input_state")
	purego.RegisterLibFunc(&c.sym.setControllerPortDevice, c.handle, "retro_set_controller_port_device")
	purego.RegisterLibFunc(&c.sym.reset, c.handle, "retro_reset")
	purego.RegisterLibFunc(&c.sym.run, c.handle, "retro_run")
	purego.RegisterLibFunc(&c.sym.serializeSize, c.handle, "retro_serialize_size")
	purego.RegisterLibFunc(&c.sym.serialize, c.handle, "retro_serialize")
	purego.RegisterLibFunc(&c.sym.unserialize, c.handle, "retro_unserialize")
	purego.RegisterLibFunc(&c.sym.loadGame, c.handle, "retro_load_game")
	purego.RegisterLibFunc(&c.sym.unloadGame, c.handle, "retro_unload_game")
	purego.RegisterLibFunc(&c.sym.getRegion, c.handle, "retro_get_region")
	purego.RegisterLibFunc(&c.sym.getMemoryData, c.handle, "retro_get_memory_data")
	purego.RegisterLibFunc(&c.sym.getMemorySize, c.handle, "retro_get_memory_size")

	return nil
}

// SystemInfo returns the core's static identity.
func (c *Core) SystemInfo() SystemInfo {
	return c.info
}

// Path returns the core image path it was loaded from.
func (c *Core) Path() string {
	return c.path
}

// BindCallbacks installs the host callback table. Must be called before
// any frame runs; rebinding replaces the prior table. The core side keeps
// only process-level trampolines, so nothing dangles when the host goes
// away after Unload.
func (c *Core) BindCallbacks(h Host) {
	if h == nil {
		c.host.Store(nil)
		return
	}
	c.host.Store(&hostBox{h: h})
}

// currentHost returns the bound Host, or nil.
func (c *Core) currentHost() Host {
	if b := c.host.Load(); b != nil {
		return b.h
	}
	return nil
}

// Retain marks the core as referenced by a session.
func (c *Core) Retain() {
	c.refs.Add(1)
}

// Release drops a session reference.
func (c *Core) Release() {
	c.refs.Add(-1)
}

// Refs returns the current session reference count.
func (c *Core) Refs() int {
	return int(c.refs.Load())
}

// LoadGame hands a game image to the core. The image bytes are pinned
// for as long as the game stays loaded, since cores may read them lazily
// across frames. Only one game may be loaded per core at a time.
func (c *Core) LoadGame(path string, data []byte) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if c.unloaded {
		return fmt.Errorf("%w: core already unloaded", ErrGameRejected)
	}
	if c.gameLoaded {
		return fmt.Errorf("%w: a game is already loaded", ErrGameRejected)
	}
	if len(data) == 0 && !c.info.NeedFullpath {
		return fmt.Errorf("%w: empty image", ErrGameRejected)
	}

	var info cGameInfo
	if path != "" {
		c.gamePath = cstring(path)
		info.path = cstringPtr(c.gamePath)
	}
	if !c.info.NeedFullpath {
		c.gameData = data
		c.pinner.Pin(&c.gameData[0])
		info.data = unsafe.Pointer(&c.gameData[0])
		info.size = uintptr(len(c.gameData))
	}

	var ok bool
	c.enter(func() {
		ok = c.sym.loadGame(&info)
	})
	if !ok {
		c.pinner.Unpin()
		c.gameData = nil
		c.gamePath = nil
		return fmt.Errorf("%w: %s", ErrGameRejected, path)
	}

	var av cAVInfo
	c.enter(func() {
		c.sym.getSystemAVInfo(&av)
	})
	c.avInfo = AVInfo{
		Geometry: Geometry{
			BaseWidth:   int(av.geometry.baseWidth),
			BaseHeight:  int(av.geometry.baseHeight),
			MaxWidth:    int(av.geometry.maxWidth),
			MaxHeight:   int(av.geometry.maxHeight),
			AspectRatio: float64(av.geometry.aspectRatio),
		},
		Timing: Timing{
			FPS:        av.timing.fps,
			SampleRate: av.timing.sampleRate,
		},
	}
	c.gameLoaded = true
	c.shutdownReq.Store(false)
	return nil
}

// UnloadGame tells the core to drop the current game and releases the
// pinned image bytes.
func (c *Core) UnloadGame() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !c.gameLoaded || c.unloaded {
		return
	}
	c.enter(func() {
		c.sym.unloadGame()
	})
	c.pinner.Unpin()
	c.gameData = nil
	c.gamePath = nil
	c.gameLoaded = false
}

// GameLoaded reports whether a game is currently loaded.
func (c *Core) GameLoaded() bool {
	return c.gameLoaded
}

// AVInfo returns geometry and timing for the loaded game. Valid after
// LoadGame; some cores revise it mid-session via SET_GEOMETRY.
func (c *Core) AVInfo() AVInfo {
	return c.avInfo
}

// Region returns RegionNTSC or RegionPAL for the loaded game.
func (c *Core) Region() int {
	var r uint32
	c.enter(func() {
		r = c.sym.getRegion()
	})
	return int(r)
}

// Run executes exactly one frame of the core. Callbacks fire
// synchronously on the calling goroutine before Run returns. Callers are
// responsible for never invoking Run concurrently for the same core; the
// session layer enforces that with its execution lock.
func (c *Core) Run() {
	c.enter(func() {
		c.sym.run()
	})
}

// Reset performs a soft reset of the loaded game.
func (c *Core) Reset() {
	c.enter(func() {
		c.sym.reset()
	})
}

// SetControllerPortDevice tells the core what device class occupies an
// input port.
func (c *Core) SetControllerPortDevice(port, device uint32) {
	c.enter(func() {
		c.sym.setControllerPortDevice(port, device)
	})
}

// SerializeSize returns the byte size of the core's save state for the
// loaded game. Zero means the core does not support save states. The
// size may legitimately change between frames.
func (c *Core) SerializeSize() int {
	var n uintptr
	c.enter(func() {
		n = c.sym.serializeSize()
	})
	return int(n)
}

// Serialize copies the core's current machine state into a fresh buffer.
func (c *Core) Serialize() ([]byte, error) {
	size := c.SerializeSize()
	if size <= 0 {
		return nil, fmt.Errorf("core reports zero serialize size")
	}

	buf := make([]byte, size)
	var ok bool
	c.enter(func() {
		ok = c.sym.serialize(unsafe.Pointer(&buf[0]), uintptr(size))
	})
	if !ok {
		return nil, fmt.Errorf("retro_serialize failed")
	}
	return buf, nil
}

// Unserialize restores machine state captured by Serialize. The buffer
// length must match the currently reported state size.
func (c *Core) Unserialize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty state buffer")
	}
	var ok bool
	c.enter(func() {
		ok = c.sym.unserialize(unsafe.Pointer(&data[0]), uintptr(len(data)))
	})
	if !ok {
		return fmt.Errorf("retro_unserialize failed")
	}
	return nil
}

// MemoryRegion returns a copy of one of the core's named memory regions
// (MemorySaveRAM etc.). Nil when the core exposes no such region.
func (c *Core) MemoryRegion(id int) []byte {
	var ptr, size uintptr
	c.enter(func() {
		ptr = c.sym.getMemoryData(uint32(id))
		size = c.sym.getMemorySize(uint32(id))
	})
	if ptr == 0 || size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out
}

// WriteMemoryRegion copies data into one of the core's named memory
// regions, truncating to the region's size.
func (c *Core) WriteMemoryRegion(id int, data []byte) error {
	var ptr, size uintptr
	c.enter(func() {
		ptr = c.sym.getMemoryData(uint32(id))
		size = c.sym.getMemorySize(uint32(id))
	})
	if ptr == 0 || size == 0 {
		return fmt.Errorf("core exposes no memory region %d", id)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	copy(dst, data)
	return nil
}

// Capability answers the negotiation channel for a named key. For keys
// the core declared as variables, the current value is returned.
// Queryable both before and after a game is loaded.
func (c *Core) Capability(key string) (string, bool) {
	switch key {
	case "pixel_format":
		return c.pixelFormat.String(), true
	case "support_no_game":
		if c.supportsNoGame {
			return "true", true
		}
		return "false", true
	}
	if opt, ok := c.options[key]; ok {
		return opt.value, true
	}
	return "", false
}

// Options lists the variable keys the core declared, in declaration
// order.
func (c *Core) Options() []string {
	out := make([]string, len(c.optionOrder))
	copy(out, c.optionOrder)
	return out
}

// OptionValues returns the allowed values for a declared variable.
func (c *Core) OptionValues(key string) []string {
	if opt, ok := c.options[key]; ok {
		out := make([]string, len(opt.values))
		copy(out, opt.values)
		return out
	}
	return nil
}

// SetOption changes a declared variable. The core observes the change at
// its next GET_VARIABLE_UPDATE poll.
func (c *Core) SetOption(key, value string) error {
	opt, ok := c.options[key]
	if !ok {
		return fmt.Errorf("unknown core option %q", key)
	}
	opt.value = value
	opt.cvalue = cstring(value)
	c.optionsDirty = true
	return nil
}

// PixelFormat returns the framebuffer format the core negotiated.
func (c *Core) PixelFormat() PixelFormat {
	return c.pixelFormat
}

// ShutdownRequested reports whether the core asked the host to stop via
// RETRO_ENVIRONMENT_SHUTDOWN. Cleared on the next game load.
func (c *Core) ShutdownRequested() bool {
	return c.shutdownReq.Load()
}

// Unload releases the core image. Refused while any session references
// the core, enforced here rather than trusted to callers. After a
// successful Unload the Core must not be used again.
func (c *Core) Unload() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if c.unloaded {
		return nil
	}
	if c.refs.Load() > 0 {
		return fmt.Errorf("%w: %d reference(s)", ErrCoreBusy, c.refs.Load())
	}

	if c.gameLoaded {
		c.enter(func() {
			c.sym.unloadGame()
		})
		c.pinner.Unpin()
		c.gameData = nil
		c.gamePath = nil
		c.gameLoaded = false
	}

	c.enter(func() {
		c.sym.deinit()
	})
	c.host.Store(nil)
	c.unloaded = true

	if c.handle != 0 {
		if err := purego.Dlclose(c.handle); err != nil {
			return fmt.Errorf("dlclose: %w", err)
		}
		c.handle = 0
	}
	return nil
}
