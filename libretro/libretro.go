// Package libretro hosts dynamically loaded libretro cores.
//
// A Core owns one dlopen'd core image and its resolved entry points. All
// raw pointer and callback-lifetime hazards of the C ABI live in this
// package: the rest of the system only ever sees owned Go slices and the
// Host callback interface. Callbacks are C-to-Go trampolines created once
// per process and routed to the core currently executing, so a core never
// holds a Go pointer that could go stale across an unload.
package libretro

import "unsafe"

// apiVersion is the libretro ABI version this host speaks.
const apiVersion = 1

// PixelFormat identifies the framebuffer encoding a core emits.
type PixelFormat int

// Pixel formats from the libretro ABI.
const (
	PixelFormat0RGB1555 PixelFormat = 0
	PixelFormatXRGB8888 PixelFormat = 1
	PixelFormatRGB565   PixelFormat = 2
)

// String returns the ABI name of the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormat0RGB1555:
		return "0RGB1555"
	case PixelFormatXRGB8888:
		return "XRGB8888"
	case PixelFormatRGB565:
		return "RGB565"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the packed pixel size for the format.
func (p PixelFormat) BytesPerPixel() int {
	if p == PixelFormatXRGB8888 {
		return 4
	}
	return 2
}

// Memory region IDs from the libretro ABI, used with MemoryRegion.
const (
	MemorySaveRAM   = 0 // battery-backed cartridge RAM
	MemoryRTC       = 1
	MemorySystemRAM = 2
	MemoryVideoRAM  = 3
)

// Input device classes.
const (
	DeviceNone     = 0
	DeviceJoypad   = 1
	DeviceMouse    = 2
	DeviceKeyboard = 3
	DeviceLightgun = 4
	DeviceAnalog   = 5
	DevicePointer  = 6
)

// Joypad button IDs.
const (
	JoypadB      = 0
	JoypadY      = 1
	JoypadSelect = 2
	JoypadStart  = 3
	JoypadUp     = 4
	JoypadDown   = 5
	JoypadLeft   = 6
	JoypadRight  = 7
	JoypadA      = 8
	JoypadX      = 9
	JoypadL      = 10
	JoypadR      = 11
	JoypadL2     = 12
	JoypadR2     = 13
	JoypadL3     = 14
	JoypadR3     = 15
)

// Video regions reported by retro_get_region.
const (
	RegionNTSC = 0
	RegionPAL  = 1
)

// Environment commands this host answers. Unknown commands are refused,
// which the ABI defines as safe.
const (
	envGetOverscan         = 2
	envGetCanDupe          = 3
	envSetMessage          = 6
	envShutdown            = 7
	envSetPerformanceLevel = 8
	envGetSystemDirectory  = 9
	envSetPixelFormat      = 10
	envSetInputDescriptors = 11
	envGetVariable         = 15
	envSetVariables        = 16
	envGetVariableUpdate   = 17
	envSetSupportNoGame    = 18
	envGetLogInterface     = 27
	envGetSaveDirectory    = 31
	envSetGeometry         = 37
	envGetUsername         = 38
	envGetLanguage         = 39
)

// SystemInfo is the static identity a core reports before any game is
// loaded.
type SystemInfo struct {
	Name         string
	Version      string
	Extensions   []string // valid image extensions, without dots
	NeedFullpath bool     // core reads the image from disk itself
	BlockExtract bool     // host must not pre-extract archives
}

// Geometry describes the core's video output dimensions.
type Geometry struct {
	BaseWidth   int
	BaseHeight  int
	MaxWidth    int
	MaxHeight   int
	AspectRatio float64
}

// Timing is the core's native pacing. The frame loop runs at FPS; audio
// is produced at SampleRate Hz.
type Timing struct {
	FPS        float64
	SampleRate float64
}

// AVInfo bundles geometry and timing as reported after a game loads.
type AVInfo struct {
	Geometry Geometry
	Timing   Timing
}

// VideoFrame is one frame emitted by the core during a Run call. Data is
// an owned copy of the core's buffer. Duplicate frames carry no Data and
// mean "repeat the previous frame".
type VideoFrame struct {
	Data      []byte
	Width     int
	Height    int
	Pitch     int
	Format    PixelFormat
	Duplicate bool
}

// Host is the callback table a session binds to a core. Every method is
// invoked synchronously on the goroutine currently inside Run for that
// core; implementations must copy any data they keep.
type Host interface {
	// VideoRefresh delivers a frame. Called zero or one times per Run.
	VideoRefresh(frame VideoFrame)

	// AudioBatch delivers interleaved stereo int16 samples. Called zero
	// or more times per Run. Returns the number of frames consumed.
	AudioBatch(samples []int16) int

	// InputPoll asks the host to latch its input snapshot.
	InputPoll()

	// InputState reports the state of one control.
	InputState(port, device, index, id uint) int16
}

// C ABI struct mirrors. Layouts match libretro.h on 64-bit platforms.

type cSystemInfo struct {
	libraryName     *byte
	libraryVersion  *byte
	validExtensions *byte
	needFullpath    bool
	blockExtract    bool
	_               [6]byte
}

type cGameGeometry struct {
	baseWidth   uint32
	baseHeight  uint32
	maxWidth    uint32
	maxHeight   uint32
	aspectRatio float32
	_           [4]byte
}

type cSystemTiming struct {
	fps        float64
	sampleRate float64
}

type cAVInfo struct {
	geometry cGameGeometry
	timing   cSystemTiming
}

type cGameInfo struct {
	path *byte
	data unsafe.Pointer
	size uintptr
	meta *byte
}

type cVariable struct {
	key   *byte
	value *byte
}

type cMessage struct {
	msg    *byte
	frames uint32
}

// cstring returns a NUL-terminated byte buffer for s. The returned slice
// must be kept reachable for as long as the core may read the pointer.
func cstring(s string) []byte {
	return append([]byte(s), 0)
}

// cstringPtr returns a pointer to the first byte of a cstring buffer.
func cstringPtr(b []byte) *byte {
	return &b[0]
}

// gostring copies a NUL-terminated C string into a Go string.
func gostring(p *byte) string {
	if p == nil {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
