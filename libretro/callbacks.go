package libretro

import (
	"log"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// C callbacks carry no user data, so routing back to a *Core goes
// through a package-level current-core slot. execMu makes entry into
// core code exclusive process-wide: while a core runs, its trampolines
// see exactly one active core. A kiosk runs one game at a time, so this
// serialization is not a bottleneck.
var (
	execMu sync.Mutex
	active *Core
)

// enter runs fn as the active core. Every call into core code funnels
// through here so trampolines can route.
func (c *Core) enter(fn func()) {
	execMu.Lock()
	active = c
	defer func() {
		active = nil
		execMu.Unlock()
	}()
	fn()
}

// Trampolines are process lifetime callbacks, created once; purego
// callbacks cannot be freed.
var (
	trampolineOnce sync.Once

	cbEnviron     uintptr
	cbVideo       uintptr
	cbAudioSample uintptr
	cbAudioBatch  uintptr
	cbInputPoll   uintptr
	cbInputState  uintptr
)

func makeTrampolines() {
	trampolineOnce.Do(func() {
		cbEnviron = purego.NewCallback(environCallback)
		cbVideo = purego.NewCallback(videoCallback)
		cbAudioSample = purego.NewCallback(audioSampleCallback)
		cbAudioBatch = purego.NewCallback(audioBatchCallback)
		cbInputPoll = purego.NewCallback(inputPollCallback)
		cbInputState = purego.NewCallback(inputStateCallback)
	})
}

func environTrampoline() uintptr     { makeTrampolines(); return cbEnviron }
func videoTrampoline() uintptr       { makeTrampolines(); return cbVideo }
func audioSampleTrampoline() uintptr { makeTrampolines(); return cbAudioSample }
func audioBatchTrampoline() uintptr  { makeTrampolines(); return cbAudioBatch }
func inputPollTrampoline() uintptr   { makeTrampolines(); return cbInputPoll }
func inputStateTrampoline() uintptr  { makeTrampolines(); return cbInputState }

// videoCallback receives one finished frame from the core. The pixel
// buffer belongs to the core and is only valid during this call, so the
// bytes are copied out before the host sees them. A NULL buffer means
// the frame is a duplicate of the previous one.
func videoCallback(data uintptr, width, height uint32, pitch uintptr) {
	c := active
	if c == nil {
		return
	}
	h := c.currentHost()
	if h == nil {
		return
	}

	frame := VideoFrame{
		Width:  int(width),
		Height: int(height),
		Pitch:  int(pitch),
		Format: c.pixelFormat,
	}
	if data != 0 && height > 0 && pitch > 0 {
		n := int(height) * int(pitch)
		frame.Data = make([]byte, n)
		copy(frame.Data, unsafe.Slice((*byte)(unsafe.Pointer(data)), n))
	} else {
		frame.Duplicate = true
	}
	h.VideoRefresh(frame)
}

// audioSampleCallback delivers a single stereo frame. Rare in practice;
// forwarded through the batch path for a single host interface.
func audioSampleCallback(left, right int16) {
	c := active
	if c == nil {
		return
	}
	if h := c.currentHost(); h != nil {
		h.AudioBatch([]int16{left, right})
	}
}

// audioBatchCallback delivers interleaved stereo samples. Returns the
// number of frames consumed.
func audioBatchCallback(data uintptr, frames uintptr) uintptr {
	c := active
	if c == nil || data == 0 || frames == 0 {
		return frames
	}
	h := c.currentHost()
	if h == nil {
		return frames
	}
	samples := unsafe.Slice((*int16)(unsafe.Pointer(data)), int(frames)*2)
	return uintptr(h.AudioBatch(samples))
}

func inputPollCallback() {
	c := active
	if c == nil {
		return
	}
	if h := c.currentHost(); h != nil {
		h.InputPoll()
	}
}

func inputStateCallback(port, device, index, id uint32) int16 {
	c := active
	if c == nil {
		return 0
	}
	h := c.currentHost()
	if h == nil {
		return 0
	}
	return h.InputState(uint(port), uint(device), uint(index), uint(id))
}

// environCallback is the negotiation channel cores use to query and
// configure the host. Unknown commands return false, which cores treat
// as "not supported".
func environCallback(cmd uint32, data unsafe.Pointer) uintptr {
	c := active
	if c == nil {
		return 0
	}
	if c.handleEnviron(cmd, data) {
		return 1
	}
	return 0
}

func (c *Core) handleEnviron(cmd uint32, data unsafe.Pointer) bool {
	switch cmd {
	case envGetOverscan:
		// Kiosk display crops overscan itself.
		*(*bool)(data) = false
		return true

	case envGetCanDupe:
		*(*bool)(data) = true
		return true

	case envSetMessage:
		msg := (*cMessage)(data)
		log.Printf("core message: %s (%d frames)", gostring(msg.msg), msg.frames)
		return true

	case envShutdown:
		c.shutdownReq.Store(true)
		return true

	case envSetPerformanceLevel:
		// Advisory only.
		return true

	case envGetSystemDirectory:
		if c.systemDir == nil {
			return false
		}
		*(**byte)(data) = cstringPtr(c.systemDir)
		return true

	case envGetSaveDirectory:
		if c.saveDir == nil {
			return false
		}
		*(**byte)(data) = cstringPtr(c.saveDir)
		return true

	case envSetPixelFormat:
		pf := PixelFormat(*(*uint32)(data))
		switch pf {
		case PixelFormat0RGB1555, PixelFormatXRGB8888, PixelFormatRGB565:
			c.pixelFormat = pf
			return true
		}
		return false

	case envSetInputDescriptors:
		// Fixed kiosk control layout; descriptors are accepted and
		// ignored.
		return true

	case envGetVariable:
		v := (*cVariable)(data)
		if v == nil || v.key == nil {
			return false
		}
		opt, ok := c.options[gostring(v.key)]
		if !ok {
			v.value = nil
			return false
		}
		v.value = cstringPtr(opt.cvalue)
		return true

	case envSetVariables:
		c.declareVariables((*cVariable)(data))
		return true

	case envGetVariableUpdate:
		*(*bool)(data) = c.optionsDirty
		c.optionsDirty = false
		return true

	case envSetSupportNoGame:
		c.supportsNoGame = *(*bool)(data)
		return true

	case envGetLogInterface:
		// Would require a variadic printf-style C callback, which the
		// host cannot provide; cores fall back to stderr.
		return false

	case envSetGeometry:
		g := (*cGameGeometry)(data)
		c.avInfo.Geometry.BaseWidth = int(g.baseWidth)
		c.avInfo.Geometry.BaseHeight = int(g.baseHeight)
		c.avInfo.Geometry.AspectRatio = float64(g.aspectRatio)
		return true

	case envGetUsername:
		return false

	case envGetLanguage:
		*(*uint32)(data) = 0 // English
		return true
	}
	return false
}

// declareVariables ingests the core's SET_VARIABLES array, a cVariable
// sequence terminated by a NULL key. Values follow the libretro
// convention "Label; default|alt1|alt2".
func (c *Core) declareVariables(first *cVariable) {
	if first == nil {
		return
	}
	c.options = make(map[string]*coreOption)
	c.optionOrder = c.optionOrder[:0]

	for v := first; v.key != nil; v = (*cVariable)(unsafe.Add(unsafe.Pointer(v), unsafe.Sizeof(cVariable{}))) {
		key := gostring(v.key)
		desc, values := parseVariableSpec(gostring(v.value))
		if len(values) == 0 {
			continue
		}
		opt := &coreOption{
			key:    key,
			desc:   desc,
			values: values,
			value:  values[0],
			cvalue: cstring(values[0]),
		}
		c.options[key] = opt
		c.optionOrder = append(c.optionOrder, key)
	}
	c.optionsDirty = true
}

// parseVariableSpec splits "Label; v1|v2|v3" into its label and value
// list. The first value is the default.
func parseVariableSpec(spec string) (string, []string) {
	desc, rest, ok := strings.Cut(spec, ";")
	if !ok {
		return "", nil
	}
	rest = strings.TrimLeft(rest, " ")
	if rest == "" {
		return desc, nil
	}
	return desc, strings.Split(rest, "|")
}
