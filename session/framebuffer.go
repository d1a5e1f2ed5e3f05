package session

import (
	"sync"

	"github.com/Sinono3/retroarcade/libretro"
)

// SharedFramebuffer holds converted RGBA pixels written by the frame
// goroutine and read by a display consumer. Separate write and read
// buffers let the producer overwrite freely while the consumer holds a
// snapshot; only the latest frame survives, older ones are dropped.
type SharedFramebuffer struct {
	mu          sync.Mutex
	writePixels []byte
	readPixels  []byte
	width       int
	height      int
	frames      uint64 // total frames ever published, including dupes
}

// NewSharedFramebuffer allocates both buffers for the given maximum
// dimensions, 4 bytes per pixel.
func NewSharedFramebuffer(maxWidth, maxHeight int) *SharedFramebuffer {
	size := maxWidth * maxHeight * 4
	return &SharedFramebuffer{
		writePixels: make([]byte, size),
		readPixels:  make([]byte, size),
	}
}

// Publish converts one core frame to RGBA and stores it as the current
// frame. Duplicate frames republish the previous pixels. Frames larger
// than the allocated buffers are clipped rather than trusted.
func (sf *SharedFramebuffer) Publish(frame libretro.VideoFrame) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.frames++
	if frame.Duplicate {
		return
	}

	w, h := frame.Width, frame.Height
	if max := len(sf.writePixels) / 4; w*h > max {
		if w > 0 {
			h = max / w
		} else {
			h = 0
		}
	}
	convertToRGBA(sf.writePixels, frame, w, h)
	sf.width = w
	sf.height = h
}

// Read copies the current frame into the read buffer and returns it with
// its dimensions. The returned slice stays valid until the next Read.
func (sf *SharedFramebuffer) Read() (pixels []byte, width, height int) {
	sf.mu.Lock()
	width = sf.width
	height = sf.height
	n := width * height * 4
	if n > 0 {
		copy(sf.readPixels[:n], sf.writePixels[:n])
	}
	pixels = sf.readPixels[:n]
	sf.mu.Unlock()
	return
}

// Frames returns the number of frames published so far.
func (sf *SharedFramebuffer) Frames() uint64 {
	sf.mu.Lock()
	n := sf.frames
	sf.mu.Unlock()
	return n
}

// convertToRGBA expands a core frame into tightly packed RGBA. Rows are
// walked by the frame's pitch; short source rows produce black pixels
// instead of reading out of bounds.
func convertToRGBA(dst []byte, frame libretro.VideoFrame, w, h int) {
	bpp := frame.Format.BytesPerPixel()
	for y := 0; y < h; y++ {
		row := y * frame.Pitch
		for x := 0; x < w; x++ {
			di := (y*w + x) * 4
			si := row + x*bpp
			if si+bpp > len(frame.Data) {
				dst[di], dst[di+1], dst[di+2], dst[di+3] = 0, 0, 0, 0xff
				continue
			}
			switch frame.Format {
			case libretro.PixelFormatXRGB8888:
				// Little-endian X8R8G8B8 in memory: B, G, R, X.
				dst[di] = frame.Data[si+2]
				dst[di+1] = frame.Data[si+1]
				dst[di+2] = frame.Data[si]
				dst[di+3] = 0xff
			case libretro.PixelFormatRGB565:
				p := uint16(frame.Data[si]) | uint16(frame.Data[si+1])<<8
				r := uint8(p >> 11)
				g := uint8(p >> 5 & 0x3f)
				b := uint8(p & 0x1f)
				dst[di] = r<<3 | r>>2
				dst[di+1] = g<<2 | g>>4
				dst[di+2] = b<<3 | b>>2
				dst[di+3] = 0xff
			default: // 0RGB1555
				p := uint16(frame.Data[si]) | uint16(frame.Data[si+1])<<8
				r := uint8(p >> 10 & 0x1f)
				g := uint8(p >> 5 & 0x1f)
				b := uint8(p & 0x1f)
				dst[di] = r<<3 | r>>2
				dst[di+1] = g<<3 | g>>2
				dst[di+2] = b<<3 | b>>2
				dst[di+3] = 0xff
			}
		}
	}
}
