package session

import (
	"io"
	"sync"
	"time"
)

// AudioRingBuffer is a bounded byte ring between the frame goroutine
// (producer) and the audio device (consumer, pull model via Read).
//
// A full buffer exerts backpressure: Write blocks until the consumer
// drains space or the wait deadline passes, at which point the remainder
// is dropped and counted. An empty buffer never starves the device:
// Read fills the shortfall with silence so playback continues seamlessly
// through underruns.
type AudioRingBuffer struct {
	mu      sync.Mutex
	notFull *sync.Cond

	buf      []byte
	readPos  int
	writePos int
	count    int
	closed   bool

	writeWait time.Duration
	overruns  uint64
	underruns uint64
}

// defaultWriteWait bounds how long a producer blocks on a full buffer
// before dropping. Two frames at 60fps.
const defaultWriteWait = 33 * time.Millisecond

// NewAudioRingBuffer creates a ring holding capacity bytes.
func NewAudioRingBuffer(capacity int) *AudioRingBuffer {
	rb := &AudioRingBuffer{
		buf:       make([]byte, capacity),
		writeWait: defaultWriteWait,
	}
	rb.notFull = sync.NewCond(&rb.mu)
	return rb
}

// Write stores data in the ring, blocking while full up to the write
// deadline. Returns the number of bytes stored; dropped bytes are
// counted as an overrun. Writes to a closed ring are discarded.
func (rb *AudioRingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	deadline := time.Now().Add(rb.writeWait)
	written := 0
	for len(data) > 0 {
		if rb.closed {
			return written
		}
		space := len(rb.buf) - rb.count
		if space == 0 {
			if time.Now().After(deadline) {
				rb.overruns++
				return written
			}
			// Wake the writer soon; a waiting reader consumes on its own
			// schedule.
			timer := time.AfterFunc(time.Millisecond, rb.notFull.Signal)
			rb.notFull.Wait()
			timer.Stop()
			continue
		}

		n := len(data)
		if n > space {
			n = space
		}
		for i := 0; i < n; i++ {
			rb.buf[rb.writePos] = data[i]
			rb.writePos = (rb.writePos + 1) % len(rb.buf)
		}
		rb.count += n
		data = data[n:]
		written += n
	}
	return written
}

// Read implements io.Reader for the audio device. While the ring is
// open it always fills p completely, padding any shortfall with silence.
// After Close it drains the remainder and then returns io.EOF.
func (rb *AudioRingBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed && rb.count == 0 {
		return 0, io.EOF
	}

	n := rb.count
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = rb.buf[rb.readPos]
		rb.readPos = (rb.readPos + 1) % len(rb.buf)
	}
	rb.count -= n
	if n > 0 {
		rb.notFull.Signal()
	}

	if rb.closed {
		return n, nil
	}
	if n < len(p) {
		rb.underruns++
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		n = len(p)
	}
	return n, nil
}

// Buffered returns the number of bytes currently stored.
func (rb *AudioRingBuffer) Buffered() int {
	rb.mu.Lock()
	n := rb.count
	rb.mu.Unlock()
	return n
}

// Clear discards all buffered audio.
func (rb *AudioRingBuffer) Clear() {
	rb.mu.Lock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
	rb.notFull.Broadcast()
	rb.mu.Unlock()
}

// Stats reports how many overrun and underrun events occurred.
func (rb *AudioRingBuffer) Stats() (overruns, underruns uint64) {
	rb.mu.Lock()
	overruns, underruns = rb.overruns, rb.underruns
	rb.mu.Unlock()
	return
}

// Close marks the ring closed. Blocked writers return; readers drain the
// remainder and then see io.EOF.
func (rb *AudioRingBuffer) Close() {
	rb.mu.Lock()
	rb.closed = true
	rb.notFull.Broadcast()
	rb.mu.Unlock()
}
