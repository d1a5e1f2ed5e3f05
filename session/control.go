package session

import (
	"sync"
	"time"
)

// control coordinates pause/resume/stop between the goroutine driving
// frames and the goroutines issuing commands. Pausing is synchronous:
// RequestPause returns only after the frame goroutine has acknowledged,
// so the caller knows no frame is in flight.
type control struct {
	mu       sync.Mutex
	pauseReq bool
	paused   bool
	running  bool
	stopReq  bool
	ackCh    chan struct{}
	stopped  chan struct{}
}

func newControl() *control {
	return &control{
		running: true,
		ackCh:   make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// RequestPause asks the frame goroutine to pause and blocks until it
// acknowledges, or until the session stops. The frame loop may exit
// without another CheckPause (fault, core shutdown, context cancel), so
// a pure ack wait would strand the caller.
func (c *control) RequestPause() {
	c.mu.Lock()
	if c.paused || c.pauseReq || !c.running || c.stopReq {
		c.mu.Unlock()
		return
	}
	c.pauseReq = true
	c.mu.Unlock()

	select {
	case <-c.ackCh:
	case <-c.stopped:
	}
}

// RequestResume clears the pause.
func (c *control) RequestResume() {
	c.mu.Lock()
	c.pauseReq = false
	c.paused = false
	c.mu.Unlock()
}

// CheckPause is called by the frame goroutine between frames. When a
// pause is pending it acknowledges and waits until resumed or stopped.
// Returns false when the goroutine should exit.
func (c *control) CheckPause() bool {
	c.mu.Lock()
	if !c.running || c.stopReq {
		c.mu.Unlock()
		return false
	}
	if !c.pauseReq {
		c.mu.Unlock()
		return true
	}

	c.paused = true
	c.mu.Unlock()

	select {
	case c.ackCh <- struct{}{}:
	default:
	}

	for {
		c.mu.Lock()
		if !c.running || c.stopReq {
			c.mu.Unlock()
			return false
		}
		if !c.pauseReq {
			c.paused = false
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
}

// Stop signals the frame goroutine to exit. Clears any pending pause so
// CheckPause unblocks, and releases any RequestPause waiter.
func (c *control) Stop() {
	c.mu.Lock()
	if !c.stopReq {
		c.stopReq = true
		c.running = false
		close(c.stopped)
	}
	c.pauseReq = false
	c.mu.Unlock()
}

func (c *control) ShouldRun() bool {
	c.mu.Lock()
	r := c.running && !c.stopReq
	c.mu.Unlock()
	return r
}

func (c *control) IsPaused() bool {
	c.mu.Lock()
	p := c.paused
	c.mu.Unlock()
	return p
}
