package session

import (
	"sync"

	"github.com/Sinono3/retroarcade/libretro"
)

const maxPlayers = 2

// SharedInput holds controller state as button bitmasks, written by the
// frontend and read by the frame goroutine through the core's input
// callbacks. Bit n corresponds to joypad button ID n.
type SharedInput struct {
	mu      sync.Mutex
	buttons [maxPlayers]uint32
	latched [maxPlayers]uint32
}

// Set updates the live button bitmask for a player.
func (si *SharedInput) Set(player int, buttons uint32) {
	if player < 0 || player >= maxPlayers {
		return
	}
	si.mu.Lock()
	si.buttons[player] = buttons
	si.mu.Unlock()
}

// Latch snapshots the live state. Cores poll once per frame; the
// snapshot keeps every within-frame read consistent.
func (si *SharedInput) Latch() {
	si.mu.Lock()
	si.latched = si.buttons
	si.mu.Unlock()
}

// State answers a core input query against the latched snapshot. Only
// joypad devices are reported; everything else reads as released.
func (si *SharedInput) State(port, device, index, id uint) int16 {
	if device != libretro.DeviceJoypad || index != 0 {
		return 0
	}
	if port >= maxPlayers || id > 31 {
		return 0
	}
	si.mu.Lock()
	pressed := si.latched[port]&(1<<id) != 0
	si.mu.Unlock()
	if pressed {
		return 1
	}
	return 0
}
