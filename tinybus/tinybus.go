// Package tinybus adapts a transaction controller to the tinygo.org
// drivers.I2C interface, letting the TinyGo sensor driver collection talk
// through the engine on chip.
package tinybus

import (
	"tinygo.org/x/drivers"

	"stmi2c/core"
)

// Bus wraps a controller as a drivers.I2C bus at a fixed frequency.
type Bus struct {
	c    *core.Controller
	freq uint32
}

var _ drivers.I2C = (*Bus)(nil)

// New wraps the controller at standard-mode speed.
func New(c *core.Controller) *Bus {
	return &Bus{c: c, freq: core.StandardModeFrequency}
}

// NewAtFrequency wraps the controller at the given bus frequency.
func NewAtFrequency(c *core.Controller, frequency uint32) *Bus {
	return &Bus{c: c, freq: frequency}
}

// Tx implements drivers.I2C: write w, then read into r after a repeated
// start. Either slice may be empty; with both empty the device is probed
// with a one-byte read and the byte discarded.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	return b.c.Transfer(b.freq, buildMsgs(addr, w, r))
}

func buildMsgs(addr uint16, w, r []byte) []core.Msg {
	var msgs []core.Msg
	if len(w) > 0 {
		msgs = append(msgs, core.Msg{Addr: addr, Buffer: w})
	}
	if len(r) > 0 {
		msgs = append(msgs, core.Msg{Addr: addr, Flags: core.FlagRead, Buffer: r})
	}
	if len(msgs) == 0 {
		// A zero-length message never puts the address on the wire, so
		// detecting the device needs a real data phase.
		msgs = append(msgs, core.Msg{Addr: addr, Flags: core.FlagRead, Buffer: make([]byte, 1)})
	}
	return msgs
}
