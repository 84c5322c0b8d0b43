// Package periphbus adapts a transaction controller to the periph.io
// i2c.Bus interface, so the large catalog of periph device drivers can
// run on top of the engine unchanged.
package periphbus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"stmi2c/core"
)

// Bus wraps a controller as a periph.io I2C bus.
type Bus struct {
	name string
	c    *core.Controller

	mu   sync.Mutex
	freq uint32
}

var _ i2c.Bus = (*Bus)(nil)

// New wraps the controller under the given bus name (shown by String and
// in periph error messages). The bus starts in standard mode.
func New(name string, c *core.Controller) *Bus {
	return &Bus{name: name, c: c, freq: core.StandardModeFrequency}
}

// String implements conn.Resource.
func (b *Bus) String() string {
	return b.name
}

// Halt implements conn.Resource. The controller keeps running; halting a
// bus mid-transfer would leave the peripheral wedged.
func (b *Bus) Halt() error {
	return nil
}

// Tx runs a write followed by a read as one transaction with a repeated
// start in between, the shape periph drivers expect. Either half may be
// empty; with both empty the device is probed with a one-byte read and
// the byte discarded.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	freq := b.freq
	b.mu.Unlock()

	return b.c.Transfer(freq, buildMsgs(addr, w, r))
}

// SetSpeed implements i2c.Bus. Speeds above fast mode are refused: the
// peripheral's divider arithmetic is only specified up to 400 kHz.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("periphbus: invalid speed %s", f)
	}

	hz := uint32(f / physic.Hertz)
	if hz == 0 || hz > core.MaxFrequency {
		return fmt.Errorf("periphbus: speed %s out of range", f)
	}

	b.mu.Lock()
	b.freq = hz
	b.mu.Unlock()
	return nil
}

// Close releases the underlying controller. The bus owns it from New on.
func (b *Bus) Close() error {
	return b.c.Close()
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
		// A zero-length message completes without ever putting the
		// address on the wire, so it cannot detect a device. Probe with
		// one read byte instead.
		msgs = append(msgs, core.Msg{Addr: addr, Flags: core.FlagRead, Buffer: make([]byte, 1)})
	}
	return msgs
}
