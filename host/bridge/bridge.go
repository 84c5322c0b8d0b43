// Package bridge exposes the register file of a remote controller over a
// serial link, so the transaction engine can drive real hardware from a
// development host through a small debug stub on the target.
//
// Each register access is one framed request/response exchange:
//
//	0x7B len op off valLo valHi crcLo crcHi 0x7D
//
// where len counts the four payload bytes (op, off, valLo, valHi) and the
// checksum covers exactly those. A read request carries value zero and is
// answered with the same frame shape holding the register value; a write
// is answered with an echo of the request.
package bridge

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"stmi2c/core"
)

// Frame delimiters and operations.
const (
	frameStart byte = 0x7B
	frameEnd   byte = 0x7D

	opRead16  byte = 0x01
	opWrite16 byte = 0x02

	payloadLen = 4
	frameLen   = payloadLen + 5 // start, len, payload, crc16, end
)

// retries is how many times an exchange is reissued after a framing or
// checksum failure before the access is abandoned.
const retries = 3

// Port is the transport under the bridge. Satisfied by a serial port or,
// in tests, an in-memory stub.
type Port interface {
	io.ReadWriteCloser
}

// Config holds the serial link configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC stubs ignore this
	Baud int

	// Read timeout for one response
	ReadTimeout time.Duration

	// Log receives exchange failures. No-op if nil.
	Log core.LogFunc
}

// DefaultConfig returns the configuration the debug stub ships with.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Bus is a core.RegisterBus whose accesses travel over a serial link.
//
// The RegisterBus interface has no error path, mirroring memory-mapped
// access; a broken link therefore reads as zero after the retries run
// out, which the engine surfaces as a transfer timeout. Failures are
// logged either way.
type Bus struct {
	port Port
	log  core.LogFunc
	buf  [frameLen]byte
}

// Open connects to the debug stub at the configured serial device.
func Open(cfg *Config) (*Bus, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridge: config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", cfg.Device, err)
	}

	return New(port, cfg.Log), nil
}

// New wraps an already open transport.
func New(port Port, log core.LogFunc) *Bus {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Bus{port: port, log: log}
}

// Close closes the underlying transport.
func (b *Bus) Close() error {
	return b.port.Close()
}

// ReadRegister fetches a 16-bit register from the remote controller.
func (b *Bus) ReadRegister(offset uint8) uint16 {
	value, err := b.exchange(opRead16, offset, 0)
	if err != nil {
		b.log("bridge: read reg %02x: %v", offset, err)
		return 0
	}
	return value
}

// WriteRegister stores a 16-bit register on the remote controller.
func (b *Bus) WriteRegister(offset uint8, value uint16) {
	if _, err := b.exchange(opWrite16, offset, value); err != nil {
		b.log("bridge: write reg %02x: %v", offset, err)
	}
}

func (b *Bus) exchange(op, offset byte, value uint16) (uint16, error) {
	var lastErr error

	for attempt := 0; attempt < retries; attempt++ {
		if err := b.send(op, offset, value); err != nil {
			lastErr = err
			continue
		}

		got, err := b.receive(op, offset)
		if err != nil {
			lastErr = err
			continue
		}
		return got, nil
	}

	return 0, lastErr
}

func (b *Bus) send(op, offset byte, value uint16) error {
	f := b.buf[:0]
	f = append(f, frameStart, payloadLen,
		op, offset, byte(value), byte(value>>8))

	crc := crc16(f[2:])
	f = append(f, byte(crc), byte(crc>>8), frameEnd)

	_, err := b.port.Write(f)
	return err
}

func (b *Bus) receive(op, offset byte) (uint16, error) {
	// Resynchronize on the start delimiter; a reconnected stub may have
	// left partial output in the pipe.
	var hdr [1]byte
	for {
		if _, err := io.ReadFull(b.port, hdr[:]); err != nil {
			return 0, err
		}
		if hdr[0] == frameStart {
			break
		}
	}

	rest := b.buf[1:frameLen]
	if _, err := io.ReadFull(b.port, rest); err != nil {
		return 0, err
	}

	if rest[0] != payloadLen || rest[frameLen-2] != frameEnd {
		return 0, fmt.Errorf("malformed frame % x", rest)
	}

	payload := rest[1 : 1+payloadLen]
	crc := uint16(rest[1+payloadLen]) | uint16(rest[2+payloadLen])<<8
	if got := crc16(payload); got != crc {
		return 0, fmt.Errorf("checksum mismatch: frame %04x, computed %04x", crc, got)
	}

	if payload[0] != op || payload[1] != offset {
		return 0, fmt.Errorf("response %02x/%02x for request %02x/%02x",
			payload[0], payload[1], op, offset)
	}

	return uint16(payload[2]) | uint16(payload[3])<<8, nil
}
