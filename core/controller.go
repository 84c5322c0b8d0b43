// Package core implements the master-mode transaction engine for the
// STM32 F1/F2/F4 I2C controller: an interrupt- or poll-driven state
// machine that drives an ordered list of read/write messages to
// completion while the calling goroutine blocks until the sequence
// finishes or times out.
//
// Hardware access goes through the RegisterBus interface, so the same
// engine runs against memory-mapped registers on chip, a serial-attached
// debug probe, or a simulated controller in tests.
package core

import (
	"errors"
	"sync"
	"time"
)

// LogFunc receives diagnostic output (trace dumps, recovery warnings).
type LogFunc func(format string, args ...interface{})

// Config holds the controller configuration.
type Config struct {
	// PeripheralClock is the APB clock feeding the peripheral, in Hz.
	// Must be at least 2 MHz for 100 kHz operation and 4 MHz for
	// 400 kHz operation. Default 36 MHz.
	PeripheralClock uint32

	// Duty16x9 selects the Tlow/Thigh = 16/9 duty cycle in fast mode
	// instead of the default 2.
	Duty16x9 bool

	// Polled selects cooperative-poll operation: the engine is invoked
	// synchronously from the waiting goroutine instead of from an
	// interrupt handler. Protocol logic is identical apart from the
	// documented NACK-detection carve-outs.
	Polled bool

	// Timeout bounds the completion wait for one transfer.
	// Default 500ms.
	Timeout time.Duration

	// DynamicTimeout scales the completion wait by the total byte count
	// of the transfer instead of using the fixed Timeout.
	DynamicTimeout bool

	// TimeoutPerByte is the per-byte budget used with DynamicTimeout.
	// Default 500µs.
	TimeoutPerByte time.Duration

	// StartStopTimeout bounds the wait for a STOP condition to leave
	// the bus. Defaults to Timeout.
	StartStopTimeout time.Duration

	// Log receives trace dumps and recovery warnings. No-op if nil.
	Log LogFunc

	// Clock is the time source for all timed waits. Wall clock if nil.
	Clock Clock
}

// DefaultConfig returns the configuration the original driver ships with:
// interrupt operation, 36 MHz peripheral clock, fixed 500ms timeout.
func DefaultConfig() Config {
	return Config{
		PeripheralClock: 36000000,
		Timeout:         500 * time.Millisecond,
		TimeoutPerByte:  500 * time.Microsecond,
	}
}

// Controller owns one physical I2C controller. All instances (Dev) bound
// to it share this state; a mutex serializes transfers so exactly one is
// in flight at a time.
type Controller struct {
	bus RegisterBus
	cfg Config
	clk Clock
	log LogFunc

	// Exclusive transfer ownership across all Devs
	mu sync.Mutex

	// Session state. Single writer: the engine, between START and the
	// completion signal.
	msgs         []Msg  // Armed message list
	mi           int    // Cursor into msgs
	msgc         int    // Messages left to process
	buf          []byte // Remaining bytes of the current message
	dcnt         int    // Bytes left in the current message; -1 = between messages
	totalLen     int    // Total length of the current message
	addr         uint16 // Address of the current message
	flags        uint16 // Flags of the current message
	checkAddrAck bool   // Address byte sent, ACK/NACK not yet resolved
	status       uint32 // Last engine-observed status

	// Completion gate
	gateMu   sync.Mutex
	intstate uint8
	doneCh   chan struct{}

	trace tracer

	closed bool
}

// NewController initializes the peripheral behind bus and returns a
// controller ready for transfers: peripheral clock field programmed,
// 100 kHz timing, peripheral enabled, all I2C interrupts masked.
//
// Power-up, pin multiplexing and interrupt registration are the
// platform's job (see targets/stm32).
func NewController(bus RegisterBus, cfg Config) (*Controller, error) {
	if bus == nil {
		return nil, errors.New("i2c: nil register bus")
	}

	def := DefaultConfig()
	if cfg.PeripheralClock == 0 {
		cfg.PeripheralClock = def.PeripheralClock
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TimeoutPerByte == 0 {
		cfg.TimeoutPerByte = def.TimeoutPerByte
	}
	if cfg.StartStopTimeout == 0 {
		cfg.StartStopTimeout = cfg.Timeout
	}

	if cfg.PeripheralClock < 2000000 {
		return nil, errors.New("i2c: peripheral clock must be at least 2 MHz")
	}

	c := &Controller{
		bus:  bus,
		cfg:  cfg,
		clk:  cfg.Clock,
		log:  cfg.Log,
		dcnt: -1,
	}
	if c.clk == nil {
		c.clk = wallClock{}
	}
	if c.log == nil {
		c.log = func(string, ...interface{}) {}
	}
	c.trace.log = c.logf

	// Program the peripheral clock field. This write also masks all
	// I2C interrupt sources.
	c.bus.WriteRegister(RegCR2, uint16(cfg.PeripheralClock/1000000)&cr2FreqMask)

	// Default bus timing until the first transfer programs its own
	c.setClock(StandardModeFrequency)

	// Enable the peripheral
	c.bus.WriteRegister(RegCR1, cr1PE)

	return c, nil
}

// Close disables the peripheral. In-flight transfers finish first.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.bus.WriteRegister(RegCR1, 0)
	c.bus.WriteRegister(RegCR2, 0)
	return nil
}

func (c *Controller) logf(format string, args ...interface{}) {
	c.log(format, args...)
}

// Transfer runs an ordered message list as one bus transaction at the
// given frequency, blocking until it completes or times out. Messages are
// processed strictly in order; each message's flags determine whether a
// repeated START or a bare continuation chains it to the previous one.
func (c *Controller) Transfer(frequency uint32, msgs []Msg) error {
	return c.process(frequency, msgs)
}

// process is the transfer orchestrator: it takes exclusive ownership of
// the controller, arms the engine, issues START, waits on the completion
// gate and classifies the final status.
func (c *Controller) process(frequency uint32, msgs []Msg) error {
	if len(msgs) == 0 {
		return ErrNoMsgs
	}
	if frequency == 0 {
		// The divider arithmetic in setClock divides by the frequency
		return ErrFrequency
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	// Let any STOP still on the bus finish before touching CR1
	c.waitStop()

	// Clear stale error flags from the previous transfer
	c.bus.WriteRegister(RegSR1, 0)

	// Clear any lingering START/STOP/PEC request the hardware never
	// acknowledged; issuing a new request on top of one would double it.
	c.clrStart()

	// Arm the engine state for the new message list
	c.msgs = msgs
	c.mi = 0
	c.msgc = len(msgs)
	c.buf = nil
	c.totalLen = 0
	c.flags = 0
	c.checkAddrAck = false

	c.trace.reset(c.clk.Now())

	// Reprogram bus timing for this instance (toggles peripheral enable)
	c.setClock(frequency)

	// The between-messages sentinel makes the first engine invocation
	// load the first message.
	c.dcnt = -1
	c.status = 0

	c.sendStart()

	var err error

	if werr := c.waitDone(); werr != nil {
		// Fetch the latest status: the busy flag only lives in SR2
		status := c.getStatus()

		c.logf("i2c: transfer timed out, CR1: %04x status: %08x",
			c.bus.ReadRegister(RegCR1), status)

		c.clrStart()

		if c.cfg.Polled {
			// A NACKed address cannot be told apart from one still
			// in progress when polling; a STOP clears the bus either
			// way.
			c.sendStop()
		}

		// Make sure engine state is terminal even after a timeout
		c.dcnt = -1
		c.msgc = 0
		c.msgs = nil
		c.buf = nil

		err = classifyStatus(status, werr)
	} else {
		// Drop the SR2 half: the transfer ended, busy is stale
		err = classifyStatus(c.status&0xffff, nil)
	}

	c.trace.dump(c.clk.Now())

	// Do not leave while a STOP is still draining; the next transfer
	// would trip over it.
	c.waitStop()

	return err
}

// classifyStatus maps a final controller status to an error. fallback is
// the completion-wait result: it stands in when no hardware flag explains
// the failure, and nil means the engine terminated the transfer itself.
func classifyStatus(status uint32, fallback error) error {
	if status&uint32(sr1ErrorMask) != 0 {
		switch {
		case status&uint32(sr1Berr) != 0:
			// Misplaced START or STOP seen on the bus
			return ErrBus
		case status&uint32(sr1Arlo) != 0:
			return ErrArbitrationLost
		case status&uint32(sr1AF) != 0:
			// Acknowledge failure: the slave NACKed an address or
			// data byte
			return ErrNack
		case status&uint32(sr1Ovr) != 0:
			return ErrOverrun
		case status&uint32(sr1PECErr) != 0:
			return ErrPEC
		case status&uint32(sr1Timeout) != 0:
			// Hardware SCL-stretch timeout
			return ErrTimeout
		case status&uint32(sr1SMBAl) != 0:
			return ErrInterrupted
		}
	}

	// The busy flag lives in the SR2 half, populated only on the
	// timeout path; a bus stuck busy with no error flag means another
	// master or a wedged slave holds it.
	if status&(uint32(sr2Busy)<<16) != 0 {
		return ErrBusBusy
	}

	return fallback
}
