package core

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

// Bus phases of the simulated controller.
const (
	simIdle = iota
	simAddr
	simWrite
	simRead
)

// simSlave is one target device on the simulated bus.
type simSlave struct {
	readData []byte // bytes the device returns on a read transaction
	written  []byte // bytes captured from write transactions
}

// simBus is an in-memory model of the controller front end: the register
// file with its side effects, the two-stage receive path (shift register
// feeding the data register) whose pacing makes RXNE rise one bus step
// before BTF, and a set of addressable slave devices.
//
// Reading SR1 advances the model one bus step, so both the poll loop and
// an interrupt pump make progress just by observing status.
type simBus struct {
	mu sync.Mutex

	cr1, cr2   uint16
	oar1, ccr  uint16
	trise      uint16
	sr1, sr2   uint16

	slaves map[uint16]*simSlave
	stall  bool // address phase never resolves (wedged bus)

	phase       int
	sr1SeenAddr bool

	addrByte     byte
	addrInFlight bool
	target       *simSlave

	pending   []byte // bytes still to be received from the target
	shift     byte
	shiftFull bool
	rxdr      byte
	drFull    bool

	txByte byte
	txFull bool

	ops    []string
	writes int // total register writes, any offset
}

func newSimBus() *simBus {
	return &simBus{slaves: make(map[uint16]*simSlave)}
}

// addSlave registers a device at a 7-bit address and returns it for
// inspection after the transfer.
func (s *simBus) addSlave(addr uint16, readData []byte) *simSlave {
	sl := &simSlave{readData: readData}
	s.slaves[addr] = sl
	return sl
}

func (s *simBus) op(format string, args ...interface{}) {
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
}

func (s *simBus) opLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// step advances the bus one time unit.
func (s *simBus) step() {
	s.mu.Lock()
	s.stepLocked()
	s.mu.Unlock()
}

func (s *simBus) stepLocked() {
	// A requested STOP completes once nothing is left in flight toward
	// the receiver; bytes already latched stay readable afterward.
	if s.cr1&cr1Stop != 0 && !(s.phase == simRead && len(s.pending) > 0) {
		s.cr1 &^= cr1Stop
		s.sr2 &^= sr2Busy
		s.phase = simIdle
		s.op("stop")
	}

	if s.cr1&cr1Start != 0 && s.sr1&sr1SB == 0 {
		s.cr1 &^= cr1Start
		s.sr1 |= sr1SB
		s.sr1 &^= sr1TxE | sr1BTF
		s.sr2 |= sr2Busy
		s.phase = simAddr
		s.op("start")
	}

	if s.phase == simAddr && s.addrInFlight {
		if s.stall {
			return
		}
		s.addrInFlight = false

		sl := s.slaves[uint16(s.addrByte>>1)]
		if sl == nil {
			s.sr1 |= sr1AF
			s.phase = simIdle
			s.op("addr-nack %02x", s.addrByte)
		} else {
			s.sr1 |= sr1Addr
			s.sr1SeenAddr = false
			s.target = sl
			s.op("addr-ack %02x", s.addrByte)
		}
	}

	if s.phase == simRead {
		if !s.shiftFull && len(s.pending) > 0 {
			s.shift = s.pending[0]
			s.pending = s.pending[1:]
			s.shiftFull = true
		}
		if s.shiftFull && !s.drFull {
			s.rxdr = s.shift
			s.shiftFull = false
			s.drFull = true
		}
		s.updateRxFlags()
	}

	if s.phase == simWrite && s.txFull {
		s.target.written = append(s.target.written, s.txByte)
		s.txFull = false
		s.sr1 |= sr1TxE | sr1BTF
		s.op("tx %02x", s.txByte)
	}
}

func (s *simBus) updateRxFlags() {
	if s.drFull {
		s.sr1 |= sr1RxNE
	} else {
		s.sr1 &^= sr1RxNE
	}
	if s.drFull && s.shiftFull {
		s.sr1 |= sr1BTF
	} else {
		s.sr1 &^= sr1BTF
	}
}

func (s *simBus) ReadRegister(offset uint8) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case RegCR1:
		return s.cr1
	case RegCR2:
		return s.cr2
	case RegOAR1:
		return s.oar1
	case RegCCR:
		return s.ccr
	case RegTRISE:
		return s.trise

	case RegSR1:
		// Observing status is what paces the simulation
		s.stepLocked()
		if s.sr1&sr1Addr != 0 {
			s.sr1SeenAddr = true
		}
		return s.sr1

	case RegSR2:
		if s.sr1&sr1Addr != 0 && s.sr1SeenAddr {
			// The SR1-then-SR2 read sequence clears the address
			// condition and starts the data phase.
			s.sr1 &^= sr1Addr
			s.sr1SeenAddr = false

			if s.addrByte&1 != 0 {
				s.phase = simRead
				s.pending = append([]byte(nil), s.target.readData...)
			} else {
				s.phase = simWrite
				s.sr1 |= sr1TxE
				s.sr2 |= sr2Tra
			}
		}
		return s.sr2

	case RegDR:
		b := s.rxdr
		if s.shiftFull {
			s.rxdr = s.shift
			s.shiftFull = false
		} else {
			s.drFull = false
		}
		s.updateRxFlags()
		s.op("rd %02x", b)
		return uint16(b)
	}
	return 0
}

func (s *simBus) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *simBus) WriteRegister(offset uint8, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++

	switch offset {
	case RegCR1:
		old := s.cr1
		if old&cr1Stop == 0 && value&cr1Stop != 0 {
			s.op("stopreq")
		}
		if old&cr1Start == 0 && value&cr1Start != 0 {
			s.op("startreq")
		}
		if old&cr1Ack != 0 && value&cr1Ack == 0 && s.phase == simRead {
			s.op("nackarm")
		}
		s.cr1 = value

	case RegCR2:
		s.cr2 = value

	case RegOAR1:
		s.oar1 = value

	case RegCCR:
		s.ccr = value

	case RegTRISE:
		s.trise = value

	case RegSR1:
		// Error flags are cleared by writing zero to them
		s.sr1 &^= sr1ErrorMask &^ value

	case RegDR:
		if s.sr1&sr1SB != 0 {
			// Address byte: the SR1-read-then-DR-write sequence
			// clears the start condition.
			s.sr1 &^= sr1SB
			s.addrByte = byte(value)
			s.addrInFlight = true
			s.op("addr-sent %02x", value)
			return
		}
		if s.phase == simWrite {
			s.txByte = byte(value)
			s.txFull = true
			s.sr1 &^= sr1TxE | sr1BTF
		}
	}
}

// irqPending reports whether the modeled interrupt lines would be
// asserted: event sources gated by ITEVFEN (with the buffer sources
// additionally gated by ITBUFEN) and error sources gated by ITERREN.
func (s *simBus) irqPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cr2&cr2ITEvtEn != 0 {
		if s.sr1&(sr1SB|sr1Addr|sr1BTF) != 0 {
			return true
		}
		if s.cr2&cr2ITBufEn != 0 && s.sr1&(sr1TxE|sr1RxNE) != 0 {
			return true
		}
	}
	if s.cr2&cr2ITErrEn != 0 && s.sr1&sr1ErrorMask != 0 {
		return true
	}
	return false
}

// irqPump drives a controller in interrupt operation: whenever the model
// asserts an interrupt line it invokes the service routine, otherwise it
// lets bus time pass.
type irqPump struct {
	stop chan struct{}
	wg   sync.WaitGroup
}

func startPump(c *Controller, s *simBus) *irqPump {
	p := &irqPump{stop: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stop:
				return
			default:
			}
			if s.irqPending() {
				c.ServiceInterrupt()
			} else {
				s.step()
			}
			runtime.Gosched()
		}
	}()
	return p
}

func (p *irqPump) halt() {
	close(p.stop)
	p.wg.Wait()
}

// logCapture collects controller log output for assertions.
type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (l *logCapture) logf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *logCapture) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// newTestController builds a controller over a fresh simulated bus with
// short timeouts so failure paths do not drag the test out.
func newTestController(t *testing.T, polled bool) (*Controller, *simBus, *logCapture) {
	t.Helper()

	sim := newSimBus()
	logc := &logCapture{}

	c, err := NewController(sim, Config{
		Polled:  polled,
		Timeout: 50 * time.Millisecond,
		Log:     logc.logf,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, sim, logc
}

// runTransfer executes one transfer in either regime, managing the
// interrupt pump lifetime for the interrupt case.
func runTransfer(c *Controller, sim *simBus, frequency uint32, msgs []Msg) error {
	if c.cfg.Polled {
		return c.Transfer(frequency, msgs)
	}
	pump := startPump(c, sim)
	defer pump.halt()
	return c.Transfer(frequency, msgs)
}
