package core

// The transaction state machine. service is invoked once per interrupt
// occurrence (event and error interrupts both land here) or once per poll
// iteration, and advances the controller through
// START -> address -> data -> (restart|stop) for the armed message list.
//
// Only SR1 is read on entry: reading SR1 and then SR2 clears a pending
// address-matched condition and lets the hardware advance, so the SR2 read
// is deferred to whichever phase handler is actually ready to consume that
// side effect.

// phase is the protocol phase of one engine invocation, derived from the
// status word and session state by classifyPhase.
type phase uint8

const (
	phaseAwaitingAddress  phase = iota // START condition out, address byte due
	phaseAddressNacked                 // Address went unacknowledged
	phaseAddressAckedRead              // Address acknowledged, read direction
	phaseWriting                       // Transmit path ready for the next byte
	phaseReading                       // Receive path holds data
	phaseIdle                          // Nothing left to do
	phaseNotReady                      // Hardware not yet in a new state (polled)
	phaseError                         // No recognized state
)

// classifyPhase selects exactly one phase per invocation. The precedence
// is load-bearing: the address-acknowledge and data-ready conditions share
// status bits, and short reads must have their ACK/NACK/STOP programmed
// before the condition that reports them is cleared (see handleReading).
func (c *Controller) classifyPhase(status uint32) phase {
	switch {
	case status&uint32(sr1SB) != 0:
		return phaseAwaitingAddress

	case !c.cfg.Polled && status&uint32(sr1Addr) == 0 && c.checkAddrAck:
		// The address condition never rose while an acknowledge was
		// outstanding. Polled operation cannot classify this: without
		// the error interrupt a NACKed address is indistinguishable
		// from one still in progress, so recovery is the caller's
		// timeout plus STOP (see process).
		return phaseAddressNacked

	case c.flags&FlagRead != 0 && status&uint32(sr1Addr) != 0 && c.checkAddrAck:
		return phaseAddressAckedRead

	case c.flags&FlagRead == 0 && status&uint32(sr1Addr|sr1TxE) != 0:
		return phaseWriting

	case c.flags&FlagRead != 0 && status&uint32(sr1RxNE) != 0:
		return phaseReading

	case c.dcnt == -1 && c.msgc == 0:
		return phaseIdle

	case c.cfg.Polled:
		return phaseNotReady

	default:
		return phaseError
	}
}

// ServiceInterrupt is the interrupt-context entry point. Both the event
// and the error interrupt of the controller must be routed to it.
func (c *Controller) ServiceInterrupt() {
	c.service()
}

func (c *Controller) service() {
	status := uint32(c.bus.ReadRegister(RegSR1))

	c.status = status

	c.trace.observe(status, c.clk.Now())
	c.trace.record(eventEngineCall, 0)

	c.advanceMessage()

	switch c.classifyPhase(status) {
	case phaseAwaitingAddress:
		c.handleAwaitingAddress()
	case phaseAddressNacked:
		c.handleAddressNacked()
	case phaseAddressAckedRead:
		c.handleAddressAckedRead()
	case phaseWriting:
		c.handleWriting()
	case phaseReading:
		c.handleReading(status)
	case phaseIdle:
		// Consume the rest of the state
		c.bus.ReadRegister(RegSR2)
		c.trace.record(eventEmptyCall, 0)
	case phaseNotReady:
		// The poll loop will come back
		c.trace.record(eventPollNotReady, 0)
	case phaseError:
		// Under interrupt operation an unrecognized state is fatal to
		// the transaction.
		c.bus.ReadRegister(RegSR2)
		c.dcnt = -1
		c.msgc = 0
		c.trace.record(eventStateError, 0)
	}

	// Termination: the whole message chain is handled, wake the caller.
	// Runs once per armed transfer; a spurious invocation afterwards
	// lands in phaseIdle above and must not touch the controller again.
	if c.dcnt == -1 && c.msgc == 0 && c.msgs != nil {
		c.trace.record(eventShutdown, 0)

		c.buf = nil
		c.msgs = nil

		if !c.cfg.Polled {
			// Shut the engine up until the next transfer is armed
			c.modifyReg(RegCR2, cr2AllInts, 0)
		}

		c.complete()
	}
}

// advanceMessage loads the next message into session state. Runs exactly
// when the previous message is fully handled (dcnt == -1, which also holds
// before the first message) and messages remain.
func (c *Controller) advanceMessage() {
	if c.dcnt != -1 || c.msgc == 0 {
		return
	}

	msg := &c.msgs[c.mi]

	c.buf = msg.Buffer
	c.dcnt = len(msg.Buffer)
	c.totalLen = len(msg.Buffer)
	c.addr = msg.Addr
	c.flags = msg.Flags

	c.msgc--
	if c.msgc > 0 {
		// Advance the cursor unless this was the last message
		c.mi++
	}

	c.trace.record(eventMsgHandling, uint32(c.msgc))
}

// handleAwaitingAddress runs with the start condition out: the address
// byte must follow. The ACK/NACK/POS programming for 1- and 2-byte reads
// has to happen now, before the address phase completes, because clearing
// the address condition later triggers immediate hardware behavior that
// can no longer be undone.
func (c *Controller) handleAwaitingAddress() {
	if c.dcnt <= 0 {
		// Zero-length message: nothing to address, mark it complete
		// and force a re-entry via the buffer interrupt so the next
		// message (or shutdown) is handled.
		c.trace.record(eventEmptyMsg, 0)
		c.dcnt = -1
		c.modifyReg(RegCR2, 0, cr2ITBufEn)
		return
	}

	switch {
	case c.totalLen == 1 && c.flags&FlagRead != 0:
		// Single byte: the one byte must be NACKed, and POS may still
		// be up from a previous 2-byte receive.
		c.modifyReg(RegCR1, cr1Pos, 0)
		c.modifyReg(RegCR1, cr1Ack, 0)
		c.trace.record(eventAddrRead1, 0)

	case c.totalLen == 2 && c.flags&FlagRead != 0:
		// Two bytes: NACK applies to the byte after next
		c.modifyReg(RegCR1, 0, cr1Pos)
		c.modifyReg(RegCR1, 0, cr1Ack)
		c.trace.record(eventAddrRead2, 0)

	default:
		// ACK is the expected answer for N>=3 reads and all writes
		c.modifyReg(RegCR1, cr1Pos, 0)
		c.modifyReg(RegCR1, 0, cr1Ack)
	}

	// Writing the data register sends the address byte. 10-bit
	// addressing sends a header byte instead.
	if c.flags&FlagTenBit != 0 {
		c.bus.WriteRegister(RegDR, 0)
	} else {
		c.bus.WriteRegister(RegDR, c.addr<<1|c.flags&FlagRead)
	}

	c.checkAddrAck = true
	c.trace.record(eventSendAddr, uint32(c.addr))
}

// handleAddressNacked terminates the chain and frees the bus after the
// target refused its address.
func (c *Controller) handleAddressNacked() {
	c.dcnt = -1
	c.msgc = 0
	c.checkAddrAck = false

	c.sendStop()

	c.trace.record(eventAddrNacked, uint32(c.addr))
}

// handleAddressAckedRead finalizes the address phase in read direction.
// Consuming SR2 clears the address condition; for short reads the
// STOP/NACK programming must land in the same invocation.
func (c *Controller) handleAddressAckedRead() {
	c.checkAddrAck = false

	c.bus.ReadRegister(RegSR2)

	if c.dcnt == 1 && c.totalLen == 1 {
		// Single byte: STOP right after the address clears, and make
		// sure the receive-buffer event reaches the engine.
		c.modifyReg(RegCR2, 0, cr2ITBufEn)
		c.sendStop()
		c.dcnt--
		c.trace.record(eventAddrAckedRead1, 0)
	} else if c.dcnt == 2 && c.totalLen == 2 {
		// Two bytes: NACK right after the address clears
		c.modifyReg(RegCR1, cr1Ack, 0)
		c.trace.record(eventAddrAckedRead2, 0)
	} else {
		c.trace.record(eventAddrAcked, 0)
	}
}

// handleWriting runs when either the address cleared (ACK received) or
// the transmit buffer drained; both mean the next byte can go out.
func (c *Controller) handleWriting() {
	c.bus.ReadRegister(RegSR2)

	if c.checkAddrAck {
		c.checkAddrAck = false
		c.trace.record(eventAddrAckedWrite, uint32(c.dcnt))
	}

	if c.dcnt >= 1 {
		c.bus.WriteRegister(RegDR, uint16(c.buf[0]))
		c.buf = c.buf[1:]

		c.trace.record(eventWriteToDR, uint32(c.dcnt))
		c.dcnt--
		return
	}

	if c.dcnt < 0 {
		c.trace.record(eventWriteError, 0)
		return
	}

	// Past the last byte: the next action depends on the next message,
	// to which the cursor already points.
	if c.msgc == 0 {
		// Last message of the chain
		c.sendStop()
		c.dcnt--
		c.trace.record(eventWriteStop, uint32(c.dcnt))
	} else if next := &c.msgs[c.mi]; next.Flags == 0 || next.Flags&FlagRead != 0 {
		// A plain or read message follows: repeated START
		c.sendStart()
		c.dcnt--
		c.trace.record(eventWriteRestart, uint32(c.dcnt))
	} else if next.Flags&FlagNoRestart != 0 {
		// Continue the same bus ownership, no START
		c.dcnt = -1
		c.trace.record(eventWriteNoRestart, uint32(c.dcnt))
	} else {
		// Unrecognized flag combination on the next message: recorded
		// and otherwise ignored, the transfer ends through the
		// completion timeout.
		c.trace.record(eventWriteFlagError, uint32(next.Flags))
	}
}

// handleReading drains received data. RXNE alone must never trigger a
// data-register read near the tail of a multi-byte read: on F1 silicon a
// read handled around the end of the next byte's reception is ignored and
// the same byte is returned twice, losing the final byte of the transfer.
// Only BTF combined with the counter thresholds below is trusted.
func (c *Controller) handleReading(status uint32) {
	btf := status&uint32(sr1BTF) != 0

	switch {
	case c.dcnt == 0 && c.totalLen == 1:
		// Single byte, STOP already out: just drain it
		c.buf[0] = byte(c.bus.ReadRegister(RegDR))
		c.buf = c.buf[1:]
		c.dcnt--
		c.trace.record(eventRead, 0)

	case c.dcnt == 2 && c.totalLen == 2 && !btf:
		// First byte buffered, second still in flight
		c.trace.record(eventReadShiftEmpty, 0)

	case c.dcnt == 2 && c.totalLen == 2 && btf:
		// Both bytes held in the data and shift registers: STOP, then
		// read them back to back.
		c.sendStop()
		c.buf[0] = byte(c.bus.ReadRegister(RegDR))
		c.dcnt--
		c.buf[1] = byte(c.bus.ReadRegister(RegDR))
		c.buf = c.buf[2:]
		c.dcnt--

		// STOP is already requested, no event follows the last byte;
		// move straight to the between-messages state.
		c.dcnt--

		c.trace.record(eventReadTwo, 0)

	case c.totalLen >= 3 && !btf:
		// Shift register still empty: wait for the next invocation.
		// Not expected under interrupt operation but routine when
		// polling.
		c.trace.record(eventReadShiftEmpty, 0)

	case c.dcnt >= 4 && c.totalLen >= 3 && btf:
		c.buf[0] = byte(c.bus.ReadRegister(RegDR))
		c.buf = c.buf[1:]
		c.dcnt--
		c.trace.record(eventRead, 0)

	case c.dcnt == 3 && c.totalLen >= 3 && btf:
		// Third byte from the end, next-to-last already in the shift
		// register: NACK must be armed before this read so the final
		// byte goes unacknowledged.
		c.trace.record(eventReadTail, uint32(c.dcnt))

		c.modifyReg(RegCR1, cr1Ack, 0)

		c.buf[0] = byte(c.bus.ReadRegister(RegDR))
		c.buf = c.buf[1:]
		c.dcnt--

	case c.dcnt == 2 && c.totalLen >= 3 && btf:
		// Last two bytes buffered: STOP, then drain both. Same shape
		// as the 2-byte special case.
		c.trace.record(eventReadTail, uint32(c.dcnt))

		c.sendStop()

		c.buf[0] = byte(c.bus.ReadRegister(RegDR))
		c.buf[1] = byte(c.bus.ReadRegister(RegDR))
		c.buf = c.buf[2:]

		// No further event will arrive
		c.dcnt = -1

	default:
		// No status combination matches: read-mode error, abort the
		// whole transfer.
		c.dcnt = -1
		c.msgc = 0
		c.trace.record(eventReadError, 0)
	}

	c.bus.ReadRegister(RegSR2)
}
