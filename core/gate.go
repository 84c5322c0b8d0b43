package core

import "time"

// Interrupt handshake state bridging engine-context completion to the
// blocked caller.
const (
	intStateIdle    uint8 = iota // No I2C activity
	intStateWaiting              // Caller is waiting for completion
	intStateDone                 // Engine activity complete
)

// transferTimeout returns the completion wait budget for a message list:
// either the fixed configured duration or, with DynamicTimeout, a duration
// scaled linearly by the total byte count across all messages.
func (c *Controller) transferTimeout(msgs []Msg) time.Duration {
	if !c.cfg.DynamicTimeout {
		return c.cfg.Timeout
	}

	bytecount := 0
	for i := range msgs {
		bytecount += len(msgs[i].Buffer)
	}

	return time.Duration(bytecount) * c.cfg.TimeoutPerByte
}

// complete signals the waiting caller that the engine has terminated the
// transaction. Called from the engine's terminal path only.
func (c *Controller) complete() {
	if c.cfg.Polled {
		// Polled operation runs engine and waiter on the same
		// goroutine, no wakeup needed.
		c.intstate = intStateDone
		return
	}

	c.gateMu.Lock()
	if c.intstate == intStateWaiting {
		c.intstate = intStateDone
		close(c.doneCh)
	}
	c.gateMu.Unlock()
}

// waitDone blocks until the engine finishes the armed transfer or the
// timeout elapses. In interrupt operation the engine runs asynchronously
// and this suspends on the handshake channel; in polled operation the
// engine is invoked synchronously in a tight loop bounded by the same
// timeout arithmetic.
func (c *Controller) waitDone() error {
	timeout := c.transferTimeout(c.msgs)

	if c.cfg.Polled {
		return c.waitDonePolled(timeout)
	}
	return c.waitDoneInterrupt(timeout)
}

func (c *Controller) waitDoneInterrupt(timeout time.Duration) error {
	c.gateMu.Lock()
	c.doneCh = make(chan struct{})
	c.intstate = intStateWaiting
	c.gateMu.Unlock()

	// Arm the engine: event and error interrupts both route to it.
	c.modifyReg(RegCR2, 0, cr2ITErrEn|cr2ITEvtEn)

	var err error

	select {
	case <-c.doneCh:
	case <-c.clk.After(timeout):
		c.gateMu.Lock()
		if c.intstate != intStateDone {
			err = ErrTimeout
		}
		c.gateMu.Unlock()
	}

	c.gateMu.Lock()
	c.intstate = intStateIdle
	c.gateMu.Unlock()

	// Disable all I2C interrupt sources
	c.modifyReg(RegCR2, cr2AllInts, 0)

	return err
}

func (c *Controller) waitDonePolled(timeout time.Duration) error {
	c.intstate = intStateWaiting
	start := c.clk.Now()

	for {
		// Poll by simply invoking the engine until it reports done.
		c.service()

		if c.intstate == intStateDone {
			break
		}

		if c.clk.Now().Sub(start) >= timeout {
			break
		}
	}

	var err error
	if c.intstate != intStateDone {
		err = ErrTimeout
	}

	c.intstate = intStateIdle
	return err
}

// waitStop polls until a pending STOP request completes, a hardware
// timeout error is flagged, or the wait budget runs out. Used before a
// transaction so a new STOP is never requested on top of an unfinished
// one, and after it so the next transaction does not begin while the bus
// is still finishing the previous STOP.
//
// The STOP bit is cleared by hardware when a STOP condition goes out, but
// it is also set by hardware when a timeout error is detected, so both
// conditions end the wait.
func (c *Controller) waitStop() {
	timeout := c.cfg.StartStopTimeout

	var cr1, sr1 uint16
	start := c.clk.Now()

	for {
		cr1 = c.bus.ReadRegister(RegCR1)
		if cr1&cr1Stop == 0 {
			return
		}

		sr1 = c.bus.ReadRegister(RegSR1)
		if sr1&sr1Timeout != 0 {
			return
		}

		if c.clk.Now().Sub(start) >= timeout {
			break
		}
	}

	// Timed out with the STOP condition still pending
	c.logf("i2c: STOP wait timeout, CR1: %04x SR1: %04x", cr1, sr1)
}
