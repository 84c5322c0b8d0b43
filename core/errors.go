package core

import "errors"

// Transfer errors surfaced by the orchestrator. Exactly one of these is
// returned per transfer; there is no partial-success reporting, though
// bytes already moved remain in the caller's buffers.
var (
	// ErrBus reports a bus error (misplaced START or STOP detected).
	ErrBus = errors.New("i2c: bus error")

	// ErrArbitrationLost reports lost arbitration against another master.
	ErrArbitrationLost = errors.New("i2c: arbitration lost")

	// ErrNack reports an acknowledge failure: the address or a data byte
	// was not acknowledged by the target.
	ErrNack = errors.New("i2c: no acknowledge received")

	// ErrOverrun reports a receive overrun or transmit underrun.
	ErrOverrun = errors.New("i2c: overrun")

	// ErrPEC reports a packet error check mismatch in reception.
	ErrPEC = errors.New("i2c: PEC error")

	// ErrTimeout reports a hardware timeout condition or an expired
	// completion wait.
	ErrTimeout = errors.New("i2c: timeout")

	// ErrBusBusy reports that the bus never went idle after a timed-out
	// transfer.
	ErrBusBusy = errors.New("i2c: bus busy")

	// ErrInterrupted reports an SMBus alert, which should not occur with
	// SMBus disabled.
	ErrInterrupted = errors.New("i2c: interrupted")

	// ErrNoMsgs reports an empty transfer request.
	ErrNoMsgs = errors.New("i2c: no messages to transfer")

	// ErrFrequency reports a transfer requested at an unusable bus
	// frequency.
	ErrFrequency = errors.New("i2c: invalid bus frequency")

	// ErrClosed reports use of a controller after Close.
	ErrClosed = errors.New("i2c: controller is closed")
)
