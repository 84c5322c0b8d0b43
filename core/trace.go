package core

import "time"

// traceDepth is the fixed capacity of the event trace ring.
const traceDepth = 32

// Trace event codes. The numbering groups events by protocol phase:
// 5x address handling, 6x address acknowledge, 7x read, 8x write, and
// 1xxx/x000 for engine bookkeeping and error conditions.
const (
	eventNone           uint16 = 0    // No event recorded for this status
	eventStateError     uint16 = 1000 // No recognized state, engine cannot proceed
	eventShutdown       uint16 = 1001 // Engine terminated the transaction
	eventEmptyCall      uint16 = 1002 // Engine invoked with nothing to do
	eventMsgHandling    uint16 = 1003 // Advanced to the next message, parm = messages left
	eventPollNotReady   uint16 = 1004 // Polled invocation before the hardware was ready
	eventEngineCall     uint16 = 1111 // Engine invoked

	eventSendAddr       uint16 = 5    // START observed, address sent, parm = address
	eventAddrRead1      uint16 = 51   // Address phase special case for a 1-byte read
	eventAddrRead2      uint16 = 52   // Address phase special case for a 2-byte read
	eventEmptyMsg       uint16 = 5000 // Zero-length message skipped

	eventAddrAcked      uint16 = 6    // Address acknowledged
	eventAddrAckedRead2 uint16 = 61   // Address acknowledged, 2-byte read handling
	eventAddrAckedRead1 uint16 = 63   // Address acknowledged, 1-byte read handling
	eventAddrAckedWrite uint16 = 681  // Address acknowledged in write mode
	eventAddrNacked     uint16 = 6000 // Address not acknowledged, parm = address

	eventRead           uint16 = 7    // Data register read, parm = remaining count
	eventReadTail       uint16 = 72   // Tail handling of a long read (last 3 bytes)
	eventReadTwo        uint16 = 73   // Both bytes of a 2-byte read drained
	eventReadShiftEmpty uint16 = 79   // Buffer full but shift register empty, waiting
	eventReadError      uint16 = 7000 // Unhandled status in read mode

	eventWriteToDR      uint16 = 8    // Byte written to the data register, parm = remaining
	eventWriteStop      uint16 = 82   // STOP requested after the last written byte
	eventWriteRestart   uint16 = 83   // Repeated START requested for the next message
	eventWriteNoRestart uint16 = 84   // Next message continues without a restart
	eventWriteError     uint16 = 8000 // Unhandled counter state in write mode
	eventWriteFlagError uint16 = 8001 // Next message has unrecognized flags, parm = flags
)

// traceEntry is one observation: a combined status word, how many times it
// repeated, and the event (if any) the engine took while it was current.
type traceEntry struct {
	status uint32
	count  uint32
	event  uint16
	parm   uint32
	time   time.Time
}

// tracer is the fixed-capacity diagnostic ring. It is best effort: once
// full, further entries are dropped after a single warning and the
// transaction is unaffected.
type tracer struct {
	entries [traceDepth]traceEntry
	ndx     int
	start   time.Time
	warned  bool
	log     LogFunc
}

func (tr *tracer) clear() {
	tr.entries[tr.ndx] = traceEntry{}
}

// reset discards the previous transaction's trace and records the start
// time of the new one.
func (tr *tracer) reset(now time.Time) {
	tr.ndx = 0
	tr.start = now
	tr.warned = false
	tr.clear()
}

// observe records a status word. Consecutive identical observations
// coalesce into the current entry by bumping its repeat count.
func (tr *tracer) observe(status uint32, now time.Time) {
	entry := &tr.entries[tr.ndx]

	if entry.count == 0 || status != entry.status {
		if entry.count != 0 {
			if tr.ndx >= traceDepth-1 {
				tr.overflow()
				return
			}
			tr.ndx++
		}

		tr.clear()
		entry = &tr.entries[tr.ndx]
		entry.status = status
		entry.count = 1
		entry.time = now
	} else {
		entry.count++
	}
}

// record attaches an event and its parameter to the current entry and
// advances to a fresh one.
func (tr *tracer) record(event uint16, parm uint32) {
	entry := &tr.entries[tr.ndx]
	entry.event = event
	entry.parm = parm

	if tr.ndx >= traceDepth-1 {
		tr.overflow()
		return
	}

	tr.ndx++
	tr.clear()
}

func (tr *tracer) overflow() {
	if !tr.warned {
		tr.warned = true
		tr.log("i2c: trace table overflow")
	}
}

// dump emits the whole trace through the controller's log function.
func (tr *tracer) dump(now time.Time) {
	tr.log("i2c trace: elapsed time %v", now.Sub(tr.start))

	for i := 0; i <= tr.ndx; i++ {
		entry := &tr.entries[i]
		if entry.count == 0 {
			continue
		}
		tr.log("%2d. STATUS: %08x COUNT: %4d EVENT: %4d PARM: %08x TIME: %v",
			i+1, entry.status, entry.count, entry.event, entry.parm,
			entry.time.Sub(tr.start))
	}
}
