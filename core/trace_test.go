package core

import (
	"strings"
	"testing"
	"time"
)

func TestTraceCoalescesRepeatedStatus(t *testing.T) {
	logc := &logCapture{}
	tr := tracer{log: logc.logf}

	now := time.Unix(0, 0)
	tr.reset(now)

	tr.observe(0x0001, now)
	tr.observe(0x0001, now.Add(time.Microsecond))
	tr.observe(0x0001, now.Add(2*time.Microsecond))

	if tr.ndx != 0 {
		t.Fatalf("repeated status did not coalesce, ndx=%d", tr.ndx)
	}
	if tr.entries[0].count != 3 {
		t.Errorf("count = %d, want 3", tr.entries[0].count)
	}

	tr.observe(0x0044, now.Add(3*time.Microsecond))
	if tr.ndx != 1 {
		t.Fatalf("new status did not advance, ndx=%d", tr.ndx)
	}
	if tr.entries[1].status != 0x0044 || tr.entries[1].count != 1 {
		t.Errorf("entry 1 = %+v", tr.entries[1])
	}
}

func TestTraceRecordAttachesEvent(t *testing.T) {
	tr := tracer{log: func(string, ...interface{}) {}}
	now := time.Unix(0, 0)
	tr.reset(now)

	tr.observe(0x0080, now)
	tr.record(eventWriteToDR, 4)

	if tr.entries[0].event != eventWriteToDR || tr.entries[0].parm != 4 {
		t.Errorf("entry 0 = %+v", tr.entries[0])
	}
	if tr.ndx != 1 {
		t.Errorf("record did not advance, ndx=%d", tr.ndx)
	}
}

func TestTraceOverflowWarnsOnce(t *testing.T) {
	logc := &logCapture{}
	tr := tracer{log: logc.logf}
	now := time.Unix(0, 0)
	tr.reset(now)

	for i := 0; i < 3*traceDepth; i++ {
		tr.observe(uint32(i), now.Add(time.Duration(i)))
		tr.record(eventEngineCall, 0)
	}

	warnings := 0
	for _, line := range logc.snapshot() {
		if strings.Contains(line, "trace table overflow") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("%d overflow warnings, want exactly 1", warnings)
	}

	// A reset clears the latch: the next saturated transaction warns again
	tr.reset(now)
	for i := 0; i < 3*traceDepth; i++ {
		tr.observe(uint32(i), now.Add(time.Duration(i)))
		tr.record(eventEngineCall, 0)
	}

	warnings = 0
	for _, line := range logc.snapshot() {
		if strings.Contains(line, "trace table overflow") {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("%d overflow warnings after second transaction, want 2", warnings)
	}
}

func TestTraceDumpFormat(t *testing.T) {
	logc := &logCapture{}
	tr := tracer{log: logc.logf}
	start := time.Unix(100, 0)
	tr.reset(start)

	tr.observe(0x00010001, start.Add(time.Millisecond))
	tr.record(eventSendAddr, 0x29)
	tr.observe(0x00070082, start.Add(2*time.Millisecond))

	tr.dump(start.Add(3 * time.Millisecond))

	lines := logc.snapshot()
	if len(lines) != 3 {
		t.Fatalf("dump produced %d lines, want header plus 2 entries: %v",
			len(lines), lines)
	}
	if !strings.Contains(lines[0], "elapsed time 3ms") {
		t.Errorf("header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "STATUS: 00010001") ||
		!strings.Contains(lines[1], "EVENT:    5") ||
		!strings.Contains(lines[1], "PARM: 00000029") {
		t.Errorf("entry line: %q", lines[1])
	}
}
