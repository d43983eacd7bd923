package migrate

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgress(t *testing.T) {
	assert.Equal(t, "UNKNOWN", progress(50, 0, false))
	assert.Equal(t, "25.00%", progress(50, 200, true))
	assert.Equal(t, "0.00%", progress(0, 200, true))
	assert.Equal(t, "100.00%", progress(2482, 2482, true))
}

func TestETA(t *testing.T) {
	now := time.Now()

	// zero committed
	assert.Equal(t, "UNKNOWN", eta(0, 1234, true, 120*time.Second, now))
	// total unknown
	assert.Equal(t, "UNKNOWN", eta(1542, 0, false, 120*time.Second, now))
	// zero elapsed
	assert.Equal(t, "UNKNOWN", eta(154, 1234, true, 0, now))

	// duration 10s (rounded down), 1630 of 598985 done, 163 objects/s,
	// 3674s total, 3664s left
	re := regexp.MustCompile(`^20\d\d-\d\d-\d\d \d\d:\d\d:\d\d \(1h 01m 04s\)$`)
	got := eta(1630, 598985, true, 10*time.Second+500*time.Millisecond, now)
	assert.Regexp(t, re, got)
}

func TestWriteQueueLine(t *testing.T) {
	// more in queue than last tick
	var out bytes.Buffer
	writeQueueLine(&out, "receiver queue", 50, 112, 4096)
	assert.Equal(t,
		"    receiver queue    - used    112 of   4096,   2.73% full, changed by:    +62\n",
		out.String())

	// less in queue than last tick
	out.Reset()
	writeQueueLine(&out, "receiver queue", 4096, 2048, 4096)
	assert.Equal(t,
		"    receiver queue    - used   2048 of   4096,  50.00% full, changed by:  -2048\n",
		out.String())
}

func TestWriteStageLine(t *testing.T) {
	var out bytes.Buffer
	writeStageLine(&out, "receiver thread", 500, 650,
		3*time.Second+300*time.Millisecond,
		15*time.Second+600*time.Millisecond)
	assert.Equal(t,
		"    receiver thread   - processed:     650, current speed:    45.5 Lo/s, average speed:    41.7 Lo/s\n",
		out.String())
}

func TestMonitorPrintsFinalBlock(t *testing.T) {
	stats := NewStats()
	stats.SetCounts(7, 8)
	stats.AddObserved(5)
	stats.AddReceived(5)
	stats.AddStored(5)
	stats.AddCommitted(5)

	var out bytes.Buffer
	m := &Monitor{
		Stats:    stats,
		Interval: time.Hour,
		Out:      &out,
		Queues: []QueueProbe{
			{Name: "receive queue", Cap: 8192, Len: func() int { return 3 }},
			{Name: "store queue", Cap: 1024, Len: func() int { return 0 }},
			{Name: "commit queue", Cap: 8192, Len: func() int { return 1 }},
		},
	}

	done := make(chan struct{})
	close(done)
	m.Run(done)

	s := out.String()
	assert.Contains(t, s, "*******************************************************************")
	assert.Contains(t, s, "Progress Overview:")
	assert.Contains(t, s, "62.50%, 5 of 8 objects have been migrated")
	assert.Contains(t, s, "Processed Objects by Thread Groups:")
	assert.Contains(t, s, "observer thread")
	assert.Contains(t, s, "committer threads")
	assert.Contains(t, s, "Queue Usage:")
	assert.Contains(t, s, "store queue")
}
