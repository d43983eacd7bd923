package migrate

import (
	"fmt"
	"io"
	"time"
)

// QueueProbe lets the monitor sample one queue without holding a reference
// to the channel's element type.
type QueueProbe struct {
	Name string
	Cap  int
	Len  func() int
}

// Monitor periodically samples the shared counters and queue depths and
// prints a human-readable status block to Out. It never blocks the pipeline
// and never mutates shared state.
type Monitor struct {
	Stats    *Stats
	Queues   []QueueProbe
	Interval time.Duration
	Out      io.Writer
}

// snapshot freezes the counters and queue depths at one instant so that
// delta speeds can be computed against the previous tick.
type snapshot struct {
	at        time.Time
	observed  uint64
	received  uint64
	stored    uint64
	committed uint64
	queueLens []int
}

func (m *Monitor) snap() snapshot {
	s := snapshot{
		at:        time.Now(),
		observed:  m.Stats.Observed(),
		received:  m.Stats.Received(),
		stored:    m.Stats.Stored(),
		committed: m.Stats.Committed(),
		queueLens: make([]int, len(m.Queues)),
	}
	for i, q := range m.Queues {
		s.queueLens[i] = q.Len()
	}
	return s
}

// Run prints a status block every Interval until done is closed, then
// prints one final block and returns. The wait is sliced into short sleeps
// so shutdown is not delayed by a long interval.
func (m *Monitor) Run(done <-chan struct{}) {
	start := time.Now()
	before := m.snap()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := start
	for {
		select {
		case <-done:
			m.print(before, m.snap(), start)
			return
		case <-ticker.C:
			if time.Since(last) < m.Interval {
				continue
			}
			now := m.snap()
			m.print(before, now, start)
			before = now
			last = time.Now()
		}
	}
}

func (m *Monitor) print(before, now snapshot, start time.Time) {
	w := m.Out
	total, totalKnown := m.Stats.Total()
	elapsed := now.at.Sub(start)
	delta := now.at.Sub(before.at)

	fmt.Fprintln(w, "*******************************************************************")
	fmt.Fprintf(w, "    Status at %s (updated every: %ds)\n",
		now.at.Format("2006-01-02 15:04:05"), int(m.Interval.Seconds()))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress Overview:")
	totalStr := "UNKNOWN"
	if totalKnown {
		totalStr = fmt.Sprintf("%d", total)
	}
	fmt.Fprintf(w, "    %s, %d of %s objects have been migrated, ETA: %s\n",
		progress(now.committed, total, totalKnown),
		now.committed,
		totalStr,
		eta(now.committed, total, totalKnown, elapsed, now.at))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Processed Objects by Thread Groups:")
	writeStageLine(w, "observer thread", before.observed, now.observed, delta, elapsed)
	writeStageLine(w, "receiver threads", before.received, now.received, delta, elapsed)
	writeStageLine(w, "storer threads", before.stored, now.stored, delta, elapsed)
	writeStageLine(w, "committer threads", before.committed, now.committed, delta, elapsed)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Queue Usage:")
	for i, q := range m.Queues {
		writeQueueLine(w, q.Name, before.queueLens[i], now.queueLens[i], q.Cap)
	}
	fmt.Fprintln(w)
}

// progress renders the overall completion percentage.
func progress(committed uint64, total int64, known bool) string {
	if !known || total == 0 {
		return "UNKNOWN"
	}
	return fmt.Sprintf("%.2f%%", float64(committed)/float64(total)*100)
}

// eta projects the finish time from the average commit rate so far.
func eta(committed uint64, total int64, known bool, elapsed time.Duration, now time.Time) string {
	secs := int64(elapsed.Seconds())
	if !known || committed == 0 || secs == 0 {
		return "UNKNOWN"
	}
	etaSecs := int64(float64(total)/float64(committed)*float64(secs)) - secs
	if etaSecs < 0 {
		etaSecs = 0
	}
	h, min, s := etaSecs/3600, etaSecs/60%60, etaSecs%60
	return fmt.Sprintf("%s (%dh %02dm %02ds)",
		now.Add(time.Duration(etaSecs)*time.Second).Format("2006-01-02 15:04:05"), h, min, s)
}

func writeStageLine(w io.Writer, name string, last, now uint64, delta, elapsed time.Duration) {
	avgSpeed := 0.0
	if elapsed > 0 {
		avgSpeed = float64(now) / elapsed.Seconds()
	}
	curSpeed := 0.0
	if delta > 0 {
		curSpeed = float64(now-last) / delta.Seconds()
	}
	fmt.Fprintf(w, "    %-17s - processed: %7d, current speed: %7.1f Lo/s, average speed: %7.1f Lo/s\n",
		name, now, curSpeed, avgSpeed)
}

func writeQueueLine(w io.Writer, name string, lastLen, nowLen, size int) {
	percentage := 0.0
	if size > 0 {
		percentage = float64(nowLen) / float64(size) * 100
	}
	fmt.Fprintf(w, "    %-17s - used %6d of %6d, %6.2f%% full, changed by: %+6d\n",
		name, nowLen, size, percentage, nowLen-lastLen)
}
