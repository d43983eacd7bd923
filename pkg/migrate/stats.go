package migrate

import "sync/atomic"

// Stats is the set of counters shared by every worker and sampled by the
// monitor. Counters are monotone and updated with relaxed atomics; readers
// never take a lock. One Stats instance lives for the whole run.
type Stats struct {
	cancelled atomic.Bool

	// remaining/total are gauges resolved once by the counter worker;
	// -1 means not known yet.
	remaining atomic.Int64
	total     atomic.Int64

	observed  atomic.Uint64
	received  atomic.Uint64
	stored    atomic.Uint64
	committed atomic.Uint64

	retried atomic.Uint64
	dropped atomic.Uint64
	stale   atomic.Uint64
}

// NewStats returns a Stats with unknown totals.
func NewStats() *Stats {
	s := &Stats{}
	s.remaining.Store(-1)
	s.total.Store(-1)
	return s
}

// Cancel records that the run has been cancelled. Workers do not read this
// flag; they stop when the run context is cancelled.
func (s *Stats) Cancel() { s.cancelled.Store(true) }

// IsCancelled reports whether the run has been cancelled.
func (s *Stats) IsCancelled() bool { return s.cancelled.Load() }

// SetCounts resolves the remaining/total gauges.
func (s *Stats) SetCounts(remaining, total int64) {
	s.remaining.Store(remaining)
	s.total.Store(total)
}

// Remaining returns the number of rows that still needed migration at scan
// time; ok is false while the count is unresolved.
func (s *Stats) Remaining() (n int64, ok bool) {
	n = s.remaining.Load()
	return n, n >= 0
}

// Total returns the total row count; ok is false while unresolved.
func (s *Stats) Total() (n int64, ok bool) {
	n = s.total.Load()
	return n, n >= 0
}

func (s *Stats) AddObserved(n uint64)  { s.observed.Add(n) }
func (s *Stats) AddReceived(n uint64)  { s.received.Add(n) }
func (s *Stats) AddStored(n uint64)    { s.stored.Add(n) }
func (s *Stats) AddCommitted(n uint64) { s.committed.Add(n) }
func (s *Stats) AddRetried(n uint64)   { s.retried.Add(n) }
func (s *Stats) AddDropped(n uint64)   { s.dropped.Add(n) }
func (s *Stats) AddStale(n uint64)     { s.stale.Add(n) }

// Observed is the number of descriptors emitted by the observer.
func (s *Stats) Observed() uint64 { return s.observed.Load() }

// Received is the number of payloads fetched and hashed.
func (s *Stats) Received() uint64 { return s.received.Load() }

// Stored is the number of objects uploaded (or idempotently skipped).
func (s *Stats) Stored() uint64 { return s.stored.Load() }

// Committed is the number of descriptors whose batch commit succeeded.
func (s *Stats) Committed() uint64 { return s.committed.Load() }

// Retried is the total number of per-descriptor retry attempts.
func (s *Stats) Retried() uint64 { return s.retried.Load() }

// Dropped is the number of objects that could not be migrated: invalid
// rows, missing Large Objects, exhausted retries, interrupted in flight.
func (s *Stats) Dropped() uint64 { return s.dropped.Load() }

// Stale is the number of commit updates that matched no row because the
// row was already committed by an earlier run.
func (s *Stats) Stale() uint64 { return s.stale.Load() }
