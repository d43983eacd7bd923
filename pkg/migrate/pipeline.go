package migrate

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tocco/lomigrate/internal/logger"
)

// Config tunes the pipeline. Zero values are replaced by the defaults
// below, which match the tool's CLI defaults.
type Config struct {
	ReceiverThreads  int
	StorerThreads    int
	CommitterThreads int

	// Queue bounds. The store queue is intentionally the smallest: every
	// slot on it may hold a materialized payload, so its bound (plus the
	// receiver and storer thread counts) caps resident payloads.
	ReceiverQueue  int
	StorerQueue    int
	CommitterQueue int

	CommitChunk int
	InMemMax    int64 // bytes
	Interval    time.Duration
}

// Defaults applied by Pipeline for unset Config fields.
const (
	DefaultReceiverThreads  = 2
	DefaultStorerThreads    = 5
	DefaultCommitterThreads = 2
	DefaultReceiverQueue    = 8192
	DefaultStorerQueue      = 1024
	DefaultCommitterQueue   = 8192
	DefaultCommitChunk      = 100
	DefaultInMemMax         = 1024 * 1024
	DefaultInterval         = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ReceiverThreads <= 0 {
		c.ReceiverThreads = DefaultReceiverThreads
	}
	if c.StorerThreads <= 0 {
		c.StorerThreads = DefaultStorerThreads
	}
	if c.CommitterThreads <= 0 {
		c.CommitterThreads = DefaultCommitterThreads
	}
	if c.ReceiverQueue <= 0 {
		c.ReceiverQueue = DefaultReceiverQueue
	}
	if c.StorerQueue <= 0 {
		c.StorerQueue = DefaultStorerQueue
	}
	if c.CommitterQueue <= 0 {
		c.CommitterQueue = DefaultCommitterQueue
	}
	if c.CommitChunk <= 0 {
		c.CommitChunk = DefaultCommitChunk
	}
	if c.InMemMax <= 0 {
		c.InMemMax = DefaultInMemMax
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Pipeline wires the worker groups together over three bounded queues:
//
//	observer -> Qr -> receivers -> Qs -> storers -> Qc -> committers
//
// Back-pressure is the queues themselves: a full queue parks its senders.
// Closing cascades downstream: the observer closes Qr when the scan ends,
// the last receiver closes Qs, the last storer closes Qc, and the
// committers exit when Qc drains.
type Pipeline struct {
	cfg   Config
	src   Source
	tgt   Target
	stats *Stats

	qr chan *Lo
	qs chan *Lo
	qc chan *Lo

	// MonitorOut receives the status blocks; defaults to os.Stdout.
	MonitorOut io.Writer
}

// New creates a pipeline over the given source and target.
func New(cfg Config, src Source, tgt Target) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:        cfg,
		src:        src,
		tgt:        tgt,
		stats:      NewStats(),
		qr:         make(chan *Lo, cfg.ReceiverQueue),
		qs:         make(chan *Lo, cfg.StorerQueue),
		qc:         make(chan *Lo, cfg.CommitterQueue),
		MonitorOut: os.Stdout,
	}
}

// Stats exposes the run's shared counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Queues exposes depth probes for the monitor and the metrics exporter.
func (p *Pipeline) Queues() []QueueProbe {
	return []QueueProbe{
		{Name: "receive queue", Cap: p.cfg.ReceiverQueue, Len: func() int { return len(p.qr) }},
		{Name: "store queue", Cap: p.cfg.StorerQueue, Len: func() int { return len(p.qs) }},
		{Name: "commit queue", Cap: p.cfg.CommitterQueue, Len: func() int { return len(p.qc) }},
	}
}

// Run executes the migration until the source is exhausted, the context is
// cancelled, or a stage reports a fatal error.
//
// Cancellation drains rather than aborts: the observer stops emitting,
// descriptors still in the receive and store queues are dropped (their rows
// stay sha2 IS NULL), and everything that already reached the commit queue
// is committed with a context that survives the cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	cfg := p.cfg

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Commits during shutdown still need a live context.
	commitCtx := context.WithoutCancel(ctx)

	qr, qs, qc := p.qr, p.qs, p.qc

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	fatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			p.stats.Cancel()
			cancel()
		})
	}

	var workers sync.WaitGroup

	// counter: one shot, resolves the monitor's totals
	workers.Add(1)
	go func() {
		defer workers.Done()
		NewCounter(p.stats, p.src).Run(runCtx)
	}()

	// observer: the single producer of Qr
	workers.Add(1)
	go func() {
		defer workers.Done()
		defer close(qr)
		if err := NewObserver(p.stats, p.src).Run(runCtx, qr); err != nil {
			logger.Error("source scan failed", logger.KeyError, err)
			fatal(err)
		}
	}()

	// receivers
	var receivers sync.WaitGroup
	for i := 0; i < cfg.ReceiverThreads; i++ {
		receivers.Add(1)
		go func(worker int) {
			defer receivers.Done()
			NewReceiver(p.stats, p.src, cfg.InMemMax, worker).Run(runCtx, qr, qs)
		}(i)
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		receivers.Wait()
		close(qs)
	}()

	// storers
	var storers sync.WaitGroup
	for i := 0; i < cfg.StorerThreads; i++ {
		storers.Add(1)
		go func(worker int) {
			defer storers.Done()
			NewStorer(p.stats, p.tgt, worker).Run(runCtx, qs, qc)
		}(i)
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		storers.Wait()
		close(qc)
	}()

	// committers
	for i := 0; i < cfg.CommitterThreads; i++ {
		workers.Add(1)
		go func(worker int) {
			defer workers.Done()
			if err := NewCommitter(p.stats, p.src, cfg.CommitChunk, worker).Run(commitCtx, qc); err != nil {
				logger.Error("commit failed", logger.KeyError, err)
				fatal(err)
			}
		}(i)
	}

	// monitor: exits after all workers, printing a final summary
	monitorDone := make(chan struct{})
	monitor := &Monitor{
		Stats:    p.stats,
		Interval: cfg.Interval,
		Out:      p.MonitorOut,
		Queues:   p.Queues(),
	}
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		monitor.Run(monitorDone)
	}()

	workers.Wait()
	close(monitorDone)
	monitorWG.Wait()

	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}
