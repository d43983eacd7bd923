// Package metrics exposes the pipeline's counters to Prometheus.
//
// The pipeline itself only maintains atomic counters; this package bridges
// them into a registry via CounterFunc/GaugeFunc, so scraping adds no
// contention to the hot path. The listener is optional and off by default.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tocco/lomigrate/internal/logger"
	"github.com/tocco/lomigrate/pkg/migrate"
)

const namespace = "lomigrate"

// NewRegistry builds a registry over the run's stats and queue probes.
func NewRegistry(stats *migrate.Stats, queues []migrate.QueueProbe) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, value func() uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value()) })
	}

	reg.MustRegister(
		counter("objects_observed_total", "Descriptors emitted by the observer.", stats.Observed),
		counter("objects_received_total", "Payloads fetched and hashed.", stats.Received),
		counter("objects_stored_total", "Objects uploaded to the bucket.", stats.Stored),
		counter("objects_committed_total", "Hashes committed to the source table.", stats.Committed),
		counter("objects_dropped_total", "Objects that could not be migrated.", stats.Dropped),
		counter("retries_total", "Per-object retry attempts.", stats.Retried),
		counter("stale_commits_total", "Commit updates that matched an already-committed row.", stats.Stale),
	)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "objects_remaining",
		Help:      "Rows still to migrate at scan time; -1 until counted.",
	}, func() float64 {
		n, ok := stats.Remaining()
		if !ok {
			return -1
		}
		return float64(n)
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "objects_total",
		Help:      "Total rows in the source table; -1 until counted.",
	}, func() float64 {
		n, ok := stats.Total()
		if !ok {
			return -1
		}
		return float64(n)
	}))

	for _, q := range queues {
		q := q
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_depth",
			Help:        "Descriptors currently enqueued.",
			ConstLabels: prometheus.Labels{"queue": q.Name},
		}, func() float64 { return float64(q.Len()) }))
	}

	return reg
}

// Serve runs the metrics listener until ctx is cancelled. Errors other
// than the expected close are logged, never fatal: metrics are advisory.
func Serve(ctx context.Context, port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener failed", logger.KeyError, err)
	}
}
