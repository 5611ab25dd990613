package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	FilesWalkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_files_walked_total",
		Help: "Total number of candidate files produced by the directory walker.",
	})

	WalkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_walk_errors_total",
		Help: "Total number of unreadable directories or entries skipped during walks.",
	})

	SymbolsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_symbols_indexed_total",
		Help: "Total number of symbol declarations inserted into the registry.",
	})

	FileLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_file_loads_total",
		Help: "Total number of file loads by method (mmap, read, failed).",
	}, []string{"method"})

	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_registry_symbols",
		Help: "Number of distinct symbol names in the registry after the last audit.",
	})

	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_findings_total",
		Help: "Total number of findings produced, by kind.",
	}, []string{"kind"})

	PurgeOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_purge_outcomes_total",
		Help: "Remediation outcomes by stage (modified, skipped, read, write, rename).",
	}, []string{"stage"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribe_phase_seconds",
		Help:    "Time spent per pipeline phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
)
