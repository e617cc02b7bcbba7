package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "readindex"

var (
	EntriesInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_inserted_total",
		Help:      "Total number of entries inserted into segment indexes",
	}, []string{"kind"})

	Lookups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Total number of lookups and reads served by the read index",
	})

	ReadResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_results_total",
		Help:      "Resolved read pieces by location kind",
	}, []string{"kind"})

	RedirectHops = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "redirect_hops",
		Help:      "Number of merge redirects followed to resolve a read piece",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	Merges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merges_total",
		Help:      "Merge operations by phase",
	}, []string{"phase"})

	Truncations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "truncations_total",
		Help:      "Total number of truncate calls",
	})

	TruncatedEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "truncated_entries_total",
		Help:      "Entries dropped entirely by truncation",
	})

	CorruptionSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "corruption_signals_total",
		Help:      "Index corruption conditions surfaced to callers",
	}, []string{"op"})

	ActiveSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_segments",
		Help:      "Number of segments with a registered index",
	})
)
