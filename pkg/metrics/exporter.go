package metrics

import (
	"fmt"
	"net/http"

	"github.com/downfa11-org/readindex/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(EntriesInserted, Lookups, ReadResults, RedirectHops, Merges)
	prometheus.MustRegister(Truncations, TruncatedEntries, CorruptionSignals, ActiveSegments)
	prometheus.MustRegister(CacheHits, CacheMisses, CacheEvictions, CacheChecksumFailures, StorageBytes, StorageErrors)
}

// StartMetricsServer serves /metrics on the given port in the background.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		util.Info("Prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("metrics server stopped: %v", err)
		}
	}()
	return srv
}

// RecordReadResult counts one resolved read piece and the redirects followed to reach it.
func RecordReadResult(kind string, hops int) {
	ReadResults.WithLabelValues(kind).Inc()
	RedirectHops.Observe(float64(hops))
}
