// Package telemetry exposes a simulation run's live fleet state as
// Prometheus gauges, generalized from a single vLLM process's
// prometheus.GaugeVec metrics (runningRequests, waitingRequests,
// kvCacheUsagePercentage) to a whole fleet of simulated servers.
// Disabled entirely unless a listen address is configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetsim/fleetsim/fleet"
)

// Collector holds the Prometheus gauges tracking per-server fleet
// state. Call Observe once per reporting tick to refresh them from
// current server state.
type Collector struct {
	registry *prometheus.Registry

	kvCacheUsagePercentage *prometheus.GaugeVec
	pendingTokensPercent   *prometheus.GaugeVec
	prefillQueueSize       *prometheus.GaugeVec
	decodeQueueSize        *prometheus.GaugeVec
	admissionQueueLength   prometheus.Gauge
}

// NewCollector builds a Collector with its own registry, so a
// simulation run's metrics never collide with the default global
// registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		kvCacheUsagePercentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "kv_cache_usage_percentage",
			Help:      "Expected KV-cache occupancy after the current prefill batch, per server.",
		}, []string{"server"}),
		pendingTokensPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "pending_tokens_percentage",
			Help:      "Pending token footprint (decode + prefill) as a fraction of capacity, per server.",
		}, []string{"server"}),
		prefillQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "prefill_queue_size",
			Help:      "Number of requests waiting in a server's prefill store.",
		}, []string{"server"}),
		decodeQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "decode_queue_size",
			Help:      "Number of requests currently decoding on a server.",
		}, []string{"server"}),
		admissionQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetsim",
			Name:      "admission_queue_length",
			Help:      "Total number of requests waiting in the admission queue across all SLO classes.",
		}),
	}
	reg.MustRegister(
		c.kvCacheUsagePercentage,
		c.pendingTokensPercent,
		c.prefillQueueSize,
		c.decodeQueueSize,
		c.admissionQueueLength,
	)
	return c
}

// Observe refreshes every gauge from the current state of servers and
// the admission queue's pending count.
func (c *Collector) Observe(servers []*fleet.Server, admissionQueueLength int) {
	for _, s := range servers {
		c.kvCacheUsagePercentage.WithLabelValues(s.ID()).Set(s.ExpectedKVAfterPrefill())
		c.pendingTokensPercent.WithLabelValues(s.ID()).Set(s.PendingTokensPerc())
		c.prefillQueueSize.WithLabelValues(s.ID()).Set(float64(s.PrefillQueueSize()))
		c.decodeQueueSize.WithLabelValues(s.ID()).Set(float64(s.DecodeQueueSize()))
	}
	c.admissionQueueLength.Set(float64(admissionQueueLength))
}

// Server wraps an http.Server exposing the collector's registry at
// /metrics. A zero-value addr means telemetry is disabled; callers
// should not call Serve in that case.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr, not yet
// listening.
func NewServer(addr string, c *Collector) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until the server is shut down or fails to start; a
// clean Shutdown is never reported as an error.
func (s *Server) Serve() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
