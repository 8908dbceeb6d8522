// Package metrics collects and exposes Prometheus metrics for token
// rotation, chat streams and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements session.Observer and chat.Observer.
type Collector struct {
	rotations       *prometheus.CounterVec
	lineageRevoked  *prometheus.CounterVec
	entriesRevoked  *prometheus.CounterVec
	streamsActive   prometheus.Gauge
	streamsFinished *prometheus.CounterVec
	streamFragments prometheus.Histogram
	streamDuration  prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// NewCollector registers every metric with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_token_rotations_total",
			Help: "Refresh token rotation attempts by outcome.",
		}, []string{"outcome"}),
		lineageRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_lineage_revocations_total",
			Help: "Lineage-wide revocations by reason.",
		}, []string{"reason"}),
		entriesRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_lineage_revoked_entries_total",
			Help: "Refresh entries revoked by lineage-wide revocations.",
		}, []string{"reason"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_streams_active",
			Help: "Chat streams currently generating.",
		}),
		streamsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_streams_finished_total",
			Help: "Finished chat streams by outcome.",
		}, []string{"outcome"}),
		streamFragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_stream_fragments",
			Help:    "Fragments delivered per chat stream.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_stream_duration_seconds",
			Help:    "Wall time of chat streams.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "HTTP responses by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.rotations,
		c.lineageRevoked,
		c.entriesRevoked,
		c.streamsActive,
		c.streamsFinished,
		c.streamFragments,
		c.streamDuration,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

func (c *Collector) RotationOutcome(outcome string) {
	c.rotations.WithLabelValues(outcome).Inc()
}

func (c *Collector) LineageRevoked(reason string, entries int) {
	c.lineageRevoked.WithLabelValues(reason).Inc()
	c.entriesRevoked.WithLabelValues(reason).Add(float64(entries))
}

func (c *Collector) StreamStarted() {
	c.streamsActive.Inc()
}

func (c *Collector) StreamFinished(outcome string, fragments int, elapsed time.Duration) {
	c.streamsActive.Dec()
	c.streamsFinished.WithLabelValues(outcome).Inc()
	c.streamFragments.Observe(float64(fragments))
	c.streamDuration.Observe(elapsed.Seconds())
}

// RecordHTTP records one served request.
func (c *Collector) RecordHTTP(method string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
