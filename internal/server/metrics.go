package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	routeMetadata = "metadata"
	routeDownload = "download"

	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeInvalid = "invalid"
)

// Metrics holds the server's Prometheus collectors. Each server owns its own
// registry so several can coexist in one process (tests).
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	extraction    *prometheus.HistogramVec
	downloadBytes prometheus.Counter
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytmeta_requests_total",
				Help: "Metadata and download requests by outcome",
			},
			[]string{"route", "outcome"},
		),
		extraction: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ytmeta_extraction_duration_seconds",
				Help: "Time spent in the extractor",
				// downloads can run for minutes
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
			},
			[]string{"operation"},
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytmeta_download_bytes_total",
				Help: "Bytes of finished downloads sent to clients",
			},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.extraction,
		m.downloadBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) countRequest(route, outcome string) {
	m.requests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) observeExtraction(operation string, start time.Time) {
	m.extraction.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addDownloadBytes(n int64) {
	if n > 0 {
		m.downloadBytes.Add(float64(n))
	}
}
