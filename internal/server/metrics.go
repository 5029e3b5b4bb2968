package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "fiscal_sentinel"

type metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	scans     *prometheus.CounterVec
	integrity *prometheus.GaugeVec
	flagged   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, withRuntime bool) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scans_total",
			Help:      "Completed analyzer scans by analyzer and status.",
		}, []string{"analyzer", "status"}),
		integrity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "integrity_score",
			Help:      "Integrity score of the latest scan per analyzer.",
		}, []string{"analyzer"}),
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flagged_findings_total",
			Help:      "Findings flagged by analyzers.",
		}, []string{"analyzer"}),
	}

	reg.MustRegister(m.requests, m.duration, m.scans, m.integrity, m.flagged)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

func (m *metrics) observeScan(analyzer, status string, score float64, flagged int) {
	m.scans.WithLabelValues(analyzer, status).Inc()
	m.integrity.WithLabelValues(analyzer).Set(score)
	if flagged > 0 {
		m.flagged.WithLabelValues(analyzer).Add(float64(flagged))
	}
}
