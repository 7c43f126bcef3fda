package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	ScansStarted     prometheus.Counter
	ScansSucceeded   prometheus.Counter
	ScansFailed      prometheus.Counter
	ScansRateLimited prometheus.Counter
	MessagesScanned  prometheus.Counter
	MessagesSkipped  prometheus.Counter
	BrokerMatches    prometheus.Counter
	ResponsesFound   prometheus.Counter
	RequestsUpdated  prometheus.Counter
	ScanDuration     prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ScansStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_scans_started_total",
			Help: "Total number of scan jobs started",
		}),
		ScansSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_scans_succeeded_total",
			Help: "Total number of scan jobs that completed successfully",
		}),
		ScansFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_scans_failed_total",
			Help: "Total number of scan jobs that failed after all retries",
		}),
		ScansRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_scans_rate_limited_total",
			Help: "Total number of scan jobs rescheduled due to provider rate limits",
		}),
		MessagesScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_messages_scanned_total",
			Help: "Total number of provider messages processed",
		}),
		MessagesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_messages_skipped_total",
			Help: "Total number of malformed messages skipped",
		}),
		BrokerMatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_broker_matches_total",
			Help: "Total number of messages classified as broker mail",
		}),
		ResponsesFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_responses_found_total",
			Help: "Total number of broker responses recorded",
		}),
		RequestsUpdated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "datasweep_requests_updated_total",
			Help: "Total number of deletion requests transitioned by responses",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "datasweep_scan_duration_seconds",
			Help:    "Time spent running scan jobs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
