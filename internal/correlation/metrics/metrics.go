package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DocumentsStored      prometheus.Counter
	EmptyDocumentsSeen   prometheus.Counter
	CorrelationChecks    prometheus.Counter
	SharedPIIDetected    prometheus.Counter
	CrossSessionLookups  prometheus.Counter
	CrossSessionHits     prometheus.Counter
	SessionsCleared      prometheus.Counter
	HashingDurationMs    prometheus.Histogram
	MatchesPerDocument   prometheus.Histogram
	ForensicReportsBuilt prometheus.Counter
	ExpiredRecordsPurged prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		DocumentsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_documents_stored_total",
			Help: "Total number of document correlation records stored",
		}),
		EmptyDocumentsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_empty_documents_total",
			Help: "Total number of documents processed with zero PII matches",
		}),
		CorrelationChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_checks_total",
			Help: "Total number of cross-document correlation checks",
		}),
		SharedPIIDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_shared_pii_total",
			Help: "Total number of correlation checks that found shared PII",
		}),
		CrossSessionLookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_cross_session_lookups_total",
			Help: "Total number of cross-session reverse-index lookups",
		}),
		CrossSessionHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_cross_session_hits_total",
			Help: "Total number of cross-session lookups returning at least one match",
		}),
		SessionsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_sessions_cleared_total",
			Help: "Total number of sessions cleared on request",
		}),
		HashingDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rmfp_correlation_hashing_duration_ms",
			Help:    "Latency of hashing one document's detections in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		MatchesPerDocument: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rmfp_correlation_matches_per_document",
			Help:    "Distribution of hashed PII matches per document",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		ForensicReportsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_forensic_reports_total",
			Help: "Total number of cross-session forensic reports generated",
		}),
		ExpiredRecordsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_correlation_expired_records_purged_total",
			Help: "Total number of expired correlation records removed by the sweep",
		}),
	}
}
