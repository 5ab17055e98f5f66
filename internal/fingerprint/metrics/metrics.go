package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FingerprintsCreated  prometheus.Counter
	VerificationsRun     prometheus.Counter
	DegradedFingerprints prometheus.Counter
	ChainIntegrity       prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		FingerprintsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_fingerprint_created_total",
			Help: "Total number of payload fingerprints created",
		}),
		VerificationsRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_fingerprint_verifications_total",
			Help: "Total number of fingerprint integrity verifications",
		}),
		DegradedFingerprints: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rmfp_fingerprint_degraded_total",
			Help: "Total number of verifications that found integrity issues",
		}),
		ChainIntegrity: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rmfp_fingerprint_chain_integrity",
			Help:    "Distribution of chain-integrity scores at creation time",
			Buckets: []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
	}
}
