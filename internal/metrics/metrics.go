package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vetric_auth_flow_outcomes_total",
		Help: "Auth flow submissions by operation, surface and outcome.",
	}, []string{"operation", "surface", "outcome"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vetric_identity_provider_duration_seconds",
		Help:    "Latency of identity provider calls.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation"})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vetric_identity_provider_errors_total",
		Help: "Identity provider failures by auth/* code.",
	}, []string{"operation", "code"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vetric_sessions_active",
		Help: "Live sessions in the session projection.",
	})

	IdentityEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vetric_identity_events_total",
		Help: "Identity change notifications applied to the session projection.",
	}, []string{"kind"})
)

// Flow outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation_error"
	OutcomeProvider   = "provider_error"
	OutcomeRejected   = "rejected"
	OutcomeDiscarded  = "discarded"
)
