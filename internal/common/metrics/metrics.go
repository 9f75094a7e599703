// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_processed_total",
			Help: "Total number of inbound messages processed",
		},
		[]string{"channel", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_processing_duration_seconds",
			Help: "End-to-end message processing duration in seconds",
		},
		[]string{"channel"},
	)

	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_guard_rejections_total",
			Help: "Messages rejected by the rate limiter or spam guard",
		},
		[]string{"reason"},
	)

	BlacklistedSenders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_blacklisted_senders",
			Help: "Current number of blacklisted senders",
		},
	)

	ModelInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_model_invocations_total",
			Help: "Language model invocations by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_model_tokens_total",
			Help: "Token usage by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_retrieval_duration_seconds",
			Help: "Knowledge retrieval call duration in seconds",
		},
		[]string{"outcome"},
	)

	TakeoverActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_takeover_active",
			Help: "Conversations currently held by a human operator",
		},
	)

	GoldenSetAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_goldenset_accuracy",
			Help: "Accuracy of the most recent golden-set run",
		},
		[]string{"kind"},
	)
)
