package generate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcomes.
const (
	outcomeOK       = "ok"
	outcomeSentinel = "sentinel"
	outcomeError    = "error"
	outcomeSkipped  = "skipped"
	outcomeBusy     = "busy"
)

var invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llm_complete_invocations_total",
	Help: "Completion command invocations labelled by outcome",
}, []string{"outcome"})

var modelDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "llm_complete_model_duration_seconds",
	Help:    "Latency of the model call",
	Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
})

var promptBytes = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "llm_complete_prompt_bytes",
	Help:    "Size of the user turn sent to the model",
	Buckets: prometheus.ExponentialBuckets(256, 4, 8),
})

func recordOutcome(outcome string) {
	invocationsTotal.WithLabelValues(outcome).Inc()
}

func observeModel(d time.Duration, prompt int) {
	modelDuration.Observe(d.Seconds())
	promptBytes.Observe(float64(prompt))
}
