// Package metrics exposes prometheus counters for the validation pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "jobs_created_total",
		Help:      "Total validation jobs created.",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "jobs_completed_total",
		Help:      "Total validation jobs completed.",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "jobs_failed_total",
		Help:      "Total validation jobs marked failed.",
	})
	ChunksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "chunks_processed_total",
		Help:      "Total chunks successfully verified.",
	})
	VerifierAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "verifier_attempts_total",
		Help:      "Total verification API attempts, including retries.",
	})
	VerifierRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "verifier_retries_total",
		Help:      "Total verification API retries after a failed attempt.",
	})
	EmailsValidated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "list_validator",
		Name:      "emails_validated_total",
		Help:      "Total emails with a recorded verdict.",
	})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(
		JobsCreated, JobsCompleted, JobsFailed,
		ChunksProcessed, VerifierAttempts, VerifierRetries,
		EmailsValidated,
	)
}

// Handler returns the /metrics handler for mounting on the main router.
func Handler() http.Handler {
	return promhttp.Handler()
}
