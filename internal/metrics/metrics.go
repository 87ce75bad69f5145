// Package metrics holds the Prometheus collectors for the push pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_push_outcomes_total",
		Help: "Dispatch outcomes by final status and the channel that produced them.",
	}, []string{"status", "channel"})

	ChannelAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_push_channel_attempts_total",
		Help: "Calls made to each delivery channel, by result status.",
	}, []string{"channel", "status"})

	JobAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contact_push_job_attempts_total",
		Help: "Dispatch attempts made by the job runner, including retries.",
	})

	JobsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contact_push_jobs_abandoned_total",
		Help: "Jobs given up after exhausting their retry budget.",
	})

	TokenInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contact_push_token_invalidations_total",
		Help: "Contact push tokens cleared after the provider rejected them.",
	})

	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_push_credential_refresh_total",
		Help: "OAuth token exchanges against the provider token endpoint.",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
