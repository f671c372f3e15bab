// Package metrics exposes the pipeline's own Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_samples_ingested_total",
			Help: "Total number of samples accepted by the ingress by endpoint",
		},
		[]string{"endpoint"},
	)

	SamplesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_samples_rejected_total",
			Help: "Total number of samples rejected by ingress validation",
		},
		[]string{"endpoint"},
	)

	AlarmsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_alarms_emitted_total",
			Help: "Total number of alarm state transition events emitted by state",
		},
		[]string{"state"},
	)

	DocumentsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_documents_persisted_total",
			Help: "Total number of documents written to the store by doc type",
		},
		[]string{"doc_type"},
	)

	PersistErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_persist_errors_total",
			Help: "Total number of failed store writes by doc type",
		},
		[]string{"doc_type"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_notifications_sent_total",
			Help: "Total number of notifications delivered by method type",
		},
		[]string{"type"},
	)

	NotificationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_notification_errors_total",
			Help: "Total number of failed notification deliveries by method type",
		},
		[]string{"type"},
	)

	ProcessorsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skywatch_processors_live",
			Help: "Number of threshold processors currently in the catalog",
		},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
