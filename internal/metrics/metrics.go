package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siegewatcher_reports_parsed_total",
			Help: "Total number of forwarded market reports handled",
		},
		[]string{"status"}, // ok, rejected
	)

	ObservationsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siegewatcher_observations_stored_total",
			Help: "Total number of observations written to the ledger",
		},
		[]string{"status"}, // inserted, duplicate
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siegewatcher_alerts_created_total",
			Help: "Total number of alert creation attempts",
		},
		[]string{"outcome"}, // created, rejected
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siegewatcher_alerts_resolved_total",
			Help: "Total number of alerts moved to a terminal status",
		},
		[]string{"status"}, // completed, expired, trend_changed, cancelled, error
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siegewatcher_notification_failures_total",
			Help: "Total number of failed notification deliveries",
		},
	)
)

// RecordReport counts one handled forward.
func RecordReport(ok bool) {
	status := "ok"
	if !ok {
		status = "rejected"
	}
	ReportsParsed.WithLabelValues(status).Inc()
}

// RecordObservation counts one ledger write attempt.
func RecordObservation(inserted bool) {
	status := "inserted"
	if !inserted {
		status = "duplicate"
	}
	ObservationsStored.WithLabelValues(status).Inc()
}

// RecordAlertCreated counts one creation attempt.
func RecordAlertCreated(created bool) {
	outcome := "created"
	if !created {
		outcome = "rejected"
	}
	AlertsCreated.WithLabelValues(outcome).Inc()
}

// RecordAlertResolved counts one terminal transition.
func RecordAlertResolved(status string) {
	AlertsResolved.WithLabelValues(status).Inc()
}
