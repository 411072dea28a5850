package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"registration-system/internal/storage/sqlite"
)

var (
	registrationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_transitions_total",
			Help: "Registration status transitions",
		},
		[]string{"from", "to"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_submissions_total",
			Help: "Registration submissions by outcome",
		},
		[]string{"outcome"},
	)

	eventSpotsTaken = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_registrations_current",
			Help: "Current approved registrations per event",
		},
		[]string{"event_id"},
	)

	eventSpotsMax = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_registrations_max",
			Help: "Spot limit per event, absent for unlimited events",
		},
		[]string{"event_id"},
	)

	capacityDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_capacity_drift",
			Help: "Counter minus approved registrations per event",
		},
		[]string{"event_id"},
	)

	notificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	outboxLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_outbox_lag_seconds",
			Help:    "Time between a status change and its dispatch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

// CapacitySource reports event counters for the periodic gauges.
type CapacitySource interface {
	CapacityReport(ctx context.Context) ([]sqlite.CapacityRow, error)
}

type Monitor struct {
	source   CapacitySource
	interval time.Duration
}

func NewMonitor(source CapacitySource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{source: source, interval: interval}
}

// Run refreshes the capacity gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Collect(ctx)
		}
	}
}

func (m *Monitor) Collect(ctx context.Context) {
	rows, err := m.source.CapacityReport(ctx)
	if err != nil {
		slog.Error("Failed to collect capacity metrics", "error", err)
		return
	}

	for _, r := range rows {
		eventSpotsTaken.WithLabelValues(r.EventID).Set(float64(r.CurrentRegistrations))
		capacityDrift.WithLabelValues(r.EventID).Set(float64(r.Drift()))
		if r.MaxSpots.Valid {
			eventSpotsMax.WithLabelValues(r.EventID).Set(float64(r.MaxSpots.Int64))
		} else {
			eventSpotsMax.DeleteLabelValues(r.EventID)
		}
	}
}

func (m *Monitor) TrackTransition(from, to string) {
	registrationTransitions.WithLabelValues(from, to).Inc()
}

func (m *Monitor) TrackSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// TrackCapacity records an event's counter right after a ledger change.
func (m *Monitor) TrackCapacity(eventID string, current int) {
	eventSpotsTaken.WithLabelValues(eventID).Set(float64(current))
}

func (m *Monitor) TrackDelivery(channel, outcome string) {
	notificationDeliveries.WithLabelValues(channel, outcome).Inc()
}

func (m *Monitor) TrackOutboxLag(d time.Duration) {
	outboxLag.Observe(d.Seconds())
}
