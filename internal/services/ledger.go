package services

import (
	"context"
	"time"

	"registration-system/internal/storage/sqlite"
	"registration-system/monitoring"
)

// CapacityLedger is the only writer of an event's registration counter.
// Apply runs inside the transition transaction; AfterCommit runs once the
// transaction is durable.
type CapacityLedger struct {
	cache   *AvailabilityCache
	monitor *monitoring.Monitor
}

func NewCapacityLedger(cache *AvailabilityCache, monitor *monitoring.Monitor) *CapacityLedger {
	return &CapacityLedger{cache: cache, monitor: monitor}
}

// Apply moves the counter by delta (+1, -1 or 0) and returns the new count.
// A +1 on a full event fails with status.ErrCapacityExceeded.
func (l *CapacityLedger) Apply(ctx context.Context, q *sqlite.Queries, eventID string, delta int, now time.Time) (int, error) {
	switch {
	case delta > 0:
		if err := q.IncrementRegistrations(ctx, eventID, now); err != nil {
			return 0, err
		}
	case delta < 0:
		if err := q.DecrementRegistrations(ctx, eventID, now); err != nil {
			return 0, err
		}
	}

	e, err := q.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return e.CurrentRegistrations, nil
}

func (l *CapacityLedger) AfterCommit(ctx context.Context, eventID string, current int) {
	l.cache.Invalidate(ctx, eventID)
	if l.monitor != nil {
		l.monitor.TrackCapacity(eventID, current)
	}
}
