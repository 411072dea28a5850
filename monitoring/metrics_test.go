package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"registration-system/internal/storage/sqlite"
)

type stubSource struct {
	rows []sqlite.CapacityRow
	err  error
}

func (s stubSource) CapacityReport(context.Context) ([]sqlite.CapacityRow, error) {
	return s.rows, s.err
}

func TestMonitor_Collect(t *testing.T) {
	m := NewMonitor(stubSource{rows: []sqlite.CapacityRow{
		{EventID: "m-limited", MaxSpots: sql.NullInt64{Int64: 10, Valid: true}, CurrentRegistrations: 4, Approved: 3},
		{EventID: "m-open", CurrentRegistrations: 7, Approved: 7},
	}}, time.Minute)

	m.Collect(context.Background())

	assert.Equal(t, 4.0, testutil.ToFloat64(eventSpotsTaken.WithLabelValues("m-limited")))
	assert.Equal(t, 10.0, testutil.ToFloat64(eventSpotsMax.WithLabelValues("m-limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(capacityDrift.WithLabelValues("m-limited")))
	assert.Equal(t, 7.0, testutil.ToFloat64(eventSpotsTaken.WithLabelValues("m-open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(capacityDrift.WithLabelValues("m-open")))
}

func TestMonitor_CollectErrorKeepsGauges(t *testing.T) {
	eventSpotsTaken.WithLabelValues("m-err").Set(3)

	NewMonitor(stubSource{err: errors.New("db down")}, 0).Collect(context.Background())

	assert.Equal(t, 3.0, testutil.ToFloat64(eventSpotsTaken.WithLabelValues("m-err")))
}

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor(stubSource{}, 0)

	before := testutil.ToFloat64(registrationTransitions.WithLabelValues("pending", "approved"))
	m.TrackTransition("pending", "approved")
	m.TrackTransition("pending", "approved")
	assert.Equal(t, before+2, testutil.ToFloat64(registrationTransitions.WithLabelValues("pending", "approved")))

	before = testutil.ToFloat64(submissions.WithLabelValues("capacity_exceeded"))
	m.TrackSubmission("capacity_exceeded")
	assert.Equal(t, before+1, testutil.ToFloat64(submissions.WithLabelValues("capacity_exceeded")))

	before = testutil.ToFloat64(notificationDeliveries.WithLabelValues("push", "failed"))
	m.TrackDelivery("push", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(notificationDeliveries.WithLabelValues("push", "failed")))

	m.TrackCapacity("m-live", 9)
	assert.Equal(t, 9.0, testutil.ToFloat64(eventSpotsTaken.WithLabelValues("m-live")))
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewMonitor(stubSource{}, time.Millisecond).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
