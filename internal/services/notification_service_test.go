package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-system/internal/notify"
	"registration-system/internal/status"
	"registration-system/models"
)

func TestDispatchPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.createEvent(t, nil)
	reg := env.submit(t, "cand-a", event.ID)

	_, err := env.registrations.Approve(ctx, organizer, reg.ID, strPtr("Bring ID"))
	require.NoError(t, err)

	n, err := env.notifications.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inbox, err := env.notifications.ListInbox(ctx, candidate("cand-a"), 0, 0)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, 1, inbox.Unread)
	got := inbox.Notifications[0]
	assert.Equal(t, "Registration approved for Go Meetup", got.Subject)
	assert.Equal(t, `Your registration for "Go Meetup" has been approved!`, got.Message)
	assert.Equal(t, models.RegistrationPending, got.PreviousStatus)
	assert.Equal(t, reg.ID, got.RegistrationID)

	sent := env.publisher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.RegistrationApproved, sent[0].Status)
	assert.Equal(t, []string{"Note from organizer: Bring ID"}, sent[0].Details)

	n, err = env.notifications.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a dispatched change is not delivered again")
	assert.Len(t, env.publisher.Sent(), 1)
}

func TestDispatchPending_OnePerTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.createEvent(t, nil)
	reg := env.submit(t, "cand-a", event.ID)

	_, err := env.registrations.Approve(ctx, organizer, reg.ID, nil)
	require.NoError(t, err)
	_, err = env.registrations.Reject(ctx, organizer, reg.ID, strPtr("Venue changed"), nil)
	require.NoError(t, err)
	_, err = env.registrations.Cancel(ctx, candidate("cand-a"), reg.ID)
	require.NoError(t, err)

	n, err := env.notifications.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inbox, err := env.notifications.ListInbox(ctx, candidate("cand-a"), 10, 0)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 2)

	statuses := []models.RegistrationStatus{inbox.Notifications[0].Status, inbox.Notifications[1].Status}
	assert.ElementsMatch(t, []models.RegistrationStatus{models.RegistrationApproved, models.RegistrationRejected}, statuses)
}

func TestDispatchPending_PushFailureStillDelivers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.publisher.err = errors.New("pubnub unavailable")

	event := env.createEvent(t, nil)
	reg := env.submit(t, "cand-a", event.ID)
	_, err := env.registrations.Reject(ctx, organizer, reg.ID, strPtr("Full"), nil)
	require.NoError(t, err)

	n, err := env.notifications.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inbox, err := env.notifications.ListInbox(ctx, candidate("cand-a"), 10, 0)
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 1)

	pending, err := env.store.PendingStatusChanges(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "push failures are not retried")
}

func TestDispatchPending_AutoApprovalWithDiscard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.notifications.publisher = notify.Discard{}

	event := env.createEvent(t, func(in *EventInput) { in.RequiresApproval = boolPtr(false) })
	env.submit(t, "cand-a", event.ID)

	n, err := env.notifications.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInboxReadState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.createEvent(t, nil)
	first := env.submit(t, "cand-a", event.ID)
	other := env.createEvent(t, nil)
	second := env.submit(t, "cand-a", other.ID)

	_, err := env.registrations.Approve(ctx, organizer, first.ID, nil)
	require.NoError(t, err)
	_, err = env.registrations.Approve(ctx, organizer, second.ID, nil)
	require.NoError(t, err)
	_, err = env.notifications.DispatchPending(ctx)
	require.NoError(t, err)

	inbox, err := env.notifications.ListInbox(ctx, candidate("cand-a"), 1, 0)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, 2, inbox.Unread)
	id := inbox.Notifications[0].ID

	err = env.notifications.MarkRead(ctx, candidate("cand-b"), id)
	assert.ErrorIs(t, err, status.ErrNotificationNotFound)

	require.NoError(t, env.notifications.MarkRead(ctx, candidate("cand-a"), id))
	require.NoError(t, env.notifications.MarkRead(ctx, candidate("cand-a"), id))

	inbox, err = env.notifications.ListInbox(ctx, candidate("cand-a"), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inbox.Unread)

	n, err := env.notifications.MarkAllRead(ctx, candidate("cand-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	inbox, err = env.notifications.ListInbox(ctx, candidate("cand-a"), 500, -3)
	require.NoError(t, err)
	assert.Zero(t, inbox.Unread)
	assert.Equal(t, maxInboxLimit, inbox.Limit)
	assert.Zero(t, inbox.Offset)
}

func TestNotificationService_Trigger(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan struct{})
	go func() {
		env.notifications.Trigger()
		env.notifications.Trigger()
		env.notifications.Trigger()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked")
	}
}

func TestNotificationService_RunDispatchesOnTrigger(t *testing.T) {
	env := newTestEnv(t)
	event := env.createEvent(t, nil)
	reg := env.submit(t, "cand-a", event.ID)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		env.notifications.Run(ctx, time.Hour)
		close(stopped)
	}()

	// Approve triggers the dispatcher after commit.
	_, err := env.registrations.Approve(context.Background(), organizer, reg.ID, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(env.publisher.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
