package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"registration-system/internal/notify"
	"registration-system/internal/storage/sqlite"
	"registration-system/models"
	"registration-system/monitoring"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// NotificationService drains the status change outbox into user inboxes and
// the push channel.
type NotificationService struct {
	store     *sqlite.Store
	publisher notify.Publisher
	monitor   *monitoring.Monitor
	batchSize int
	wake      chan struct{}
	now       func() time.Time
}

func NewNotificationService(store *sqlite.Store, publisher notify.Publisher, monitor *monitoring.Monitor, batchSize int) *NotificationService {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &NotificationService{
		store:     store,
		publisher: publisher,
		monitor:   monitor,
		batchSize: batchSize,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Trigger asks the dispatcher loop for an early pass. It never blocks.
func (s *NotificationService) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run dispatches on every tick and on every Trigger until ctx is done.
func (s *NotificationService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Notification dispatcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification dispatcher stopped")
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if _, err := s.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Failed to dispatch notifications", "error", err)
		}
	}
}

// DispatchPending delivers undispatched status changes, oldest first, and
// returns how many were handled. The inbox write and the dispatched mark commit
// together; push delivery is best effort.
func (s *NotificationService) DispatchPending(ctx context.Context) (n int, err error) {
	ctx, span := tracer.Start(ctx, "NotificationService.DispatchPending")
	defer func() { endSpan(span, err) }()

	changes, err := s.store.PendingStatusChanges(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("outbox.pending", len(changes)))

	for _, c := range changes {
		if err := s.dispatch(ctx, c); err != nil {
			return n, fmt.Errorf("dispatch status change %s: %w", c.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *NotificationService) dispatch(ctx context.Context, c models.StatusChange) error {
	now := s.now()
	rendered := notify.Render(c)

	var fresh bool
	err := s.store.InTx(ctx, func(q *sqlite.Queries) error {
		var err error
		fresh, err = q.InsertNotification(ctx, &models.Notification{
			ID:             uuid.NewString(),
			UserID:         c.UserID,
			ChangeID:       c.ID,
			RegistrationID: c.RegistrationID,
			EventID:        c.EventID,
			EventTitle:     c.EventTitle,
			Status:         c.Status,
			PreviousStatus: c.PreviousStatus,
			Subject:        rendered.Subject,
			Message:        rendered.Message,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		return q.MarkStatusChangeDispatched(ctx, c.ID, now)
	})
	if err != nil {
		return err
	}

	s.monitor.TrackOutboxLag(now.Sub(c.CreatedAt))
	if !fresh {
		s.monitor.TrackDelivery("inbox", "duplicate")
		return nil
	}
	s.monitor.TrackDelivery("inbox", "delivered")

	msg := notify.Message{
		Type:           "registration_status",
		RegistrationID: c.RegistrationID,
		EventID:        c.EventID,
		Status:         c.Status,
		PreviousStatus: c.PreviousStatus,
		Rendered:       rendered,
		SentAt:         now,
	}
	if err := s.publisher.Publish(ctx, c.UserID, msg); err != nil {
		slog.Warn("Failed to push notification", "error", err, "user_id", c.UserID, "change_id", c.ID)
		s.monitor.TrackDelivery("push", "failed")
		return nil
	}
	s.monitor.TrackDelivery("push", "delivered")
	return nil
}

// Inbox is one page of a user's notifications.
type Inbox struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}

func (s *NotificationService) ListInbox(ctx context.Context, actor Actor, limit, offset int) (*Inbox, error) {
	ctx, span := tracer.Start(ctx, "NotificationService.ListInbox", trace.WithAttributes(
		attribute.String("user.id", actor.ID()),
	))
	defer span.End()

	if limit <= 0 {
		limit = defaultInboxLimit
	}
	limit = min(limit, maxInboxLimit)
	offset = max(offset, 0)

	items, err := s.store.ListNotifications(ctx, actor.ID(), limit, offset)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnreadNotifications(ctx, actor.ID())
	if err != nil {
		return nil, err
	}
	return &Inbox{Notifications: items, Unread: unread, Limit: limit, Offset: offset}, nil
}

// MarkRead marks one of the actor's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, actor.ID(), notificationID, s.now())
}

func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, actor.ID(), s.now())
}
