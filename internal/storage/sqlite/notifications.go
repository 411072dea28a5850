package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"registration-system/internal/status"
	"registration-system/models"

	"github.com/pocketbase/dbx"
)

type statusChangeRow struct {
	ID              string         `db:"id"`
	RegistrationID  string         `db:"registration_id"`
	UserID          string         `db:"user_id"`
	EventID         string         `db:"event_id"`
	EventTitle      string         `db:"event_title"`
	PreviousStatus  string         `db:"previous_status"`
	Status          string         `db:"status"`
	RejectionReason sql.NullString `db:"rejection_reason"`
	OrganizerNotes  sql.NullString `db:"organizer_notes"`
	CreatedAt       int64          `db:"created_at"`
	DispatchedAt    sql.NullInt64  `db:"dispatched_at"`
}

func (r statusChangeRow) toModel() models.StatusChange {
	return models.StatusChange{
		ID:              r.ID,
		RegistrationID:  r.RegistrationID,
		UserID:          r.UserID,
		EventID:         r.EventID,
		EventTitle:      r.EventTitle,
		PreviousStatus:  models.RegistrationStatus(r.PreviousStatus),
		Status:          models.RegistrationStatus(r.Status),
		RejectionReason: stringPtr(r.RejectionReason),
		OrganizerNotes:  stringPtr(r.OrganizerNotes),
		CreatedAt:       fromMillis(r.CreatedAt),
		DispatchedAt:    timePtr(r.DispatchedAt),
	}
}

// InsertStatusChange records a notification intent. Call it in the same
// transaction as the transition it describes.
func (q *Queries) InsertStatusChange(ctx context.Context, c *models.StatusChange) error {
	_, err := q.b.Insert("status_changes", dbx.Params{
		"id":               c.ID,
		"registration_id":  c.RegistrationID,
		"user_id":          c.UserID,
		"event_id":         c.EventID,
		"event_title":      c.EventTitle,
		"previous_status":  string(c.PreviousStatus),
		"status":           string(c.Status),
		"rejection_reason": nullString(c.RejectionReason),
		"organizer_notes":  nullString(c.OrganizerNotes),
		"created_at":       toMillis(c.CreatedAt),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

// PendingStatusChanges returns undelivered intents, oldest first.
func (q *Queries) PendingStatusChanges(ctx context.Context, limit int) ([]models.StatusChange, error) {
	var rows []statusChangeRow
	err := q.b.Select("*").
		From("status_changes").
		Where(dbx.NewExp("dispatched_at IS NULL")).
		OrderBy("created_at ASC", "id ASC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("pending status changes: %w", err)
	}

	out := make([]models.StatusChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (q *Queries) ListStatusChanges(ctx context.Context, registrationID string) ([]models.StatusChange, error) {
	var rows []statusChangeRow
	err := q.b.Select("*").
		From("status_changes").
		Where(dbx.HashExp{"registration_id": registrationID}).
		OrderBy("created_at ASC", "id ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}

	out := make([]models.StatusChange, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (q *Queries) MarkStatusChangeDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := q.b.Update("status_changes",
		dbx.Params{"dispatched_at": toMillis(at)},
		dbx.HashExp{"id": id},
	).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("mark status change dispatched: %w", err)
	}
	return nil
}

type notificationRow struct {
	ID             string        `db:"id"`
	UserID         string        `db:"user_id"`
	ChangeID       string        `db:"change_id"`
	RegistrationID string        `db:"registration_id"`
	EventID        string        `db:"event_id"`
	EventTitle     string        `db:"event_title"`
	Status         string        `db:"status"`
	PreviousStatus string        `db:"previous_status"`
	Subject        string        `db:"subject"`
	Message        string        `db:"message"`
	CreatedAt      int64         `db:"created_at"`
	ReadAt         sql.NullInt64 `db:"read_at"`
}

func (r notificationRow) toModel() models.Notification {
	return models.Notification{
		ID:             r.ID,
		UserID:         r.UserID,
		ChangeID:       r.ChangeID,
		RegistrationID: r.RegistrationID,
		EventID:        r.EventID,
		EventTitle:     r.EventTitle,
		Status:         models.RegistrationStatus(r.Status),
		PreviousStatus: models.RegistrationStatus(r.PreviousStatus),
		Subject:        r.Subject,
		Message:        r.Message,
		CreatedAt:      fromMillis(r.CreatedAt),
		ReadAt:         timePtr(r.ReadAt),
	}
}

// InsertNotification writes an inbox entry. It reports false when an entry for the
// same status change already exists, so replays never duplicate.
func (q *Queries) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	res, err := q.b.NewQuery(`INSERT INTO notifications
		(id, user_id, change_id, registration_id, event_id, event_title, status, previous_status, subject, message, created_at)
		VALUES ({:id}, {:user_id}, {:change_id}, {:registration_id}, {:event_id}, {:event_title}, {:status}, {:previous_status}, {:subject}, {:message}, {:created_at})
		ON CONFLICT (change_id) DO NOTHING`).
		Bind(dbx.Params{
			"id":              n.ID,
			"user_id":         n.UserID,
			"change_id":       n.ChangeID,
			"registration_id": n.RegistrationID,
			"event_id":        n.EventID,
			"event_title":     n.EventTitle,
			"status":          string(n.Status),
			"previous_status": string(n.PreviousStatus),
			"subject":         n.Subject,
			"message":         n.Message,
			"created_at":      toMillis(n.CreatedAt),
		}).
		WithContext(ctx).
		Execute()
	affected, err := rowsAffected(res, err)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return affected == 1, nil
}

// ListNotifications returns a user's inbox newest first.
func (q *Queries) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	var rows []notificationRow
	err := q.b.Select("*").
		From("notifications").
		Where(dbx.HashExp{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(int64(limit)).
		Offset(int64(offset)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (q *Queries) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var total int
	err := q.b.Select("COUNT(*)").
		From("notifications").
		Where(dbx.And(dbx.HashExp{"user_id": userID}, dbx.NewExp("read_at IS NULL"))).
		WithContext(ctx).
		Row(&total)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkNotificationRead sets read_at once; reading an already read entry keeps
// the first timestamp.
func (q *Queries) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	n, err := rowsAffected(q.b.NewQuery(`UPDATE notifications
		SET read_at = COALESCE(read_at, {:at})
		WHERE id = {:id} AND user_id = {:user}`).
		Bind(dbx.Params{"id": id, "user": userID, "at": toMillis(at)}).
		WithContext(ctx).
		Execute())
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n == 0 {
		return status.ErrNotificationNotFound
	}
	return nil
}

func (q *Queries) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	n, err := rowsAffected(q.b.Update("notifications",
		dbx.Params{"read_at": toMillis(at)},
		dbx.And(dbx.HashExp{"user_id": userID}, dbx.NewExp("read_at IS NULL")),
	).WithContext(ctx).Execute())
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}
