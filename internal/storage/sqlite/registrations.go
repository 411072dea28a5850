package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"registration-system/internal/status"
	"registration-system/models"

	"github.com/pocketbase/dbx"
)

var registrationColumns = []string{
	"id", "user_id", "event_id", "status", "form_data", "uploaded_files", "organizer_notes",
	"rejection_reason", "approved_at", "rejected_at", "reviewed_by", "created_at", "updated_at",
}

type registrationRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	EventID         string         `db:"event_id"`
	Status          string         `db:"status"`
	FormData        string         `db:"form_data"`
	UploadedFiles   string         `db:"uploaded_files"`
	OrganizerNotes  sql.NullString `db:"organizer_notes"`
	RejectionReason sql.NullString `db:"rejection_reason"`
	ApprovedAt      sql.NullInt64  `db:"approved_at"`
	RejectedAt      sql.NullInt64  `db:"rejected_at"`
	ReviewedBy      sql.NullString `db:"reviewed_by"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

func (r registrationRow) toModel() (*models.Registration, error) {
	reg := &models.Registration{
		ID:              r.ID,
		UserID:          r.UserID,
		EventID:         r.EventID,
		Status:          models.RegistrationStatus(r.Status),
		OrganizerNotes:  stringPtr(r.OrganizerNotes),
		RejectionReason: stringPtr(r.RejectionReason),
		ApprovedAt:      timePtr(r.ApprovedAt),
		RejectedAt:      timePtr(r.RejectedAt),
		ReviewedBy:      stringPtr(r.ReviewedBy),
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.FormData), &reg.FormData); err != nil {
		return nil, fmt.Errorf("registration %s form data: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.UploadedFiles), &reg.UploadedFiles); err != nil {
		return nil, fmt.Errorf("registration %s uploaded files: %w", r.ID, err)
	}
	return reg, nil
}

func reviewParams(r *models.Registration) dbx.Params {
	return dbx.Params{
		"status":           string(r.Status),
		"organizer_notes":  nullString(r.OrganizerNotes),
		"rejection_reason": nullString(r.RejectionReason),
		"approved_at":      nullMillis(r.ApprovedAt),
		"rejected_at":      nullMillis(r.RejectedAt),
		"reviewed_by":      nullString(r.ReviewedBy),
		"updated_at":       toMillis(r.UpdatedAt),
	}
}

// InsertRegistration stores a new registration. A second row for the same user and
// event fails with status.ErrAlreadyRegistered.
func (q *Queries) InsertRegistration(ctx context.Context, r *models.Registration) error {
	formData := r.FormData
	if formData == nil {
		formData = models.FormData{}
	}
	data, err := json.Marshal(formData)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	uploaded := r.UploadedFiles
	if uploaded == nil {
		uploaded = models.UploadedFiles{}
	}
	files, err := json.Marshal(uploaded)
	if err != nil {
		return fmt.Errorf("encode uploaded files: %w", err)
	}

	params := reviewParams(r)
	params["id"] = r.ID
	params["user_id"] = r.UserID
	params["event_id"] = r.EventID
	params["form_data"] = string(data)
	params["uploaded_files"] = string(files)
	params["created_at"] = toMillis(r.CreatedAt)

	if _, err := q.b.Insert("registrations", params).WithContext(ctx).Execute(); err != nil {
		if isUniqueViolation(err) {
			return status.ErrAlreadyRegistered
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// UpdateRegistrationReview persists a transition. The row must still be in prev;
// a concurrent transition that got there first yields status.ErrInvalidTransition.
func (q *Queries) UpdateRegistrationReview(ctx context.Context, r *models.Registration, prev models.RegistrationStatus) error {
	n, err := rowsAffected(q.b.Update("registrations", reviewParams(r), dbx.HashExp{
		"id":     r.ID,
		"status": string(prev),
	}).WithContext(ctx).Execute())
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if n == 0 {
		return status.ErrInvalidTransition
	}
	return nil
}

func (q *Queries) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	return q.oneRegistration(ctx, dbx.HashExp{"id": id})
}

func (q *Queries) FindRegistration(ctx context.Context, userID, eventID string) (*models.Registration, error) {
	return q.oneRegistration(ctx, dbx.HashExp{"user_id": userID, "event_id": eventID})
}

func (q *Queries) oneRegistration(ctx context.Context, where dbx.Expression) (*models.Registration, error) {
	var row registrationRow
	err := q.b.Select(registrationColumns...).
		From("registrations").
		Where(where).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return row.toModel()
}

func (q *Queries) ListRegistrationsByUser(ctx context.Context, userID string) ([]models.Registration, error) {
	return q.listRegistrations(ctx, dbx.HashExp{"user_id": userID})
}

// ListRegistrationsByEvent lists an event's registrations, optionally only those in st.
func (q *Queries) ListRegistrationsByEvent(ctx context.Context, eventID string, st models.RegistrationStatus) ([]models.Registration, error) {
	where := dbx.HashExp{"event_id": eventID}
	if st != "" {
		where["status"] = string(st)
	}
	return q.listRegistrations(ctx, where)
}

func (q *Queries) listRegistrations(ctx context.Context, where dbx.Expression) ([]models.Registration, error) {
	var rows []registrationRow
	err := q.b.Select(registrationColumns...).
		From("registrations").
		Where(where).
		OrderBy("created_at DESC", "id ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}

	out := make([]models.Registration, 0, len(rows))
	for _, row := range rows {
		reg, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, nil
}

// CountRegistrationsByStatus is used for the per-event dashboard counters.
func (q *Queries) CountRegistrationsByStatus(ctx context.Context, eventID string) (map[models.RegistrationStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	err := q.b.Select("status", "COUNT(*) AS total").
		From("registrations").
		Where(dbx.HashExp{"event_id": eventID}).
		GroupBy("status").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}

	out := make(map[models.RegistrationStatus]int, len(rows))
	for _, r := range rows {
		out[models.RegistrationStatus(r.Status)] = r.Total
	}
	return out, nil
}
