package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"registration-system/internal/status"
	"registration-system/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

const eventColumns = "id, title, description, short_description, location, image_url, start_date, end_date, " +
	"registration_start, registration_end, max_spots, current_registrations, form_fields, price, status, " +
	"requires_approval, created_by, created_at, updated_at"

type eventRow struct {
	ID                   string         `db:"id"`
	Title                string         `db:"title"`
	Description          string         `db:"description"`
	ShortDescription     sql.NullString `db:"short_description"`
	Location             sql.NullString `db:"location"`
	ImageURL             sql.NullString `db:"image_url"`
	StartDate            int64          `db:"start_date"`
	EndDate              int64          `db:"end_date"`
	RegistrationStart    sql.NullInt64  `db:"registration_start"`
	RegistrationEnd      sql.NullInt64  `db:"registration_end"`
	MaxSpots             sql.NullInt64  `db:"max_spots"`
	CurrentRegistrations int            `db:"current_registrations"`
	FormFields           string         `db:"form_fields"`
	Price                string         `db:"price"`
	Status               string         `db:"status"`
	RequiresApproval     bool           `db:"requires_approval"`
	CreatedBy            string         `db:"created_by"`
	CreatedAt            int64          `db:"created_at"`
	UpdatedAt            int64          `db:"updated_at"`
}

func (r eventRow) toModel() (*models.Event, error) {
	e := &models.Event{
		ID:                   r.ID,
		Title:                r.Title,
		Description:          r.Description,
		ShortDescription:     stringPtr(r.ShortDescription),
		Location:             stringPtr(r.Location),
		ImageURL:             stringPtr(r.ImageURL),
		StartDate:            fromMillis(r.StartDate),
		EndDate:              fromMillis(r.EndDate),
		RegistrationStart:    timePtr(r.RegistrationStart),
		RegistrationEnd:      timePtr(r.RegistrationEnd),
		CurrentRegistrations: r.CurrentRegistrations,
		Status:               models.EventStatus(r.Status),
		RequiresApproval:     r.RequiresApproval,
		CreatedBy:            r.CreatedBy,
		CreatedAt:            fromMillis(r.CreatedAt),
		UpdatedAt:            fromMillis(r.UpdatedAt),
	}
	if r.MaxSpots.Valid {
		spots := int(r.MaxSpots.Int64)
		e.MaxSpots = &spots
	}

	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("event %s price: %w", r.ID, err)
	}
	e.Price = price

	if err := json.Unmarshal([]byte(r.FormFields), &e.FormFields); err != nil {
		return nil, fmt.Errorf("event %s form fields: %w", r.ID, err)
	}
	return e, nil
}

// eventParams holds every column an organizer may edit. current_registrations is
// written only by the capacity statements below.
func eventParams(e *models.Event) (dbx.Params, error) {
	fields := e.FormFields
	if fields == nil {
		fields = []models.FieldDescriptor{}
	}
	formFields, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode form fields: %w", err)
	}

	var maxSpots any
	if e.MaxSpots != nil {
		maxSpots = *e.MaxSpots
	}

	return dbx.Params{
		"title":              e.Title,
		"description":        e.Description,
		"short_description":  nullString(e.ShortDescription),
		"location":           nullString(e.Location),
		"image_url":          nullString(e.ImageURL),
		"start_date":         toMillis(e.StartDate),
		"end_date":           toMillis(e.EndDate),
		"registration_start": nullMillis(e.RegistrationStart),
		"registration_end":   nullMillis(e.RegistrationEnd),
		"max_spots":          maxSpots,
		"form_fields":        string(formFields),
		"price":              e.Price.StringFixed(2),
		"status":             string(e.Status),
		"requires_approval":  e.RequiresApproval,
		"updated_at":         toMillis(e.UpdatedAt),
	}, nil
}

func (q *Queries) InsertEvent(ctx context.Context, e *models.Event) error {
	params, err := eventParams(e)
	if err != nil {
		return err
	}
	params["id"] = e.ID
	params["created_by"] = e.CreatedBy
	params["created_at"] = toMillis(e.CreatedAt)
	params["current_registrations"] = 0

	if _, err := q.b.Insert("events", params).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.CurrentRegistrations = 0
	return nil
}

// UpdateEvent saves organizer edits. A spot limit below the live counter is refused
// with status.ErrInvalidEvent.
func (q *Queries) UpdateEvent(ctx context.Context, e *models.Event) error {
	params, err := eventParams(e)
	if err != nil {
		return err
	}

	where := dbx.And(
		dbx.HashExp{"id": e.ID},
		dbx.NewExp("({:max} IS NULL OR current_registrations <= {:max})", dbx.Params{"max": params["max_spots"]}),
	)
	n, err := rowsAffected(q.b.Update("events", params, where).WithContext(ctx).Execute())
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", status.ErrInvalidEvent, err)
		}
		return fmt.Errorf("update event: %w", err)
	}
	if n == 0 {
		if _, err := q.GetEvent(ctx, e.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: max_spots is below the current registration count", status.ErrInvalidEvent)
	}
	return nil
}

func (q *Queries) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := q.b.NewQuery("SELECT " + eventColumns + " FROM events WHERE id = {:id}").
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return row.toModel()
}

// ListPublishedEvents returns published events whose registration has not closed,
// soonest first.
func (q *Queries) ListPublishedEvents(ctx context.Context, now time.Time) ([]models.Event, error) {
	var rows []eventRow
	err := q.b.NewQuery("SELECT " + eventColumns + ` FROM events
		WHERE status = {:status} AND (registration_end IS NULL OR registration_end > {:now})
		ORDER BY start_date ASC, id ASC`).
		Bind(dbx.Params{"status": string(models.EventPublished), "now": toMillis(now)}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list published events: %w", err)
	}
	return toEvents(rows)
}

func (q *Queries) ListEvents(ctx context.Context) ([]models.Event, error) {
	var rows []eventRow
	err := q.b.NewQuery("SELECT " + eventColumns + " FROM events ORDER BY start_date ASC, id ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return toEvents(rows)
}

func toEvents(rows []eventRow) ([]models.Event, error) {
	out := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// IncrementRegistrations takes one spot. It is a single conditional statement so
// concurrent approvals cannot push the counter past max_spots.
func (q *Queries) IncrementRegistrations(ctx context.Context, eventID string, now time.Time) error {
	n, err := rowsAffected(q.b.NewQuery(`UPDATE events
		SET current_registrations = current_registrations + 1, updated_at = {:now}
		WHERE id = {:id} AND (max_spots IS NULL OR current_registrations < max_spots)`).
		Bind(dbx.Params{"id": eventID, "now": toMillis(now)}).
		WithContext(ctx).
		Execute())
	if err != nil {
		if isCheckViolation(err) {
			return status.ErrCapacityExceeded
		}
		return fmt.Errorf("increment registrations: %w", err)
	}
	if n == 0 {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			return err
		}
		return status.ErrCapacityExceeded
	}
	return nil
}

// DecrementRegistrations frees one spot, floored at zero.
func (q *Queries) DecrementRegistrations(ctx context.Context, eventID string, now time.Time) error {
	n, err := rowsAffected(q.b.NewQuery(`UPDATE events
		SET current_registrations = MAX(current_registrations - 1, 0), updated_at = {:now}
		WHERE id = {:id}`).
		Bind(dbx.Params{"id": eventID, "now": toMillis(now)}).
		WithContext(ctx).
		Execute())
	if err != nil {
		return fmt.Errorf("decrement registrations: %w", err)
	}
	if n == 0 {
		return status.ErrEventNotFound
	}
	return nil
}

// CapacityRow compares an event's counter with its approved registrations.
type CapacityRow struct {
	EventID              string        `db:"id"`
	Title                string        `db:"title"`
	MaxSpots             sql.NullInt64 `db:"max_spots"`
	CurrentRegistrations int           `db:"current_registrations"`
	Approved             int           `db:"approved"`
}

func (r CapacityRow) Drift() int {
	return r.CurrentRegistrations - r.Approved
}

func (q *Queries) CapacityReport(ctx context.Context) ([]CapacityRow, error) {
	var rows []CapacityRow
	err := q.b.NewQuery(`SELECT e.id, e.title, e.max_spots, e.current_registrations,
			(SELECT COUNT(*) FROM registrations r WHERE r.event_id = e.id AND r.status = 'approved') AS approved
		FROM events e
		ORDER BY e.start_date ASC, e.id ASC`).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("capacity report: %w", err)
	}
	return rows, nil
}
