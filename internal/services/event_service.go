package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"registration-system/internal/forms"
	"registration-system/internal/status"
	"registration-system/internal/storage/sqlite"
	"registration-system/models"
)

// EventInput is the editable part of an event.
type EventInput struct {
	Title             string                   `json:"title"`
	Description       string                   `json:"description"`
	ShortDescription  *string                  `json:"short_description"`
	Location          *string                  `json:"location"`
	ImageURL          *string                  `json:"image_url"`
	StartDate         time.Time                `json:"start_date"`
	EndDate           time.Time                `json:"end_date"`
	RegistrationStart *time.Time               `json:"registration_start"`
	RegistrationEnd   *time.Time               `json:"registration_end"`
	MaxSpots          *int                     `json:"max_spots"`
	FormFields        []models.FieldDescriptor `json:"form_fields"`
	Price             decimal.Decimal          `json:"price"`
	Status            models.EventStatus       `json:"status"`
	RequiresApproval  *bool                    `json:"requires_approval"`
}

func (in *EventInput) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.Description, validation.Required),
		validation.Field(&in.StartDate, validation.Required),
		validation.Field(&in.EndDate, validation.Required, validation.By(func(any) error {
			if in.EndDate.Before(in.StartDate) {
				return errors.New("must not be before the start date")
			}
			return nil
		})),
		validation.Field(&in.RegistrationEnd, validation.By(func(any) error {
			if in.RegistrationStart != nil && in.RegistrationEnd != nil && !in.RegistrationEnd.After(*in.RegistrationStart) {
				return errors.New("must be after the registration start")
			}
			return nil
		})),
		validation.Field(&in.MaxSpots, validation.By(func(any) error {
			if in.MaxSpots != nil && *in.MaxSpots < 1 {
				return errors.New("must be at least 1")
			}
			return nil
		})),
		validation.Field(&in.Price, validation.By(func(any) error {
			if in.Price.IsNegative() {
				return errors.New("must not be negative")
			}
			return nil
		})),
		validation.Field(&in.Status, validation.Required, validation.In(
			models.EventDraft, models.EventPublished, models.EventCancelled, models.EventCompleted,
		)),
	)
}

// EventDetail is an event as shown to one viewer.
type EventDetail struct {
	*models.Event
	IsRegistrationOpen bool                 `json:"is_registration_open"`
	HasAvailableSpots  bool                 `json:"has_available_spots"`
	SpotsLeft          int                  `json:"spots_left"`
	MyRegistration     *models.Registration `json:"my_registration,omitempty"`
}

type EventService struct {
	store *sqlite.Store
	cache *AvailabilityCache
	now   func() time.Time
}

func NewEventService(store *sqlite.Store, cache *AvailabilityCache) *EventService {
	return &EventService{store: store, cache: cache, now: time.Now}
}

// ListPublished returns published events still taking registrations, soonest first.
func (s *EventService) ListPublished(ctx context.Context) ([]models.Event, error) {
	return s.store.ListPublishedEvents(ctx, s.now())
}

// ListManaged returns every event for admins and the organizer's own events otherwise.
func (s *EventService) ListManaged(ctx context.Context, actor Actor) ([]models.Event, error) {
	if !canManageEvents(actor) {
		return nil, status.ErrForbidden
	}

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	if actor.HasRole(RoleAdmin) {
		return events, nil
	}

	own := events[:0]
	for _, e := range events {
		if e.CreatedBy == actor.ID() {
			own = append(own, e)
		}
	}
	return own, nil
}

func (s *EventService) Create(ctx context.Context, actor Actor, in EventInput) (event *models.Event, err error) {
	ctx, span := tracer.Start(ctx, "EventService.Create")
	defer func() { endSpan(span, err) }()

	if !canManageEvents(actor) {
		return nil, status.ErrForbidden
	}
	if err := prepare(&in); err != nil {
		return nil, err
	}

	now := s.now()
	event = &models.Event{
		ID:        uuid.NewString(),
		CreatedBy: actor.ID(),
		CreatedAt: now,
	}
	apply(event, in, forms.AssignFieldIDs(in.FormFields), now)

	if err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	slog.Info("Event created", "event_id", event.ID, "created_by", event.CreatedBy)
	return event, nil
}

// Update saves edits by an admin or the organizer who created the event. Fields
// keep their ids across edits when matched by label, so stored answers stay
// attached.
func (s *EventService) Update(ctx context.Context, actor Actor, eventID string, in EventInput) (event *models.Event, err error) {
	ctx, span := tracer.Start(ctx, "EventService.Update", trace.WithAttributes(
		attribute.String("event.id", eventID),
	))
	defer func() { endSpan(span, err) }()

	if err := prepare(&in); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(q *sqlite.Queries) error {
		var err error
		event, err = q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !canReview(actor, event) {
			return status.ErrForbidden
		}

		apply(event, in, carryFieldIDs(event.FormFields, in.FormFields), s.now())
		return q.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, eventID)
	return s.store.GetEvent(ctx, eventID)
}

// Detail returns an event with its availability flags and, for a signed in
// viewer, their own registration. Unpublished events are only shown to their
// reviewers. actor may be nil.
func (s *EventService) Detail(ctx context.Context, actor Actor, eventID string) (*EventDetail, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventPublished && (actor == nil || !canReview(actor, event)) {
		return nil, status.ErrEventNotFound
	}

	d := &EventDetail{
		Event:              event,
		IsRegistrationOpen: event.IsRegistrationOpen(s.now()),
		HasAvailableSpots:  event.HasAvailableSpots(),
		SpotsLeft:          event.SpotsLeft(),
	}
	if actor != nil {
		reg, err := s.store.FindRegistration(ctx, actor.ID(), eventID)
		switch {
		case err == nil:
			d.MyRegistration = reg
		case !errors.Is(err, status.ErrRegistrationNotFound):
			return nil, err
		}
	}
	return d, nil
}

// Availability serves the capacity snapshot, from Redis when cached.
func (s *EventService) Availability(ctx context.Context, eventID string) (Availability, error) {
	if a, ok := s.cache.Get(ctx, eventID); ok {
		return a, nil
	}

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return Availability{}, err
	}
	if event.Status != models.EventPublished {
		return Availability{}, status.ErrEventNotFound
	}

	a := availabilityOf(event, s.now())
	s.cache.Put(ctx, a)
	return a, nil
}

// prepare applies defaults and checks the input and its form schema.
func prepare(in *EventInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = models.EventDraft
	}

	if err := in.Validate(); err != nil {
		return toValidationError(err)
	}
	if err := forms.CheckSchema(in.FormFields); err != nil {
		verr := status.NewValidationError()
		verr.Add("form_fields", err.Error())
		return fmt.Errorf("%w: %w", status.ErrInvalidSchema, verr)
	}
	return nil
}

func apply(e *models.Event, in EventInput, fields []models.FieldDescriptor, now time.Time) {
	e.Title = in.Title
	e.Description = in.Description
	e.ShortDescription = in.ShortDescription
	e.Location = in.Location
	e.ImageURL = in.ImageURL
	e.StartDate = in.StartDate
	e.EndDate = in.EndDate
	e.RegistrationStart = in.RegistrationStart
	e.RegistrationEnd = in.RegistrationEnd
	e.MaxSpots = in.MaxSpots
	e.FormFields = fields
	e.Price = in.Price.Round(2)
	e.Status = in.Status
	e.RequiresApproval = in.RequiresApproval == nil || *in.RequiresApproval
	e.UpdatedAt = now
}

// carryFieldIDs keeps the id of an existing field with the same label. Legacy
// fields stored without an id stay keyed by label.
func carryFieldIDs(existing, incoming []models.FieldDescriptor) []models.FieldDescriptor {
	byLabel := make(map[string]models.FieldDescriptor, len(existing))
	for _, f := range existing {
		byLabel[f.Label] = f
	}

	out := make([]models.FieldDescriptor, 0, len(incoming))
	for _, f := range incoming {
		if f.ID == "" {
			if old, ok := byLabel[f.Label]; ok {
				f.ID = old.ID
				out = append(out, f)
				continue
			}
			f = forms.AssignFieldIDs([]models.FieldDescriptor{f})[0]
		}
		out = append(out, f)
	}
	return out
}

func toValidationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	verr := status.NewValidationError()
	for field, e := range errs {
		verr.Add(field, e.Error())
	}
	return verr
}
