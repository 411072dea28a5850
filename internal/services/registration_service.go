package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"registration-system/internal/forms"
	"registration-system/internal/status"
	"registration-system/internal/storage/sqlite"
	"registration-system/models"
	"registration-system/monitoring"
)

// dispatchTrigger wakes the notification dispatcher after a commit.
type dispatchTrigger interface {
	Trigger()
}

// RegistrationService runs the registration lifecycle. Every transition is one
// transaction covering the row update, the capacity ledger and the outbox row.
type RegistrationService struct {
	store     *sqlite.Store
	validator *forms.Validator
	ledger    *CapacityLedger
	notifier  dispatchTrigger
	monitor   *monitoring.Monitor
	now       func() time.Time
}

func NewRegistrationService(
	store *sqlite.Store,
	validator *forms.Validator,
	ledger *CapacityLedger,
	notifier dispatchTrigger,
	monitor *monitoring.Monitor,
) *RegistrationService {
	return &RegistrationService{
		store:     store,
		validator: validator,
		ledger:    ledger,
		notifier:  notifier,
		monitor:   monitor,
		now:       time.Now,
	}
}

// SubmitInput is the raw multipart form of a registration.
type SubmitInput struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader
}

// Submit registers the actor for an event. Events that do not require approval
// approve the new registration in the same transaction, with the candidate as
// reviewer.
func (s *RegistrationService) Submit(ctx context.Context, actor Actor, eventID string, in SubmitInput) (reg *models.Registration, err error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.Submit", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("user.id", actor.ID()),
	))
	defer func() { endSpan(span, err) }()
	defer func() { s.monitor.TrackSubmission(submissionOutcome(err)) }()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := checkAcceptsRegistrations(event, s.now()); err != nil {
		return nil, err
	}

	// fast path only; the unique index decides
	if _, err := s.store.FindRegistration(ctx, actor.ID(), eventID); err == nil {
		return nil, status.ErrAlreadyRegistered
	} else if !errors.Is(err, status.ErrRegistrationNotFound) {
		return nil, err
	}

	sub, err := s.validator.Validate(event.FormFields, in.Values, in.Files)
	if err != nil {
		return nil, err
	}
	uploaded, err := s.validator.Persist(ctx, eventID, sub)
	if err != nil {
		return nil, fmt.Errorf("persist uploads: %w", err)
	}

	now := s.now()
	reg = &models.Registration{
		ID:            uuid.NewString(),
		UserID:        actor.ID(),
		EventID:       eventID,
		Status:        models.RegistrationPending,
		FormData:      sub.FormData,
		UploadedFiles: uploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var (
		t       models.Transition
		current int
	)
	err = s.store.InTx(ctx, func(q *sqlite.Queries) error {
		ev, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := checkAcceptsRegistrations(ev, now); err != nil {
			return err
		}
		if err := q.InsertRegistration(ctx, reg); err != nil {
			return err
		}
		if ev.RequiresApproval {
			return nil
		}

		t, err = reg.Approve(actor.ID(), nil, now)
		if err != nil {
			return err
		}
		return s.persistTransition(ctx, q, reg, ev, t, now, &current)
	})
	if err != nil {
		s.validator.Discard(ctx, uploaded)
		return nil, err
	}

	if t.Next != "" {
		s.afterCommit(ctx, reg.EventID, current, t)
	}
	slog.Info("Registration submitted", "registration_id", reg.ID, "event_id", eventID, "status", reg.Status)
	return reg, nil
}

// Approve marks a registration approved and takes a spot.
func (s *RegistrationService) Approve(ctx context.Context, actor Actor, registrationID string, notes *string) (reg *models.Registration, err error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.Approve", trace.WithAttributes(
		attribute.String("registration.id", registrationID),
	))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, registrationID, reviewerOf(actor), func(r *models.Registration, now time.Time) (models.Transition, error) {
		return r.Approve(actor.ID(), notes, now)
	})
}

// Reject marks a registration rejected, freeing the spot if it held one.
func (s *RegistrationService) Reject(ctx context.Context, actor Actor, registrationID string, reason, notes *string) (reg *models.Registration, err error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.Reject", trace.WithAttributes(
		attribute.String("registration.id", registrationID),
	))
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, registrationID, reviewerOf(actor), func(r *models.Registration, now time.Time) (models.Transition, error) {
		return r.Reject(actor.ID(), reason, notes, now)
	})
}

// Cancel withdraws the actor's own registration.
func (s *RegistrationService) Cancel(ctx context.Context, actor Actor, registrationID string) (reg *models.Registration, err error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.Cancel", trace.WithAttributes(
		attribute.String("registration.id", registrationID),
	))
	defer func() { endSpan(span, err) }()

	owner := func(r *models.Registration, e *models.Event) error {
		if r.UserID != actor.ID() {
			return status.ErrForbidden
		}
		if e.Status == models.EventCompleted {
			return status.ErrRegistrationClosed
		}
		return nil
	}
	return s.transition(ctx, registrationID, owner, func(r *models.Registration, now time.Time) (models.Transition, error) {
		return r.Cancel(now)
	})
}

// BulkResult is the outcome of one registration in a bulk approval.
type BulkResult struct {
	RegistrationID string                    `json:"registration_id"`
	Status         models.RegistrationStatus `json:"status,omitempty"`
	Error          string                    `json:"error,omitempty"`
	Err            error                     `json:"-"`
}

// BulkApprove approves pending registrations of one event, each in its own
// transaction. An empty id list means every pending registration of the event.
func (s *RegistrationService) BulkApprove(ctx context.Context, actor Actor, eventID string, ids []string, notes *string) (results []BulkResult, err error) {
	ctx, span := tracer.Start(ctx, "RegistrationService.BulkApprove", trace.WithAttributes(
		attribute.String("event.id", eventID),
	))
	defer func() { endSpan(span, err) }()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !canReview(actor, event) {
		return nil, status.ErrForbidden
	}

	if len(ids) == 0 {
		pending, err := s.store.ListRegistrationsByEvent(ctx, eventID, models.RegistrationPending)
		if err != nil {
			return nil, err
		}
		for _, r := range pending {
			ids = append(ids, r.ID)
		}
	}

	pendingOfEvent := func(r *models.Registration, e *models.Event) error {
		if r.EventID != eventID {
			return status.ErrRegistrationNotFound
		}
		if r.Status != models.RegistrationPending {
			return status.ErrInvalidTransition
		}
		return reviewerOf(actor)(r, e)
	}

	results = make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		reg, err := s.transition(ctx, id, pendingOfEvent, func(r *models.Registration, now time.Time) (models.Transition, error) {
			return r.Approve(actor.ID(), notes, now)
		})
		res := BulkResult{RegistrationID: id}
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Status = reg.Status
		}
		results = append(results, res)
	}
	return results, nil
}

// Get returns a registration to its owner or to a reviewer of its event.
func (s *RegistrationService) Get(ctx context.Context, actor Actor, registrationID string) (*models.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID == actor.ID() {
		return reg, nil
	}

	event, err := s.store.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if !canReview(actor, event) {
		return nil, status.ErrForbidden
	}
	return reg, nil
}

func (s *RegistrationService) ListForUser(ctx context.Context, actor Actor) ([]models.Registration, error) {
	return s.store.ListRegistrationsByUser(ctx, actor.ID())
}

// Mine returns the actor's registration for an event.
func (s *RegistrationService) Mine(ctx context.Context, actor Actor, eventID string) (*models.Registration, error) {
	return s.store.FindRegistration(ctx, actor.ID(), eventID)
}

// ListForEvent returns an event's registrations, newest first, optionally
// filtered by status.
func (s *RegistrationService) ListForEvent(ctx context.Context, actor Actor, eventID string, st models.RegistrationStatus) ([]models.Registration, error) {
	if st != "" && !st.Valid() {
		verr := status.NewValidationError()
		verr.Add("status", fmt.Sprintf("The selected status %q is invalid.", st))
		return nil, verr
	}

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !canReview(actor, event) {
		return nil, status.ErrForbidden
	}
	return s.store.ListRegistrationsByEvent(ctx, eventID, st)
}

// CountByStatus summarizes an event's registrations for its reviewers.
func (s *RegistrationService) CountByStatus(ctx context.Context, actor Actor, eventID string) (map[models.RegistrationStatus]int, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !canReview(actor, event) {
		return nil, status.ErrForbidden
	}
	return s.store.CountRegistrationsByStatus(ctx, eventID)
}

type (
	authorizeFunc func(r *models.Registration, e *models.Event) error
	applyFunc     func(r *models.Registration, now time.Time) (models.Transition, error)
)

func reviewerOf(actor Actor) authorizeFunc {
	return func(_ *models.Registration, e *models.Event) error {
		if !canReview(actor, e) {
			return status.ErrForbidden
		}
		return nil
	}
}

// transition loads, authorizes and applies one state change atomically.
func (s *RegistrationService) transition(ctx context.Context, registrationID string, authorize authorizeFunc, apply applyFunc) (*models.Registration, error) {
	var (
		reg     *models.Registration
		t       models.Transition
		current int
	)
	now := s.now()

	err := s.store.InTx(ctx, func(q *sqlite.Queries) error {
		var err error
		reg, err = q.GetRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		event, err := q.GetEvent(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if err := authorize(reg, event); err != nil {
			return err
		}

		t, err = apply(reg, now)
		if err != nil {
			return err
		}
		return s.persistTransition(ctx, q, reg, event, t, now, &current)
	})
	if err != nil {
		if !isDomainError(err) {
			slog.Error("Failed to transition registration", "error", err, "registration_id", registrationID)
		}
		return nil, err
	}

	s.afterCommit(ctx, reg.EventID, current, t)
	return reg, nil
}

// persistTransition writes an applied transition: the guarded row update, the
// ledger change and, when the candidate is told, the outbox row.
func (s *RegistrationService) persistTransition(ctx context.Context, q *sqlite.Queries, reg *models.Registration, event *models.Event, t models.Transition, now time.Time, current *int) error {
	if err := q.UpdateRegistrationReview(ctx, reg, t.Previous); err != nil {
		return err
	}

	n, err := s.ledger.Apply(ctx, q, event.ID, t.CapacityDelta, now)
	if err != nil {
		return err
	}
	*current = n

	if !t.Notify {
		return nil
	}
	return q.InsertStatusChange(ctx, &models.StatusChange{
		ID:              uuid.NewString(),
		RegistrationID:  reg.ID,
		UserID:          reg.UserID,
		EventID:         event.ID,
		EventTitle:      event.Title,
		PreviousStatus:  t.Previous,
		Status:          t.Next,
		RejectionReason: reg.RejectionReason,
		OrganizerNotes:  reg.OrganizerNotes,
		CreatedAt:       now,
	})
}

func (s *RegistrationService) afterCommit(ctx context.Context, eventID string, current int, t models.Transition) {
	s.ledger.AfterCommit(ctx, eventID, current)
	s.monitor.TrackTransition(string(t.Previous), string(t.Next))
	if t.Notify && s.notifier != nil {
		s.notifier.Trigger()
	}
}

// checkAcceptsRegistrations tells a full event apart from a closed one.
func checkAcceptsRegistrations(e *models.Event, now time.Time) error {
	if e.IsRegistrationOpen(now) {
		return nil
	}
	if e.Status == models.EventPublished && e.InRegistrationWindow(now) && !e.HasAvailableSpots() {
		return status.ErrCapacityExceeded
	}
	return status.ErrRegistrationClosed
}

func isDomainError(err error) bool {
	for _, target := range []error{
		status.ErrForbidden,
		status.ErrInvalidTransition,
		status.ErrCapacityExceeded,
		status.ErrRegistrationClosed,
		status.ErrRegistrationNotFound,
		status.ErrEventNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, status.ErrValidation):
		return "invalid"
	case errors.Is(err, status.ErrAlreadyRegistered):
		return "duplicate"
	case errors.Is(err, status.ErrCapacityExceeded):
		return "full"
	case errors.Is(err, status.ErrRegistrationClosed):
		return "closed"
	default:
		return "error"
	}
}
