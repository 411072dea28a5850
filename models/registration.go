package models

import (
	"time"

	"registration-system/internal/status"
)

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationApproved  RegistrationStatus = "approved"
	RegistrationRejected  RegistrationStatus = "rejected"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationApproved, RegistrationRejected, RegistrationCancelled:
		return true
	}
	return false
}

type Registration struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	EventID         string             `json:"event_id"`
	Status          RegistrationStatus `json:"status"`
	FormData        FormData           `json:"form_data"`
	UploadedFiles   UploadedFiles      `json:"uploaded_files"`
	OrganizerNotes  *string            `json:"organizer_notes,omitempty"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	ApprovedAt      *time.Time         `json:"approved_at,omitempty"`
	RejectedAt      *time.Time         `json:"rejected_at,omitempty"`
	ReviewedBy      *string            `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Transition is the outcome of one state change.
type Transition struct {
	Previous RegistrationStatus
	Next     RegistrationStatus
	// CapacityDelta is +1 when a spot is taken, -1 when one is freed.
	CapacityDelta int
	// Notify is set for transitions the candidate is told about.
	Notify bool
}

// Approve marks the registration approved by reviewerID.
func (r *Registration) Approve(reviewerID string, notes *string, now time.Time) (Transition, error) {
	prev := r.Status
	if prev == RegistrationApproved {
		return Transition{}, status.ErrInvalidTransition
	}

	at := now
	r.Status = RegistrationApproved
	r.ApprovedAt = &at
	r.RejectedAt = nil
	r.ReviewedBy = &reviewerID
	r.OrganizerNotes = notes
	r.RejectionReason = nil
	r.UpdatedAt = now

	return Transition{Previous: prev, Next: RegistrationApproved, CapacityDelta: 1, Notify: true}, nil
}

// Reject marks the registration rejected; a previously approved spot is released.
func (r *Registration) Reject(reviewerID string, reason, notes *string, now time.Time) (Transition, error) {
	prev := r.Status
	if prev == RegistrationRejected {
		return Transition{}, status.ErrInvalidTransition
	}

	at := now
	r.Status = RegistrationRejected
	r.RejectedAt = &at
	r.ApprovedAt = nil
	r.ReviewedBy = &reviewerID
	r.RejectionReason = reason
	r.OrganizerNotes = notes
	r.UpdatedAt = now

	t := Transition{Previous: prev, Next: RegistrationRejected, Notify: true}
	if prev == RegistrationApproved {
		t.CapacityDelta = -1
	}
	return t, nil
}

// Cancel withdraws the registration. Candidates are not notified.
func (r *Registration) Cancel(now time.Time) (Transition, error) {
	prev := r.Status
	if prev == RegistrationCancelled {
		return Transition{}, status.ErrInvalidTransition
	}

	r.Status = RegistrationCancelled
	r.ReviewedBy = nil
	r.UpdatedAt = now

	t := Transition{Previous: prev, Next: RegistrationCancelled}
	if prev == RegistrationApproved {
		t.CapacityDelta = -1
	}
	return t, nil
}

// Answer looks up the submitted value for a field of the event schema.
func (r *Registration) Answer(field FieldDescriptor) (FormValue, bool) {
	v, ok := r.FormData[field.StorageKey()]
	return v, ok
}
