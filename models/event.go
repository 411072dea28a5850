package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventCompleted EventStatus = "completed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPublished, EventCancelled, EventCompleted:
		return true
	}
	return false
}

type Event struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	ShortDescription     *string           `json:"short_description,omitempty"`
	Location             *string           `json:"location,omitempty"`
	ImageURL             *string           `json:"image_url,omitempty"`
	StartDate            time.Time         `json:"start_date"`
	EndDate              time.Time         `json:"end_date"`
	RegistrationStart    *time.Time        `json:"registration_start,omitempty"`
	RegistrationEnd      *time.Time        `json:"registration_end,omitempty"`
	MaxSpots             *int              `json:"max_spots,omitempty"` // nil means unlimited
	CurrentRegistrations int               `json:"current_registrations"`
	FormFields           []FieldDescriptor `json:"form_fields"`
	Price                decimal.Decimal   `json:"price"`
	Status               EventStatus       `json:"status"`
	RequiresApproval     bool              `json:"requires_approval"`
	CreatedBy            string            `json:"created_by"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// InRegistrationWindow reports whether now falls between the optional
// registration start and end.
func (e *Event) InRegistrationWindow(now time.Time) bool {
	if e.RegistrationStart != nil && now.Before(*e.RegistrationStart) {
		return false
	}
	if e.RegistrationEnd != nil && now.After(*e.RegistrationEnd) {
		return false
	}
	return true
}

// IsRegistrationOpen reports whether candidates may submit at the given time.
func (e *Event) IsRegistrationOpen(now time.Time) bool {
	return e.Status == EventPublished && e.InRegistrationWindow(now) && e.HasAvailableSpots()
}

func (e *Event) HasAvailableSpots() bool {
	if e.MaxSpots == nil {
		return true
	}
	return e.CurrentRegistrations < *e.MaxSpots
}

// SpotsLeft returns -1 for events without a spot limit.
func (e *Event) SpotsLeft() int {
	if e.MaxSpots == nil {
		return -1
	}
	left := *e.MaxSpots - e.CurrentRegistrations
	if left < 0 {
		return 0
	}
	return left
}

// Field returns the descriptor whose display label matches.
func (e *Event) Field(label string) (FieldDescriptor, bool) {
	for _, f := range e.FormFields {
		if f.Label == label {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
