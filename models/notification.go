package models

import (
	"time"
)

// StatusChange is the notification intent written alongside a transition.
type StatusChange struct {
	ID              string             `json:"id"`
	RegistrationID  string             `json:"registration_id"`
	UserID          string             `json:"user_id"`
	EventID         string             `json:"event_id"`
	EventTitle      string             `json:"event_title"`
	PreviousStatus  RegistrationStatus `json:"previous_status"`
	Status          RegistrationStatus `json:"status"`
	RejectionReason *string            `json:"rejection_reason,omitempty"`
	OrganizerNotes  *string            `json:"organizer_notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	DispatchedAt    *time.Time         `json:"dispatched_at,omitempty"`
}

// Notification is an inbox entry for one user.
type Notification struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	ChangeID       string             `json:"change_id"`
	RegistrationID string             `json:"registration_id"`
	EventID        string             `json:"event_id"`
	EventTitle     string             `json:"event_title"`
	Status         RegistrationStatus `json:"status"`
	PreviousStatus RegistrationStatus `json:"previous_status"`
	Subject        string             `json:"subject"`
	Message        string             `json:"message"`
	CreatedAt      time.Time          `json:"created_at"`
	ReadAt         *time.Time         `json:"read_at,omitempty"`
}
