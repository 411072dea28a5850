package services

import (
	"slices"

	"registration-system/models"
)

const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RoleCandidate = "candidate"
)

// Actor is the authenticated caller of a service operation.
type Actor interface {
	ID() string
	HasRole(role string) bool
}

// User is an Actor built from an auth record's id and roles.
type User struct {
	UserID string
	Roles  []string
}

func (u User) ID() string { return u.UserID }

func (u User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// canManageEvents reports whether the actor may create events.
func canManageEvents(a Actor) bool {
	return a.HasRole(RoleAdmin) || a.HasRole(RoleOrganizer)
}

// canReview reports whether the actor may review registrations for, or edit, the event.
func canReview(a Actor, e *models.Event) bool {
	if a.HasRole(RoleAdmin) {
		return true
	}
	return a.HasRole(RoleOrganizer) && e.CreatedBy == a.ID()
}
