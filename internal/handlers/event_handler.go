package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"registration-system/internal/services"
)

type EventHandler struct {
	events *services.EventService
}

func NewEventHandler(events *services.EventService) *EventHandler {
	return &EventHandler{events: events}
}

// ListPublished - public listing of events taking registrations
func (h *EventHandler) ListPublished(e *core.RequestEvent) error {
	events, err := h.events.ListPublished(e.Request.Context())
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"events": events})
}

// ListManaged - events the signed in organizer or admin can edit
func (h *EventHandler) ListManaged(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	events, err := h.events.ListManaged(e.Request.Context(), actor)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"events": events})
}

func (h *EventHandler) Detail(e *core.RequestEvent) error {
	detail, err := h.events.Detail(e.Request.Context(), actorOf(e), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, detail)
}

// Availability - cached capacity snapshot, polled by the event page
func (h *EventHandler) Availability(e *core.RequestEvent) error {
	a, err := h.events.Availability(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, a)
}

func (h *EventHandler) Create(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	var in services.EventInput
	if err := e.BindBody(&in); err != nil {
		return apis.NewBadRequestError("Invalid request body.", err)
	}

	event, err := h.events.Create(e.Request.Context(), actor, in)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, event)
}

// Update replaces the editable fields of an event.
func (h *EventHandler) Update(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	var in services.EventInput
	if err := e.BindBody(&in); err != nil {
		return apis.NewBadRequestError("Invalid request body.", err)
	}

	event, err := h.events.Update(e.Request.Context(), actor, e.Request.PathValue("eventId"), in)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, event)
}
