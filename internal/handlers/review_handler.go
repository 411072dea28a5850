package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"registration-system/internal/services"
	"registration-system/models"
)

// ReviewHandler serves the organizer side of registrations.
type ReviewHandler struct {
	registrations *services.RegistrationService
}

func NewReviewHandler(registrations *services.RegistrationService) *ReviewHandler {
	return &ReviewHandler{registrations: registrations}
}

type reviewRequest struct {
	Reason *string `json:"reason"`
	Notes  *string `json:"notes"`
}

type bulkApproveRequest struct {
	RegistrationIDs []string `json:"registration_ids"`
	Notes           *string  `json:"notes"`
}

// ListForEvent - registrations of an event, ?status= filters
func (h *ReviewHandler) ListForEvent(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	ctx := e.Request.Context()
	eventID := e.Request.PathValue("eventId")
	st := models.RegistrationStatus(e.Request.URL.Query().Get("status"))

	regs, err := h.registrations.ListForEvent(ctx, actor, eventID, st)
	if err != nil {
		return apiError(err)
	}
	counts, err := h.registrations.CountByStatus(ctx, actor, eventID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"registrations": regs, "counts": counts})
}

func (h *ReviewHandler) Approve(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	var req reviewRequest
	if err := bindOptional(e, &req); err != nil {
		return err
	}

	reg, err := h.registrations.Approve(e.Request.Context(), actor, e.Request.PathValue("registrationId"), req.Notes)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Registration approved.", "registration": reg})
}

func (h *ReviewHandler) Reject(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	var req reviewRequest
	if err := bindOptional(e, &req); err != nil {
		return err
	}

	reg, err := h.registrations.Reject(e.Request.Context(), actor, e.Request.PathValue("registrationId"), req.Reason, req.Notes)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Registration rejected.", "registration": reg})
}

// BulkApprove - approve the listed ids, or every pending registration when none are given
func (h *ReviewHandler) BulkApprove(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	var req bulkApproveRequest
	if err := bindOptional(e, &req); err != nil {
		return err
	}

	results, err := h.registrations.BulkApprove(e.Request.Context(), actor, e.Request.PathValue("eventId"), req.RegistrationIDs, req.Notes)
	if err != nil {
		return apiError(err)
	}

	approved := 0
	for _, r := range results {
		if r.Err == nil {
			approved++
		}
	}
	return e.JSON(http.StatusOK, map[string]any{
		"approved": approved,
		"failed":   len(results) - approved,
		"results":  results,
	})
}

// bindOptional binds a body when one was sent; review actions work without one.
func bindOptional(e *core.RequestEvent, dst any) error {
	if e.Request.ContentLength == 0 {
		return nil
	}
	if err := e.BindBody(dst); err != nil {
		return apis.NewBadRequestError("Invalid request body.", err)
	}
	return nil
}
