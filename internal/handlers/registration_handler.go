package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"registration-system/internal/services"
	"registration-system/internal/status"
	"registration-system/models"
)

const maxSubmissionMemory = 32 << 20

type RegistrationHandler struct {
	registrations *services.RegistrationService
}

func NewRegistrationHandler(registrations *services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations}
}

// Submit - candidate fills the event form (multipart or urlencoded)
func (h *RegistrationHandler) Submit(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	in, err := readSubmission(e.Request)
	if err != nil {
		return apis.NewBadRequestError("Invalid form submission.", err)
	}

	ctx := e.Request.Context()
	eventID := e.Request.PathValue("eventId")

	reg, err := h.registrations.Submit(ctx, actor, eventID, in)
	if errors.Is(err, status.ErrAlreadyRegistered) {
		existing, findErr := h.registrations.Mine(ctx, actor, eventID)
		if findErr != nil {
			return apiError(findErr)
		}
		return e.JSON(http.StatusOK, map[string]any{
			"message":      "You are already registered for this event.",
			"registration": existing,
		})
	}
	if err != nil {
		return apiError(err)
	}

	msg := "Your registration has been submitted and is awaiting review."
	if reg.Status != models.RegistrationPending {
		msg = "Your registration has been confirmed."
	}
	return e.JSON(http.StatusCreated, map[string]any{"message": msg, "registration": reg})
}

func readSubmission(r *http.Request) (services.SubmitInput, error) {
	err := r.ParseMultipartForm(maxSubmissionMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return services.SubmitInput{}, err
		}
		return services.SubmitInput{Values: r.PostForm}, nil
	}
	if err != nil {
		return services.SubmitInput{}, err
	}
	return services.SubmitInput{Values: r.PostForm, Files: r.MultipartForm.File}, nil
}

// Mine - the signed in user's registrations
func (h *RegistrationHandler) Mine(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	regs, err := h.registrations.ListForUser(e.Request.Context(), actor)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"registrations": regs})
}

func (h *RegistrationHandler) Get(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	reg, err := h.registrations.Get(e.Request.Context(), actor, e.Request.PathValue("registrationId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, reg)
}

func (h *RegistrationHandler) Cancel(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	reg, err := h.registrations.Cancel(e.Request.Context(), actor, e.Request.PathValue("registrationId"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Your registration has been cancelled.", "registration": reg})
}
