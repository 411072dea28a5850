package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"

	"registration-system/internal/status"
)

// apiError turns a service error into the PocketBase error response for it.
// Field errors keep their keys so clients can place messages next to inputs.
func apiError(err error) error {
	if err == nil {
		return nil
	}

	var verr *status.ValidationError
	if errors.As(err, &verr) {
		msg := "Please correct the highlighted fields."
		if errors.Is(err, status.ErrInvalidSchema) {
			msg = "The form fields of this event are invalid."
		}
		return apis.NewBadRequestError(msg, fieldErrors(verr))
	}

	switch {
	case errors.Is(err, status.ErrForbidden):
		return apis.NewForbiddenError("You are not allowed to perform this action.", nil)
	case errors.Is(err, status.ErrEventNotFound):
		return apis.NewNotFoundError("Event not found.", nil)
	case errors.Is(err, status.ErrRegistrationNotFound):
		return apis.NewNotFoundError("Registration not found.", nil)
	case errors.Is(err, status.ErrNotificationNotFound):
		return apis.NewNotFoundError("Notification not found.", nil)
	case errors.Is(err, status.ErrCapacityExceeded):
		return router.NewApiError(http.StatusConflict, "This event is full.", nil)
	case errors.Is(err, status.ErrInvalidTransition):
		return router.NewApiError(http.StatusConflict, "The registration is already in that state.", nil)
	case errors.Is(err, status.ErrAlreadyRegistered):
		return router.NewApiError(http.StatusConflict, "You are already registered for this event.", nil)
	case errors.Is(err, status.ErrRegistrationClosed):
		return apis.NewBadRequestError("Registration is not available for this event.", nil)
	case errors.Is(err, status.ErrInvalidEvent):
		return apis.NewBadRequestError("The event cannot be saved in this state.", nil)
	}

	slog.Error("Unhandled request error", "error", err)
	return router.NewInternalServerError("Something went wrong while processing your request.", nil)
}

func fieldErrors(verr *status.ValidationError) validation.Errors {
	out := make(validation.Errors, len(verr.Fields))
	for field, msgs := range verr.Fields {
		out[field] = validation.NewError("validation_invalid_value", strings.Join(msgs, " "))
	}
	return out
}
