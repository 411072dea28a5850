package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"registration-system/internal/services"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Inbox - ?limit=&offset= page of the signed in user's notifications
func (h *NotificationHandler) Inbox(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	inbox, err := h.notifications.ListInbox(e.Request.Context(), actor, queryInt(e, "limit", 0), queryInt(e, "offset", 0))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, inbox)
}

func (h *NotificationHandler) MarkRead(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	if err := h.notifications.MarkRead(e.Request.Context(), actor, e.Request.PathValue("notificationId")); err != nil {
		return apiError(err)
	}
	return e.NoContent(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(e *core.RequestEvent) error {
	actor, err := requireActor(e)
	if err != nil {
		return err
	}

	n, err := h.notifications.MarkAllRead(e.Request.Context(), actor)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"marked": n})
}
