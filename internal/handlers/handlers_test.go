package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-system/internal/forms"
	"registration-system/internal/notify"
	"registration-system/internal/services"
	"registration-system/internal/status"
	"registration-system/internal/storage/files"
	"registration-system/internal/storage/sqlite"
	"registration-system/monitoring"
)

type testApp struct {
	events        *EventHandler
	registrations *RegistrationHandler
	reviews       *ReviewHandler
	notifications *NotificationHandler
	dispatcher    *services.NotificationService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fileStore, err := files.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fileStore.Close() })

	monitor := monitoring.NewMonitor(store, time.Minute)
	cache := services.NewAvailabilityCache(nil, 0)
	dispatcher := services.NewNotificationService(store, notify.Discard{}, monitor, 10)
	registrations := services.NewRegistrationService(store, forms.NewValidator(fileStore), services.NewCapacityLedger(cache, monitor), dispatcher, monitor)

	return &testApp{
		events:        NewEventHandler(services.NewEventService(store, cache)),
		registrations: NewRegistrationHandler(registrations),
		reviews:       NewReviewHandler(registrations),
		notifications: NewNotificationHandler(dispatcher),
		dispatcher:    dispatcher,
	}
}

func authRecord(id string, roles ...string) *core.Record {
	users := core.NewAuthCollection("users")
	users.Fields.Add(&core.SelectField{
		Name:      RolesField,
		MaxSelect: 3,
		Values:    []string{services.RoleAdmin, services.RoleOrganizer, services.RoleCandidate},
	})

	rec := core.NewRecord(users)
	rec.Id = id
	rec.Set(RolesField, roles)
	return rec
}

var (
	organizerAuth = authRecord("org-1", services.RoleOrganizer)
	candidateAuth = authRecord("cand-1", services.RoleCandidate)
)

func newEvent(method, target string, body io.Reader, contentType string, auth *core.Record, pathValues map[string]string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}

	rec := httptest.NewRecorder()
	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	e.Auth = auth
	return e, rec
}

func jsonEvent(t *testing.T, method, target string, payload any, auth *core.Record, pathValues map[string]string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	t.Helper()

	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = strings.NewReader(string(raw))
	}
	return newEvent(method, target, body, "application/json", auth, pathValues)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()

	var apiErr *router.ApiError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Status
}

func (a *testApp) createEvent(t *testing.T, requiresApproval bool) string {
	t.Helper()

	start := time.Now().Add(72 * time.Hour).UTC()
	e, rec := jsonEvent(t, http.MethodPost, "/api/v1/events", map[string]any{
		"title":             "Go Meetup",
		"description":       "Monthly meetup",
		"start_date":        start.Format(time.RFC3339),
		"end_date":          start.Add(2 * time.Hour).Format(time.RFC3339),
		"status":            "published",
		"max_spots":         10,
		"price":             "0",
		"requires_approval": requiresApproval,
		"form_fields": []map[string]any{
			{"label": "Full name", "type": "text", "required": true},
		},
	}, organizerAuth, nil)

	require.NoError(t, a.events.Create(e))
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode(t, rec)["id"].(string)
}

func (a *testApp) submit(t *testing.T, eventID string, values url.Values) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e, rec := newEvent(http.MethodPost, "/api/v1/events/"+eventID+"/registrations",
		strings.NewReader(values.Encode()), "application/x-www-form-urlencoded",
		candidateAuth, map[string]string{"eventId": eventID})
	return rec, a.registrations.Submit(e)
}

func TestAPIError(t *testing.T) {
	verr := status.NewValidationError()
	verr.Add("field_email", "must be a valid email address")

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", verr, http.StatusBadRequest},
		{"schema", fmt.Errorf("%w: %w", status.ErrInvalidSchema, verr), http.StatusBadRequest},
		{"forbidden", status.ErrForbidden, http.StatusForbidden},
		{"event missing", status.ErrEventNotFound, http.StatusNotFound},
		{"registration missing", fmt.Errorf("load: %w", status.ErrRegistrationNotFound), http.StatusNotFound},
		{"notification missing", status.ErrNotificationNotFound, http.StatusNotFound},
		{"full", status.ErrCapacityExceeded, http.StatusConflict},
		{"same state", status.ErrInvalidTransition, http.StatusConflict},
		{"duplicate", status.ErrAlreadyRegistered, http.StatusConflict},
		{"closed", status.ErrRegistrationClosed, http.StatusBadRequest},
		{"invalid event", status.ErrInvalidEvent, http.StatusBadRequest},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, apiStatus(t, apiError(tt.err)))
		})
	}

	assert.NoError(t, apiError(nil))
}

func TestAPIError_KeepsFieldKeys(t *testing.T) {
	verr := status.NewValidationError()
	verr.Add("field_email", "must be a valid email address")
	verr.Add("terms", "You must agree to the terms and conditions.")

	var apiErr *router.ApiError
	require.ErrorAs(t, apiError(verr), &apiErr)
	assert.Contains(t, apiErr.Data, "field_email")
	assert.Contains(t, apiErr.Data, "terms")
}

func TestActorOf(t *testing.T) {
	e, _ := newEvent(http.MethodGet, "/", nil, "", nil, nil)
	assert.Nil(t, actorOf(e))
	_, err := requireActor(e)
	assert.Equal(t, http.StatusUnauthorized, apiStatus(t, err))

	e.Auth = authRecord("admin-1", services.RoleAdmin, services.RoleOrganizer)
	actor := actorOf(e)
	require.NotNil(t, actor)
	assert.Equal(t, "admin-1", actor.ID())
	assert.True(t, actor.HasRole(services.RoleAdmin))
	assert.False(t, actor.HasRole(services.RoleCandidate))
}

func TestSubmit_RequiresSignIn(t *testing.T) {
	app := newTestApp(t)
	eventID := app.createEvent(t, true)

	e, _ := newEvent(http.MethodPost, "/", strings.NewReader(""), "application/x-www-form-urlencoded", nil, map[string]string{"eventId": eventID})
	assert.Equal(t, http.StatusUnauthorized, apiStatus(t, app.registrations.Submit(e)))
}

func TestRegistrationFlow(t *testing.T) {
	app := newTestApp(t)
	eventID := app.createEvent(t, true)

	_, err := app.submit(t, eventID, url.Values{forms.TermsField: {"yes"}})
	var apiErr *router.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Data, "field_full_name")

	values := url.Values{"field_full_name": {"Ada Lovelace"}, forms.TermsField: {"yes"}}
	rec, err := app.submit(t, eventID, values)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Your registration has been submitted and is awaiting review.", body["message"])
	regID := body["registration"].(map[string]any)["id"].(string)

	rec, err = app.submit(t, eventID, values)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, regID, decode(t, rec)["registration"].(map[string]any)["id"])

	// candidates cannot review
	e, _ := jsonEvent(t, http.MethodPost, "/", nil, candidateAuth, map[string]string{"registrationId": regID})
	assert.Equal(t, http.StatusForbidden, apiStatus(t, app.reviews.Approve(e)))

	e, rec = jsonEvent(t, http.MethodPost, "/", map[string]any{"notes": "See you there"}, organizerAuth, map[string]string{"registrationId": regID})
	require.NoError(t, app.reviews.Approve(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	e, _ = jsonEvent(t, http.MethodPost, "/", nil, organizerAuth, map[string]string{"registrationId": regID})
	assert.Equal(t, http.StatusConflict, apiStatus(t, app.reviews.Approve(e)))

	e, rec = newEvent(http.MethodGet, "/?status=approved", nil, "", organizerAuth, map[string]string{"eventId": eventID})
	require.NoError(t, app.reviews.ListForEvent(e))
	listed := decode(t, rec)
	assert.Len(t, listed["registrations"], 1)
	assert.Equal(t, float64(1), listed["counts"].(map[string]any)["approved"])

	_, err = app.dispatcher.DispatchPending(context.Background())
	require.NoError(t, err)

	e, rec = newEvent(http.MethodGet, "/?limit=5", nil, "", candidateAuth, nil)
	require.NoError(t, app.notifications.Inbox(e))
	inbox := decode(t, rec)
	assert.Equal(t, float64(1), inbox["unread"])
	assert.Equal(t, float64(5), inbox["limit"])

	e, rec = newEvent(http.MethodPost, "/", nil, "", candidateAuth, nil)
	require.NoError(t, app.notifications.MarkAllRead(e))
	assert.Equal(t, float64(1), decode(t, rec)["marked"])

	e, rec = newEvent(http.MethodPost, "/", nil, "", candidateAuth, map[string]string{"registrationId": regID})
	require.NoError(t, app.registrations.Cancel(e))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventDetailAndAvailability(t *testing.T) {
	app := newTestApp(t)
	eventID := app.createEvent(t, false)

	_, err := app.submit(t, eventID, url.Values{"field_full_name": {"Ada"}, forms.TermsField: {"on"}})
	require.NoError(t, err)

	e, rec := newEvent(http.MethodGet, "/", nil, "", candidateAuth, map[string]string{"eventId": eventID})
	require.NoError(t, app.events.Detail(e))
	detail := decode(t, rec)
	assert.Equal(t, true, detail["is_registration_open"])
	assert.Equal(t, float64(9), detail["spots_left"])
	assert.Equal(t, "approved", detail["my_registration"].(map[string]any)["status"])

	e, rec = newEvent(http.MethodGet, "/", nil, "", nil, map[string]string{"eventId": eventID})
	require.NoError(t, app.events.Availability(e))
	assert.Equal(t, float64(1), decode(t, rec)["current_registrations"])

	e, _ = newEvent(http.MethodGet, "/", nil, "", nil, map[string]string{"eventId": "missing"})
	assert.Equal(t, http.StatusNotFound, apiStatus(t, app.events.Detail(e)))
}

func TestBulkApprove(t *testing.T) {
	app := newTestApp(t)
	eventID := app.createEvent(t, true)

	_, err := app.submit(t, eventID, url.Values{"field_full_name": {"Ada"}, forms.TermsField: {"yes"}})
	require.NoError(t, err)

	e, rec := jsonEvent(t, http.MethodPost, "/", map[string]any{}, organizerAuth, map[string]string{"eventId": eventID})
	require.NoError(t, app.reviews.BulkApprove(e))
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["approved"])
	assert.Equal(t, float64(0), body["failed"])
}
