package services

import (
	"bytes"
	"context"
	"io/fs"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"registration-system/internal/forms"
	"registration-system/internal/notify"
	"registration-system/internal/storage/files"
	"registration-system/internal/storage/sqlite"
	"registration-system/models"
	"registration-system/monitoring"
)

var (
	admin          = User{UserID: "admin-1", Roles: []string{RoleAdmin}}
	organizer      = User{UserID: "org-1", Roles: []string{RoleOrganizer}}
	otherOrganizer = User{UserID: "org-2", Roles: []string{RoleOrganizer}}
)

func candidate(id string) User {
	return User{UserID: id, Roles: []string{RoleCandidate}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingPublisher) Sent() []notify.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Message(nil), p.sent...)
}

type testEnv struct {
	store         *sqlite.Store
	files         *files.Store
	uploadDir     string
	clock         *fakeClock
	publisher     *recordingPublisher
	events        *EventService
	registrations *RegistrationService
	notifications *NotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	uploadDir := t.TempDir()
	fileStore, err := files.NewLocalStore(uploadDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fileStore.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	monitor := monitoring.NewMonitor(store, time.Minute)
	cache := NewAvailabilityCache(nil, 0)

	notifications := NewNotificationService(store, publisher, monitor, 10)
	notifications.now = clock.Now

	registrations := NewRegistrationService(store, forms.NewValidator(fileStore), NewCapacityLedger(cache, monitor), notifications, monitor)
	registrations.now = clock.Now

	events := NewEventService(store, cache)
	events.now = clock.Now

	return &testEnv{
		store:         store,
		files:         fileStore,
		uploadDir:     uploadDir,
		clock:         clock,
		publisher:     publisher,
		events:        events,
		registrations: registrations,
		notifications: notifications,
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

// createEvent publishes an event owned by organizer, starting in two days.
func (env *testEnv) createEvent(t *testing.T, mutate func(in *EventInput)) *models.Event {
	t.Helper()

	now := env.clock.Now()
	in := EventInput{
		Title:       "Go Meetup",
		Description: "Monthly meetup",
		StartDate:   now.Add(48 * time.Hour),
		EndDate:     now.Add(50 * time.Hour),
		Status:      models.EventPublished,
	}
	if mutate != nil {
		mutate(&in)
	}

	e, err := env.events.Create(context.Background(), organizer, in)
	require.NoError(t, err)
	return e
}

func (env *testEnv) submit(t *testing.T, userID, eventID string) *models.Registration {
	t.Helper()

	reg, err := env.registrations.Submit(context.Background(), candidate(userID), eventID, SubmitInput{Values: acceptTerms()})
	require.NoError(t, err)
	return reg
}

func (env *testEnv) currentRegistrations(t *testing.T, eventID string) int {
	t.Helper()

	e, err := env.store.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	return e.CurrentRegistrations
}

func acceptTerms() url.Values {
	return url.Values{forms.TermsField: {"yes"}}
}

// countFiles counts regular files under dir.
func countFiles(t *testing.T, dir string) int {
	t.Helper()

	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

// multipartFiles builds parsed file headers the way a request body would.
func multipartFiles(t *testing.T, field, name string, content []byte) map[string][]*multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File
}
