package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/domain/pickup"
	"waste_reminder_bot/internal/infra/filestore"
	"waste_reminder_bot/internal/infra/httpapi"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestServer(t *testing.T, readyErr error) *httpapi.Server {
	t.Helper()
	ctx := context.Background()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, berlin))

	dir := t.TempDir()
	repo, err := filestore.New(filepath.Join(dir, "state.json"), filepath.Join(dir, "index.json"), testLogger())
	require.NoError(t, err)
	store := app.NewEventStore(repo, clock, berlin, testLogger())
	require.NoError(t, store.Init(ctx))

	_, err = store.Subscribe(ctx, pickup.Subscription{
		Destination: 7,
		LocationID:  "54367",
		Address:     "Chemnitzer Straße 42",
		LeadTimes:   []string{"1d@18:00"},
		CreatedAt:   clock.Now(),
	})
	require.NoError(t, err)
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err = store.Merge(ctx, "54367", from, from.AddDate(0, 0, 42), []pickup.Event{
		{LocationID: "54367", Category: pickup.CategoryRecycling, Date: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), SourceFetchID: "f1"},
	}, "f1")
	require.NoError(t, err)

	return httpapi.NewServer(":0", store, clock, berlin, testLogger(), &mockReadiness{err: readyErr})
}

func get(t *testing.T, srv *httpapi.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(t, errors.New("address index is empty")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "address index is empty", body["error"])

	rec = get(t, newTestServer(t, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExists(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocations(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/locations")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []app.LocationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "54367", body[0].LocationID)
	assert.Equal(t, 1, body[0].Subscribers)
	assert.Equal(t, 1, body[0].Pending)
	assert.Equal(t, "2026-03-15", body[0].NextPickup)
}

func TestLocationDetail(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := get(t, srv, "/api/locations/54367")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		LocationID string `json:"location_id"`
		Upcoming   []struct {
			Category string `json:"category"`
			Date     string `json:"date"`
		} `json:"upcoming_events"`
		Reminders []pickup.Reminder `json:"reminders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "54367", body.LocationID)
	require.Len(t, body.Upcoming, 1)
	assert.Equal(t, "2026-03-15", body.Upcoming[0].Date)
	require.Len(t, body.Reminders, 1)
	assert.Equal(t, pickup.StatusPending, body.Reminders[0].Status)

	rec = get(t, srv, "/api/locations/99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReminders(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := get(t, srv, "/api/reminders?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []pickup.Reminder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)

	rec = get(t, srv, "/api/reminders?status=delivered")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = get(t, srv, "/api/reminders?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
