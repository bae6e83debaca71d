package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"
	"waste_reminder_bot/internal/observability"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func pickupDay(s string) time.Time {
	d, err := pickup.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func event(cat pickup.Category, d string) pickup.Event {
	return pickup.Event{LocationID: "54367", Category: cat, Date: pickupDay(d), SourceFetchID: "f1"}
}

// advanceTo moves a fake clock forward to t.
func advanceTo(clock *clockwork.FakeClock, t time.Time) {
	clock.Advance(t.Sub(clock.Now()))
}

// memRepo is an in-memory pickup.Repository.
type memRepo struct {
	mu      sync.Mutex
	states  map[string]*pickup.LocationState
	saves   int
	failErr error
}

func newMemRepo() *memRepo {
	return &memRepo{states: make(map[string]*pickup.LocationState)}
}

func (m *memRepo) LoadLocations(_ context.Context) ([]*pickup.LocationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*pickup.LocationState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	return out, nil
}

func (m *memRepo) SaveLocation(_ context.Context, st *pickup.LocationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.states[st.LocationID] = st.Clone()
	return nil
}

func (m *memRepo) DeleteLocation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

// memIndexCache is an in-memory address.IndexCache.
type memIndexCache struct {
	mu  sync.Mutex
	idx *address.Index
}

func (m *memIndexCache) LoadIndex(_ context.Context) (*address.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx, nil
}

func (m *memIndexCache) SaveIndex(_ context.Context, idx *address.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx = idx
	return nil
}

type fakeCatalogue struct {
	mu      sync.Mutex
	records []address.Record
	err     error
	calls   int
}

func (f *fakeCatalogue) FetchCatalogue(_ context.Context) ([]address.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]address.Record(nil), f.records...), nil
}

func testCatalogue() []address.Record {
	rec := func(raw, id, plz, district string) address.Record {
		street, number := address.SplitStreet(raw)
		return address.Record{RawText: raw, LocationID: id, Fields: address.Fields{
			Street: street, HouseNumber: number, PostalCode: plz, District: district,
		}}
	}
	return []address.Record{
		rec("Chemnitzer Straße 42", "54367", "01187", "Plauen"),
		rec("Chemnitzer Straße 44", "54368", "01187", "Plauen"),
		rec("Hauptstraße 1", "10001", "01097", "Innere Neustadt"),
		rec("Hauptstraße 1", "20001", "01328", "Weißig"),
		rec("Bautzner Straße 7", "30007", "01099", "Äußere Neustadt"),
	}
}

// fakeCalendar serves a fixed event list per location, filtered to the
// requested window.
type fakeCalendar struct {
	mu     sync.Mutex
	events map[string][]pickup.Event
	err    error
	calls  int
}

func (f *fakeCalendar) set(locationID string, events ...pickup.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = make(map[string][]pickup.Event)
	}
	f.events[locationID] = events
}

func (f *fakeCalendar) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCalendar) Fetch(_ context.Context, locationID string, from, to time.Time) (pickup.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return pickup.FetchResult{}, &pickup.FetchError{FetchID: "failed", LocationID: locationID, From: from, To: to, Err: f.err}
	}
	res := pickup.FetchResult{ID: "fetch", LocationID: locationID, From: from, To: to}
	for _, ev := range f.events[locationID] {
		if !ev.Date.Before(from) && !ev.Date.After(to) {
			res.Events = append(res.Events, ev)
		}
	}
	return res, nil
}

type sentMessage struct {
	destination int64
	text        string
}

type fakeClient struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeClient) Deliver(_ context.Context, destination int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{destination: destination, text: message})
	return f.err
}

func (f *fakeClient) calls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

var errSendFailed = errors.New("telegram: internal server error")

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}
