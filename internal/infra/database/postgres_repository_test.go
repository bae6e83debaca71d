package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DATABASE_URL and skips the test when it is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := NewPostgresConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func findLocation(states []*pickup.LocationState, id string) *pickup.LocationState {
	for _, st := range states {
		if st.LocationID == id {
			return st
		}
	}
	return nil
}

func TestPostgresLocationRepository_SaveAndReload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresLocationRepository(db)

	const id = "test-54367"
	t.Cleanup(func() { _ = repo.DeleteLocation(context.Background(), id) })

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	fetchedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ev := pickup.Event{LocationID: id, Category: pickup.CategoryRecycling, Date: date, SourceFetchID: "f1"}
	bio := pickup.Event{LocationID: id, Category: pickup.CategoryBio, Date: date.AddDate(0, 0, 2), SourceFetchID: "f1"}

	delivered := pickup.NewReminder(ev, pickup.LeadTime{DaysBefore: 1, Hour: 18}, 7, berlin, fetchedAt)
	deliveredAt := delivered.FireAt.Add(time.Second)
	delivered.Status = pickup.StatusDelivered
	delivered.DeliveredAt = &deliveredAt
	delivered.AttemptCount = 1

	retrying := pickup.NewReminder(bio, pickup.LeadTime{DaysBefore: 1, Hour: 18}, 7, berlin, fetchedAt)
	retryAt := retrying.FireAt.Add(time.Minute)
	retrying.AttemptCount = 1
	retrying.RetryAt = &retryAt
	retrying.ClaimedAt = &retrying.FireAt
	retrying.LastError = "recipient unreachable"

	st := &pickup.LocationState{
		LocationID: id,
		Address:    "Chemnitzer Straße 42",
		Snapshot: &pickup.Snapshot{
			LocationID:    id,
			SourceFetchID: "f1",
			From:          time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			To:            time.Date(2026, 4, 21, 0, 0, 0, 0, time.UTC),
			FetchedAt:     fetchedAt,
			Events:        []pickup.Event{ev, bio},
		},
		Status: pickup.FetchStatus{LastFetchAt: &fetchedAt, LastSuccessAt: &fetchedAt},
		Subscriptions: []pickup.Subscription{
			{Destination: 7, LocationID: id, Address: "Chemnitzer Straße 42", LeadTimes: []string{"1d@18:00", "0d@06:00"}, CreatedAt: fetchedAt},
		},
		Reminders: []pickup.Reminder{delivered, retrying},
	}
	require.NoError(t, repo.SaveLocation(ctx, st))
	// a second save replaces the rows instead of adding to them
	require.NoError(t, repo.SaveLocation(ctx, st))

	states, err := NewPostgresLocationRepository(db).LoadLocations(ctx)
	require.NoError(t, err)
	got := findLocation(states, id)
	require.NotNil(t, got)

	assert.Equal(t, "Chemnitzer Straße 42", got.Address)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, "f1", got.Snapshot.SourceFetchID)
	assert.True(t, got.Snapshot.To.Equal(st.Snapshot.To))
	assert.True(t, got.Snapshot.FetchedAt.Equal(fetchedAt))
	require.Len(t, got.Snapshot.Events, 2)
	assert.Equal(t, ev.Key(), got.Snapshot.Events[0].Key())
	assert.Equal(t, bio.Key(), got.Snapshot.Events[1].Key())
	require.NotNil(t, got.Status.LastSuccessAt)
	assert.True(t, got.Status.LastSuccessAt.Equal(fetchedAt))

	require.Len(t, got.Subscriptions, 1)
	assert.Equal(t, int64(7), got.Subscriptions[0].Destination)
	assert.Equal(t, []string{"1d@18:00", "0d@06:00"}, got.Subscriptions[0].LeadTimes)

	require.Len(t, got.Reminders, 2)
	first, second := got.Reminders[0], got.Reminders[1]
	assert.Equal(t, delivered.Key, first.Key)
	assert.Equal(t, pickup.StatusDelivered, first.Status)
	assert.True(t, first.FireAt.Equal(delivered.FireAt))
	require.NotNil(t, first.DeliveredAt)
	assert.True(t, first.DeliveredAt.Equal(deliveredAt))
	assert.Nil(t, first.RetryAt)

	assert.Equal(t, retrying.Key, second.Key)
	assert.Equal(t, pickup.StatusPending, second.Status)
	assert.Equal(t, 1, second.AttemptCount)
	require.NotNil(t, second.RetryAt)
	assert.True(t, second.RetryAt.Equal(retryAt))
	require.NotNil(t, second.ClaimedAt)
	assert.Equal(t, "recipient unreachable", second.LastError)

	require.NoError(t, repo.DeleteLocation(ctx, id))
	states, err = repo.LoadLocations(ctx)
	require.NoError(t, err)
	assert.Nil(t, findLocation(states, id))
}

func TestPostgresIndexRepository_SaveAndReload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewPostgresIndexRepository(db)

	builtAt := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	idx := address.NewIndex([]address.Record{
		{RawText: "Chemnitzer Straße 42", LocationID: "54367", Fields: address.Fields{Street: "Chemnitzer Straße", HouseNumber: "42", PostalCode: "01187"}},
		{RawText: "Bautzner Straße 7", LocationID: "30007", Fields: address.Fields{Street: "Bautzner Straße", HouseNumber: "7", District: "Äußere Neustadt"}},
	}, builtAt)
	require.NoError(t, repo.SaveIndex(ctx, idx))

	got, err := repo.LoadIndex(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BuiltAt.Equal(builtAt))
	assert.Equal(t, 2, got.Len())
	rec, ok := got.Record("30007")
	require.True(t, ok)
	assert.Equal(t, "Äußere Neustadt", rec.Fields.District)
}
