package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"waste_reminder_bot/internal/domain/pickup"
	"waste_reminder_bot/internal/infra/filestore"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowFrom = pickupDay("2026-03-10")
	windowTo   = pickupDay("2026-04-21")
)

func newTestStore(t *testing.T, repo pickup.Repository) (*EventStore, *clockwork.FakeClock) {
	t.Helper()
	loc := berlin(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, loc))
	store := NewEventStore(repo, clock, loc, testLogger())
	require.NoError(t, store.Init(context.Background()))
	return store, clock
}

func subscribe(t *testing.T, store *EventStore, destination int64, leads ...string) {
	t.Helper()
	if len(leads) == 0 {
		leads = []string{"1d@18:00"}
	}
	_, err := store.Subscribe(context.Background(), pickup.Subscription{
		Destination: destination,
		LocationID:  "54367",
		Address:     "Chemnitzer Straße 42",
		LeadTimes:   leads,
	})
	require.NoError(t, err)
}

func rowsByStatus(store *EventStore, status pickup.Status) []pickup.Reminder {
	return store.Reminders(status)
}

func TestEventStore_MergeCreatesRowsPerDestinationAndLead(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7, "1d@18:00", "0d@06:30")
	subscribe(t, store, 8)

	diff, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{
		event(pickup.CategoryRecycling, "2026-03-15"),
		event(pickup.CategoryBio, "2026-03-17"),
	}, "f1")
	require.NoError(t, err)
	assert.Len(t, diff.Added, 2)
	assert.Empty(t, diff.Removed)

	// 2 events x (2 leads for 7 + 1 lead for 8)
	assert.Len(t, rowsByStatus(store, pickup.StatusPending), 6)
}

func TestEventStore_UnchangedMergeHasEmptyDiff(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7)
	events := []pickup.Event{event(pickup.CategoryRecycling, "2026-03-15"), event(pickup.CategoryBio, "2026-03-17")}

	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, events, "f1")
	require.NoError(t, err)
	diff, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{events[1], events[0], events[0]}, "f2")
	require.NoError(t, err)

	assert.True(t, diff.Empty())
	assert.Len(t, store.Reminders(""), 2)
}

func TestEventStore_DateShiftMarksStaleAndCreatesPending(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7)

	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{event(pickup.CategoryRecycling, "2026-03-15")}, "f1")
	require.NoError(t, err)
	diff, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{event(pickup.CategoryRecycling, "2026-03-16")}, "f2")
	require.NoError(t, err)

	require.Len(t, diff.Added, 1)
	require.Len(t, diff.Removed, 1)

	stale := rowsByStatus(store, pickup.StatusStale)
	require.Len(t, stale, 1)
	assert.Equal(t, "2026-03-15", stale[0].Key.Event.Date)
	assert.Equal(t, ReasonEventRemoved, stale[0].LastError)

	pending := rowsByStatus(store, pickup.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "2026-03-16", pending[0].Key.Event.Date)

	// the original date comes back: the stale row is revived, not duplicated
	_, err = store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{event(pickup.CategoryRecycling, "2026-03-15")}, "f3")
	require.NoError(t, err)
	assert.Len(t, store.Reminders(""), 2)
	pending = rowsByStatus(store, pickup.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, "2026-03-15", pending[0].Key.Event.Date)
}

func TestEventStore_DeliveredRowsAreNeverRecreated(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7)
	ev := event(pickup.CategoryRecycling, "2026-03-15")

	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{ev}, "f1")
	require.NoError(t, err)
	key := rowsByStatus(store, pickup.StatusPending)[0].Key

	require.NoError(t, store.MarkDelivered(ctx, key, time.Now()))
	require.NoError(t, store.MarkDelivered(ctx, key, time.Now()))
	require.NoError(t, store.MarkExpired(ctx, key, "late"))

	// removed and re-added upstream
	_, err = store.Merge(ctx, "54367", windowFrom, windowTo, nil, "f2")
	require.NoError(t, err)
	_, err = store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{ev}, "f3")
	require.NoError(t, err)

	rows := store.Reminders("")
	require.Len(t, rows, 1)
	assert.Equal(t, pickup.StatusDelivered, rows[0].Status)
	assert.Equal(t, 1, rows[0].AttemptCount)
}

func TestEventStore_UnsubscribeRetiresPendingRows(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7)
	subscribe(t, store, 8)
	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{event(pickup.CategoryBio, "2026-03-17")}, "f1")
	require.NoError(t, err)

	require.NoError(t, store.Unsubscribe(ctx, 7, "54367"))
	assert.ErrorIs(t, store.Unsubscribe(ctx, 7, "54367"), pickup.ErrSubscriptionNotFound)

	stale := rowsByStatus(store, pickup.StatusStale)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(7), stale[0].Key.Destination)
	assert.Equal(t, ReasonUnsubscribed, stale[0].LastError)
	assert.Empty(t, store.SubscriptionsOf(7))
	assert.Len(t, store.SubscriptionsOf(8), 1)

	_, err = store.Subscribe(ctx, pickup.Subscription{Destination: 8, LocationID: "54367", LeadTimes: []string{"1d@18:00"}})
	assert.ErrorIs(t, err, pickup.ErrAlreadySubscribed)

	// resubscribing revives the row
	subscribe(t, store, 7)
	assert.Len(t, rowsByStatus(store, pickup.StatusPending), 2)
}

func TestEventStore_MergeUnknownLocation(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	_, err := store.Merge(context.Background(), "99999", windowFrom, windowTo, nil, "f1")
	assert.ErrorIs(t, err, pickup.ErrLocationNotFound)
}

func TestEventStore_FailedSaveLeavesStateUntouched(t *testing.T) {
	repo := newMemRepo()
	store, _ := newTestStore(t, repo)
	ctx := context.Background()
	subscribe(t, store, 7)

	repo.failErr = errors.New("disk full")
	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{event(pickup.CategoryBio, "2026-03-17")}, "f1")
	require.Error(t, err)

	st, err := store.Location("54367")
	require.NoError(t, err)
	assert.Nil(t, st.Snapshot)
	assert.Empty(t, st.Reminders)
}

func TestEventStore_RestartRestoresSchedulingState(t *testing.T) {
	dir := t.TempDir()
	newFileStore := func() *filestore.Store {
		fs, err := filestore.New(filepath.Join(dir, "state.json"), filepath.Join(dir, "index.json"), testLogger())
		require.NoError(t, err)
		return fs
	}
	ctx := context.Background()

	store, _ := newTestStore(t, newFileStore())
	subscribe(t, store, 7)
	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{
		event(pickup.CategoryRecycling, "2026-03-15"),
		event(pickup.CategoryBio, "2026-03-17"),
	}, "f1")
	require.NoError(t, err)
	pending := rowsByStatus(store, pickup.StatusPending)
	require.Len(t, pending, 2)
	require.NoError(t, store.MarkDelivered(ctx, pending[0].Key, time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)))
	require.NoError(t, store.RecordFailure(ctx, pending[1].Key, errors.New("timeout"), time.Date(2026, 3, 16, 18, 5, 0, 0, time.UTC)))
	require.NoError(t, store.Close())

	restarted, _ := newTestStore(t, newFileStore())
	before := store.Locations()
	after := restarted.Locations()
	require.Len(t, after, 1)
	assert.Equal(t, before[0].Subscriptions[0].Destination, after[0].Subscriptions[0].Destination)
	assert.Equal(t, len(before[0].Snapshot.Events), len(after[0].Snapshot.Events))
	require.Len(t, after[0].Reminders, 2)
	for i := range before[0].Reminders {
		b, a := before[0].Reminders[i], after[0].Reminders[i]
		assert.Equal(t, b.Key, a.Key)
		assert.Equal(t, b.Status, a.Status)
		assert.Equal(t, b.AttemptCount, a.AttemptCount)
		assert.True(t, b.FireAt.Equal(a.FireAt))
	}
	assert.Len(t, restarted.Reminders(pickup.StatusDelivered), 1)
}

func TestEventStore_ClosedStoreRejectsWrites(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	require.NoError(t, store.Ready())
	require.NoError(t, store.Close())

	_, err := store.Subscribe(context.Background(), pickup.Subscription{Destination: 7, LocationID: "54367"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Ready(), ErrStoreClosed)
}

func TestEventStore_PruneKeepsPendingHistory(t *testing.T) {
	store, _ := newTestStore(t, newMemRepo())
	ctx := context.Background()
	subscribe(t, store, 7)
	_, err := store.Merge(ctx, "54367", windowFrom, windowTo, []pickup.Event{
		event(pickup.CategoryRecycling, "2026-03-15"),
		event(pickup.CategoryBio, "2026-03-17"),
	}, "f1")
	require.NoError(t, err)
	delivered := rowsByStatus(store, pickup.StatusPending)[0]
	require.Equal(t, "2026-03-15", delivered.Key.Event.Date)
	require.NoError(t, store.MarkDelivered(ctx, delivered.Key, time.Now()))

	n, err := store.Prune(ctx, pickupDay("2026-04-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := store.Location("54367")
	require.NoError(t, err)
	require.Len(t, st.Snapshot.Events, 1)
	assert.Equal(t, pickup.CategoryBio, st.Snapshot.Events[0].Category)
	assert.Len(t, st.Reminders, 1)
}
