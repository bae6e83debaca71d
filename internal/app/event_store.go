// internal/app/event_store.go
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var ErrStoreClosed = errors.New("event store is closed")

// errUnchanged lets a mutation report that nothing needs to be persisted.
var errUnchanged = errors.New("unchanged")

// Reasons recorded on rows that leave the pending state without a delivery.
const (
	ReasonEventRemoved = "event removed from calendar"
	ReasonUnsubscribed = "unsubscribed"
	ReasonDatePassed   = "pickup date passed"
	ReasonClaimLost    = "claimed but not confirmed"
	ReasonLeadChanged  = "notification time changed"
)

// EventStore keeps per location the current calendar snapshot, the
// subscriptions and the reminder rows. Every mutation builds a copy of the
// location, persists it and only then swaps it in, so readers never observe a
// half-applied change.
type EventStore struct {
	repo     pickup.Repository
	clock    clockwork.Clock
	tz       *time.Location
	logger   *logrus.Entry
	writeMu  sync.Mutex
	mu       sync.RWMutex
	states   map[string]*pickup.LocationState
	closed   bool
	initDone bool
}

func NewEventStore(repo pickup.Repository, clock clockwork.Clock, tz *time.Location, logger *logrus.Entry) *EventStore {
	return &EventStore{
		repo:   repo,
		clock:  clock,
		tz:     tz,
		logger: logger.WithField("component", "event_store"),
		states: make(map[string]*pickup.LocationState),
	}
}

// Init loads every persisted location.
func (s *EventStore) Init(ctx context.Context) error {
	states, err := s.repo.LoadLocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load locations: %w", err)
	}
	loaded := make(map[string]*pickup.LocationState, len(states))
	for _, st := range states {
		loaded[st.LocationID] = st
	}
	s.mu.Lock()
	s.states = loaded
	s.initDone = true
	s.mu.Unlock()
	s.logger.WithField("locations", len(loaded)).Info("Event store loaded")
	return nil
}

// Close rejects further mutations. Writes already in flight finish first.
func (s *EventStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ready reports whether Init completed and the store still accepts writes.
func (s *EventStore) Ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	if !s.initDone {
		return errors.New("event store not initialised")
	}
	return nil
}

// mutate applies fn to a copy of the location and commits it. If create is
// set, a missing location starts out empty.
func (s *EventStore) mutate(ctx context.Context, locationID string, create bool, fn func(st *pickup.LocationState) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current, ok := s.states[locationID]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}

	var next *pickup.LocationState
	switch {
	case ok:
		next = current.Clone()
	case create:
		next = &pickup.LocationState{LocationID: locationID}
	default:
		return fmt.Errorf("%w: %s", pickup.ErrLocationNotFound, locationID)
	}

	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	if err := s.repo.SaveLocation(ctx, next); err != nil {
		return fmt.Errorf("failed to persist location %s: %w", locationID, err)
	}

	s.mu.Lock()
	s.states[locationID] = next
	s.mu.Unlock()
	return nil
}

// Merge reconciles a freshly fetched calendar window with the stored snapshot.
// Pending rows of removed events become stale; added events get pending rows
// for every subscribed destination and lead time.
func (s *EventStore) Merge(ctx context.Context, locationID string, from, to time.Time, events []pickup.Event, fetchID string) (pickup.Diff, error) {
	var diff pickup.Diff
	err := s.mutate(ctx, locationID, false, func(st *pickup.LocationState) error {
		now := s.clock.Now()
		var old []pickup.Event
		if st.Snapshot != nil {
			old = st.Snapshot.Events
		}
		var merged []pickup.Event
		merged, diff = pickup.Reconcile(old, events, from, to)

		for _, removed := range diff.Removed {
			retirePending(st, now, ReasonEventRemoved, func(r *pickup.Reminder) bool {
				return r.Key.Event == removed.Key()
			})
		}

		st.Snapshot = &pickup.Snapshot{
			LocationID:    locationID,
			SourceFetchID: fetchID,
			From:          from,
			To:            to,
			FetchedAt:     now,
			Events:        merged,
		}
		st.Status.LastFetchAt = pickup.TimePtr(now)
		st.Status.LastSuccessAt = pickup.TimePtr(now)
		st.Status.LastError = ""
		st.Status.LastErrorAt = nil

		s.ensureReminders(st, now)
		return nil
	})
	if err != nil {
		return pickup.Diff{}, err
	}
	return diff, nil
}

// ensureReminders creates a pending row for every upcoming event, subscription
// and lead time that has none. A stale row is replaced, delivered and expired
// rows are kept as they are.
func (s *EventStore) ensureReminders(st *pickup.LocationState, now time.Time) int {
	if st.Snapshot == nil {
		return 0
	}
	today := pickup.DateOf(now.In(s.tz))
	created := 0
	for _, ev := range st.Snapshot.Events {
		if ev.Date.Before(today) {
			continue
		}
		for _, sub := range st.Subscriptions {
			for _, raw := range sub.LeadTimes {
				lead, err := pickup.ParseLeadTime(raw)
				if err != nil {
					s.logger.WithError(err).WithField("destination", sub.Destination).Warn("Skipping invalid lead time on subscription")
					continue
				}
				row := pickup.NewReminder(ev, lead, sub.Destination, s.tz, now)
				if existing := st.Reminder(row.Key); existing != nil {
					if existing.Status != pickup.StatusStale {
						continue
					}
					*existing = row
				} else {
					st.Reminders = append(st.Reminders, row)
				}
				created++
			}
		}
	}
	return created
}

func retirePending(st *pickup.LocationState, now time.Time, reason string, match func(r *pickup.Reminder) bool) int {
	n := 0
	for i := range st.Reminders {
		r := &st.Reminders[i]
		if r.Status != pickup.StatusPending || !match(r) {
			continue
		}
		r.Status = pickup.StatusStale
		r.LastError = reason
		r.UpdatedAt = now
		n++
	}
	return n
}

// RecordFetchError stores the most recent fetch failure on the location status.
func (s *EventStore) RecordFetchError(ctx context.Context, locationID string, fetchErr error) error {
	return s.mutate(ctx, locationID, false, func(st *pickup.LocationState) error {
		now := s.clock.Now()
		st.Status.LastFetchAt = pickup.TimePtr(now)
		st.Status.LastError = fetchErr.Error()
		st.Status.LastErrorAt = pickup.TimePtr(now)
		return nil
	})
}

// transition applies fn to a single reminder row. fn returns errUnchanged for
// a no-op, which keeps terminal transitions idempotent.
func (s *EventStore) transition(ctx context.Context, key pickup.ReminderKey, fn func(r *pickup.Reminder, now time.Time) error) error {
	return s.mutate(ctx, key.Event.LocationID, false, func(st *pickup.LocationState) error {
		r := st.Reminder(key)
		if r == nil {
			return fmt.Errorf("%w: %s", pickup.ErrReminderNotFound, key)
		}
		now := s.clock.Now()
		if err := fn(r, now); err != nil {
			return err
		}
		r.UpdatedAt = now
		return nil
	})
}

// MarkDelivered moves a pending row to delivered. Rows already in a terminal
// state are left alone.
func (s *EventStore) MarkDelivered(ctx context.Context, key pickup.ReminderKey, at time.Time) error {
	return s.transition(ctx, key, func(r *pickup.Reminder, _ time.Time) error {
		if r.Status.Terminal() {
			return errUnchanged
		}
		r.Status = pickup.StatusDelivered
		r.DeliveredAt = pickup.TimePtr(at)
		r.AttemptCount++
		r.RetryAt = nil
		r.LastError = ""
		return nil
	})
}

// MarkExpired moves a pending row to expired with reason.
func (s *EventStore) MarkExpired(ctx context.Context, key pickup.ReminderKey, reason string) error {
	return s.transition(ctx, key, func(r *pickup.Reminder, _ time.Time) error {
		if r.Status.Terminal() {
			return errUnchanged
		}
		r.Status = pickup.StatusExpired
		r.RetryAt = nil
		r.LastError = reason
		return nil
	})
}

// RecordFailure counts a failed delivery attempt and schedules the next one.
// A claim is kept so an at-most-once row is never sent twice.
func (s *EventStore) RecordFailure(ctx context.Context, key pickup.ReminderKey, cause error, retryAt time.Time) error {
	return s.transition(ctx, key, func(r *pickup.Reminder, _ time.Time) error {
		if r.Status.Terminal() {
			return errUnchanged
		}
		r.AttemptCount++
		r.RetryAt = pickup.TimePtr(retryAt)
		r.LastError = cause.Error()
		return nil
	})
}

// Claim persists the intent to send a row before the send happens.
func (s *EventStore) Claim(ctx context.Context, key pickup.ReminderKey, at time.Time) error {
	return s.transition(ctx, key, func(r *pickup.Reminder, _ time.Time) error {
		if r.Status.Terminal() {
			return fmt.Errorf("reminder %s is %s", key, r.Status)
		}
		r.ClaimedAt = pickup.TimePtr(at)
		return nil
	})
}

// Subscribe registers destination for reminders about a location and creates
// rows for the events already known.
func (s *EventStore) Subscribe(ctx context.Context, sub pickup.Subscription) (int, error) {
	created := 0
	err := s.mutate(ctx, sub.LocationID, true, func(st *pickup.LocationState) error {
		if _, exists := st.Subscription(sub.Destination); exists {
			return pickup.ErrAlreadySubscribed
		}
		if st.Address == "" {
			st.Address = sub.Address
		}
		st.Subscriptions = append(st.Subscriptions, sub)
		created = s.ensureReminders(st, s.clock.Now())
		return nil
	})
	return created, err
}

// Unsubscribe removes the subscription and retires its pending rows.
func (s *EventStore) Unsubscribe(ctx context.Context, destination int64, locationID string) error {
	return s.mutate(ctx, locationID, false, func(st *pickup.LocationState) error {
		idx := -1
		for i, sub := range st.Subscriptions {
			if sub.Destination == destination {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pickup.ErrSubscriptionNotFound
		}
		st.Subscriptions = append(st.Subscriptions[:idx], st.Subscriptions[idx+1:]...)
		retirePending(st, s.clock.Now(), ReasonUnsubscribed, func(r *pickup.Reminder) bool {
			return r.Key.Destination == destination
		})
		return nil
	})
}

// SetLeadTimes replaces the lead times of a subscription. Pending rows of lead
// times no longer wanted become stale and rows for new ones are created.
func (s *EventStore) SetLeadTimes(ctx context.Context, destination int64, locationID string, leads []string) (int, error) {
	created := 0
	err := s.mutate(ctx, locationID, false, func(st *pickup.LocationState) error {
		idx := -1
		for i, sub := range st.Subscriptions {
			if sub.Destination == destination {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pickup.ErrSubscriptionNotFound
		}
		st.Subscriptions[idx].LeadTimes = slices.Clone(leads)
		now := s.clock.Now()
		retirePending(st, now, ReasonLeadChanged, func(r *pickup.Reminder) bool {
			return r.Key.Destination == destination && !slices.Contains(leads, r.Key.Lead)
		})
		created = s.ensureReminders(st, now)
		return nil
	})
	return created, err
}

// Prune drops events dated before cutoff together with their rows, as long as
// none of those rows is still pending. It returns the number of dropped events.
func (s *EventStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for _, id := range s.locationIDs() {
		err := s.mutate(ctx, id, false, func(st *pickup.LocationState) error {
			if st.Snapshot == nil {
				return errUnchanged
			}
			pending := make(map[pickup.EventKey]bool)
			for _, r := range st.Reminders {
				if r.Status == pickup.StatusPending {
					pending[r.Key.Event] = true
				}
			}
			drop := make(map[pickup.EventKey]bool)
			kept := st.Snapshot.Events[:0]
			for _, ev := range st.Snapshot.Events {
				if ev.Date.Before(cutoff) && !pending[ev.Key()] {
					drop[ev.Key()] = true
					continue
				}
				kept = append(kept, ev)
			}
			if len(drop) == 0 {
				return errUnchanged
			}
			st.Snapshot.Events = kept
			rows := st.Reminders[:0]
			for _, r := range st.Reminders {
				if !drop[r.Key.Event] {
					rows = append(rows, r)
				}
			}
			st.Reminders = rows
			total += len(drop)
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// PendingBefore returns the pending rows of every location that are due at now.
func (s *EventStore) PendingBefore(now time.Time) []pickup.Reminder {
	var out []pickup.Reminder
	for _, id := range s.locationIDs() {
		out = append(out, s.PendingFor(id, now)...)
	}
	return out
}

// PendingFor returns the due pending rows of one location, oldest first.
func (s *EventStore) PendingFor(locationID string, now time.Time) []pickup.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[locationID]
	if !ok {
		return nil
	}
	var out []pickup.Reminder
	for _, r := range st.Reminders {
		if r.DueAt(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Location returns a copy of the stored state of a location.
func (s *EventStore) Location(locationID string) (*pickup.LocationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[locationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pickup.ErrLocationNotFound, locationID)
	}
	return st.Clone(), nil
}

// Locations returns copies of all locations ordered by id.
func (s *EventStore) Locations() []*pickup.LocationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pickup.LocationState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}

// SubscribedLocations returns the ids of locations with at least one subscription.
func (s *EventStore) SubscribedLocations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, st := range s.states {
		if len(st.Subscriptions) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SubscriptionsOf lists the subscriptions of one destination.
func (s *EventStore) SubscriptionsOf(destination int64) []pickup.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pickup.Subscription
	for _, st := range s.states {
		if sub, ok := st.Subscription(destination); ok {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Reminders returns all rows with the given status, or all rows if status is empty.
func (s *EventStore) Reminders(status pickup.Status) []pickup.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pickup.Reminder
	for _, st := range s.states {
		for _, r := range st.Clone().Reminders {
			if status == "" || r.Status == status {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (s *EventStore) locationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
