package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

// SubscribeResult describes a new subscription.
type SubscribeResult struct {
	Record    address.Record
	Reminders int         // rows created from the cached snapshot
	Diff      pickup.Diff // result of the immediate calendar refresh
	FetchErr  error       // set if the immediate refresh failed
}

// UpcomingPickup is a future event of one of a destination's subscriptions.
type UpcomingPickup struct {
	Address string
	Event   pickup.Event
}

// LocationSummary is the health view of one location.
type LocationSummary struct {
	LocationID    string     `json:"location_id"`
	Address       string     `json:"address"`
	Subscribers   int        `json:"subscribers"`
	Events        int        `json:"events"`
	NextPickup    string     `json:"next_pickup,omitempty"`
	HorizonTo     string     `json:"horizon_to,omitempty"`
	Pending       int        `json:"pending"`
	Delivered     int        `json:"delivered"`
	Expired       int        `json:"expired"`
	Stale         int        `json:"stale"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

type SubscriptionService struct {
	resolver        *AddressResolver
	store           *EventStore
	reminders       *ReminderService
	clock           clockwork.Clock
	defaultLeads    []pickup.LeadTime
	location        *time.Location
	adminTelegramID int64
	logger          *logrus.Entry
}

func NewSubscriptionService(
	resolver *AddressResolver,
	store *EventStore,
	reminders *ReminderService,
	clock clockwork.Clock,
	defaultLeads []pickup.LeadTime,
	location *time.Location,
	adminID int64,
	logger *logrus.Entry,
) *SubscriptionService {
	return &SubscriptionService{
		resolver:        resolver,
		store:           store,
		reminders:       reminders,
		clock:           clock,
		defaultLeads:    defaultLeads,
		location:        location,
		adminTelegramID: adminID,
		logger:          logger.WithField("component", "subscription_service"),
	}
}

// Subscribe resolves a free-text address and subscribes destination to it.
// Empty leads fall back to the configured default lead times.
// Resolution errors (address.ErrNotFound, *address.AmbiguousError) are
// returned unchanged so the caller can ask the user.
func (s *SubscriptionService) Subscribe(ctx context.Context, destination int64, query, hint string, leads []pickup.LeadTime) (SubscribeResult, error) {
	rec, err := s.resolver.Resolve(ctx, query, hint)
	if err != nil {
		return SubscribeResult{}, err
	}
	return s.subscribe(ctx, destination, rec, leads)
}

// SubscribeLocation subscribes destination to a location picked from a
// candidate list.
func (s *SubscriptionService) SubscribeLocation(ctx context.Context, destination int64, locationID string, leads []pickup.LeadTime) (SubscribeResult, error) {
	rec, ok := s.resolver.Lookup(locationID)
	if !ok {
		return SubscribeResult{}, fmt.Errorf("%w: %s", pickup.ErrLocationNotFound, locationID)
	}
	return s.subscribe(ctx, destination, rec, leads)
}

func (s *SubscriptionService) subscribe(ctx context.Context, destination int64, rec address.Record, leads []pickup.LeadTime) (SubscribeResult, error) {
	sub := pickup.Subscription{
		Destination: destination,
		LocationID:  rec.LocationID,
		Address:     rec.RawText,
		LeadTimes:   s.leadStrings(leads),
		CreatedAt:   s.clock.Now(),
	}
	created, err := s.store.Subscribe(ctx, sub)
	if err != nil {
		return SubscribeResult{}, err
	}
	logCtx := s.logger.WithFields(logrus.Fields{
		"destination": destination,
		"location_id": rec.LocationID,
		"lead_times":  sub.LeadTimes,
	})
	logCtx.Info("Subscription created")

	res := SubscribeResult{Record: rec, Reminders: created}
	res.Diff, res.FetchErr = s.reminders.RefreshLocation(ctx, rec.LocationID)
	if res.FetchErr != nil {
		logCtx.WithError(res.FetchErr).Warn("Initial calendar fetch failed, the next tick will retry")
	}
	return res, nil
}

// SetLeadTimes changes when destination is reminded about a location.
// It returns the number of reminder rows created for the new lead times.
func (s *SubscriptionService) SetLeadTimes(ctx context.Context, destination int64, locationID string, leads []pickup.LeadTime) (int, error) {
	values := s.leadStrings(leads)
	created, err := s.store.SetLeadTimes(ctx, destination, locationID, values)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"destination": destination,
		"location_id": locationID,
		"lead_times":  values,
	}).Info("Subscription lead times changed")
	return created, nil
}

func (s *SubscriptionService) leadStrings(leads []pickup.LeadTime) []string {
	if len(leads) == 0 {
		leads = s.defaultLeads
	}
	out := make([]string, 0, len(leads))
	for _, l := range leads {
		out = append(out, l.String())
	}
	return out
}

// Unsubscribe removes the subscription of destination for a location.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, destination int64, locationID string) error {
	if err := s.store.Unsubscribe(ctx, destination, locationID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"destination": destination, "location_id": locationID}).Info("Subscription removed")
	return nil
}

func (s *SubscriptionService) Subscriptions(destination int64) []pickup.Subscription {
	return s.store.SubscriptionsOf(destination)
}

// NextPickups lists the upcoming pickups of every subscription of destination,
// earliest first, at most limit entries.
func (s *SubscriptionService) NextPickups(destination int64, limit int) []UpcomingPickup {
	today := pickup.DateOf(s.clock.Now().In(s.location))
	var out []UpcomingPickup
	for _, sub := range s.store.SubscriptionsOf(destination) {
		st, err := s.store.Location(sub.LocationID)
		if err != nil || st.Snapshot == nil {
			continue
		}
		for _, ev := range st.Snapshot.Events {
			if !ev.Date.Before(today) {
				out = append(out, UpcomingPickup{Address: sub.Address, Event: ev})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Event.Date.Before(out[j].Event.Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Status returns the health of every location. Admin only.
func (s *SubscriptionService) Status(performingAdminID int64) ([]LocationSummary, error) {
	if performingAdminID != s.adminTelegramID {
		return nil, ErrAdminNotAuthorized
	}
	return Summaries(s.store, s.clock.Now().In(s.location)), nil
}

// Summaries builds the health view of all locations in the store.
func Summaries(store *EventStore, now time.Time) []LocationSummary {
	today := pickup.DateOf(now)
	states := store.Locations()
	out := make([]LocationSummary, 0, len(states))
	for _, st := range states {
		out = append(out, Summarize(st, today))
	}
	return out
}

// Summarize condenses one location state.
func Summarize(st *pickup.LocationState, today time.Time) LocationSummary {
	sum := LocationSummary{
		LocationID:    st.LocationID,
		Address:       st.Address,
		Subscribers:   len(st.Subscriptions),
		LastSuccessAt: st.Status.LastSuccessAt,
		LastError:     st.Status.LastError,
		LastErrorAt:   st.Status.LastErrorAt,
	}
	if st.Snapshot != nil {
		sum.Events = len(st.Snapshot.Events)
		sum.HorizonTo = st.Snapshot.To.Format(pickup.DateLayout)
		for _, ev := range st.Snapshot.Events {
			if !ev.Date.Before(today) {
				sum.NextPickup = ev.Date.Format(pickup.DateLayout)
				break
			}
		}
	}
	for _, r := range st.Reminders {
		switch r.Status {
		case pickup.StatusPending:
			sum.Pending++
		case pickup.StatusDelivered:
			sum.Delivered++
		case pickup.StatusExpired:
			sum.Expired++
		case pickup.StatusStale:
			sum.Stale++
		}
	}
	return sum
}
