// internal/domain/pickup/location.go
package pickup

import (
	"slices"
	"time"
)

// Subscription asks for reminders about one location to be sent to one destination.
type Subscription struct {
	Destination int64     `json:"destination"`
	LocationID  string    `json:"location_id"`
	Address     string    `json:"address"`
	LeadTimes   []string  `json:"lead_times"` // LeadTime.String() values
	CreatedAt   time.Time `json:"created_at"`
}

// FetchStatus records the health of the calendar fetches for a location.
type FetchStatus struct {
	LastFetchAt   *time.Time `json:"last_fetch_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

// LocationState is everything the store keeps for one location. It is the
// unit of persistence: a location is always saved and loaded as a whole.
type LocationState struct {
	LocationID    string         `json:"location_id"`
	Address       string         `json:"address"`
	Snapshot      *Snapshot      `json:"snapshot,omitempty"`
	Status        FetchStatus    `json:"status"`
	Subscriptions []Subscription `json:"subscriptions"`
	Reminders     []Reminder     `json:"reminders"`
}

// Clone returns a deep copy so callers can never mutate shared state.
func (s *LocationState) Clone() *LocationState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Snapshot != nil {
		snap := *s.Snapshot
		snap.Events = slices.Clone(s.Snapshot.Events)
		out.Snapshot = &snap
	}
	out.Status = FetchStatus{
		LastFetchAt:   cloneTime(s.Status.LastFetchAt),
		LastSuccessAt: cloneTime(s.Status.LastSuccessAt),
		LastError:     s.Status.LastError,
		LastErrorAt:   cloneTime(s.Status.LastErrorAt),
	}
	out.Subscriptions = make([]Subscription, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		sub.LeadTimes = slices.Clone(sub.LeadTimes)
		out.Subscriptions[i] = sub
	}
	out.Reminders = make([]Reminder, len(s.Reminders))
	for i, r := range s.Reminders {
		r.DeliveredAt = cloneTime(r.DeliveredAt)
		r.RetryAt = cloneTime(r.RetryAt)
		r.ClaimedAt = cloneTime(r.ClaimedAt)
		out.Reminders[i] = r
	}
	return &out
}

// Subscription returns the subscription of destination, if any.
func (s *LocationState) Subscription(destination int64) (Subscription, bool) {
	for _, sub := range s.Subscriptions {
		if sub.Destination == destination {
			return sub, true
		}
	}
	return Subscription{}, false
}

// Reminder returns a pointer into s.Reminders for key, or nil.
func (s *LocationState) Reminder(key ReminderKey) *Reminder {
	for i := range s.Reminders {
		if s.Reminders[i].Key == key {
			return &s.Reminders[i]
		}
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
