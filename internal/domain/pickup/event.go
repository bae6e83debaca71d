// internal/domain/pickup/event.go
package pickup

import (
	"sort"
	"time"
)

// DateLayout is the canonical text form of a pickup date.
const DateLayout = "2006-01-02"

// Event is a single scheduled collection of one category on one date.
// Events are never edited; a changed upstream date produces a new event.
type Event struct {
	LocationID    string    `json:"location_id"`
	Category      Category  `json:"category"`
	Date          time.Time `json:"date"` // midnight UTC, no time component
	SourceFetchID string    `json:"source_fetch_id"`
}

// EventKey identifies an event independently of the fetch that produced it.
type EventKey struct {
	LocationID string   `json:"location_id"`
	Category   Category `json:"category"`
	Date       string   `json:"date"` // DateLayout
}

func (e Event) Key() EventKey {
	return EventKey{LocationID: e.LocationID, Category: e.Category, Date: e.Date.Format(DateLayout)}
}

func (k EventKey) String() string {
	return k.LocationID + "/" + string(k.Category) + "/" + k.Date
}

// DateOf strips the time of day from t, keeping the calendar date as seen in t's location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a DateLayout string into a pickup date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// SortEvents orders events by date, then category.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Category < events[j].Category
	})
}

// FetchResult is one parsed calendar fetch for a location and date window.
type FetchResult struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	FetchedAt  time.Time `json:"fetched_at"`
	Events     []Event   `json:"events"`
}
