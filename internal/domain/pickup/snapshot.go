// internal/domain/pickup/snapshot.go
package pickup

import "time"

// Snapshot is the set of events known for a location as of one fetch.
type Snapshot struct {
	LocationID    string    `json:"location_id"`
	SourceFetchID string    `json:"source_fetch_id"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	FetchedAt     time.Time `json:"fetched_at"`
	Events        []Event   `json:"events"`
}

// Diff is the reconciliation result between two snapshots.
type Diff struct {
	Added   []Event `json:"added"`
	Removed []Event `json:"removed"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

type diffKey struct {
	category Category
	date     string
}

func keyOf(e Event) diffKey {
	return diffKey{category: e.Category, date: e.Date.Format(DateLayout)}
}

// Reconcile compares the previous events of a location with a fresh fetch
// covering [from, to]. Old events inside the window that are missing from the
// fetch are removed; old events outside the window are kept as they are.
// The comparison is keyed by (category, date), so upstream ordering and
// duplicate occurrences do not matter. It returns the merged event set and
// the diff.
func Reconcile(old, fresh []Event, from, to time.Time) ([]Event, Diff) {
	freshByKey := make(map[diffKey]Event, len(fresh))
	for _, e := range fresh {
		if _, dup := freshByKey[keyOf(e)]; !dup {
			freshByKey[keyOf(e)] = e
		}
	}

	var diff Diff
	merged := make([]Event, 0, len(old)+len(fresh))
	oldKeys := make(map[diffKey]struct{}, len(old))
	for _, e := range old {
		k := keyOf(e)
		oldKeys[k] = struct{}{}
		if e.Date.Before(from) || e.Date.After(to) {
			if _, refetched := freshByKey[k]; !refetched {
				merged = append(merged, e)
			}
			continue
		}
		if _, still := freshByKey[k]; !still {
			diff.Removed = append(diff.Removed, e)
		}
	}

	for k, e := range freshByKey {
		if _, known := oldKeys[k]; !known {
			diff.Added = append(diff.Added, e)
		}
		merged = append(merged, e)
	}

	SortEvents(merged)
	SortEvents(diff.Added)
	SortEvents(diff.Removed)
	return merged, diff
}
