// internal/domain/pickup/reminder.go
package pickup

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the delivery state of a reminder row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusExpired   Status = "EXPIRED"
	StatusStale     Status = "STALE"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusExpired || s == StatusStale
}

// LeadTime is how far ahead of the pickup date a reminder fires:
// DaysBefore days earlier, at the given local time of day.
type LeadTime struct {
	DaysBefore int
	Hour       int
	Minute     int
}

// ParseLeadTime parses the "<days>d@HH:MM" notation, e.g. "1d@18:00".
func ParseLeadTime(s string) (LeadTime, error) {
	days, clock, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || !strings.HasSuffix(days, "d") {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: expected <days>d@HH:MM", s)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(days, "d"))
	if err != nil || n < 0 {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: bad day count", s)
	}
	at, err := time.Parse("15:04", clock)
	if err != nil {
		return LeadTime{}, fmt.Errorf("invalid lead time %q: %w", s, err)
	}
	return LeadTime{DaysBefore: n, Hour: at.Hour(), Minute: at.Minute()}, nil
}

// ParseLeadTimes parses a comma separated list of lead times.
func ParseLeadTimes(s string) ([]LeadTime, error) {
	var out []LeadTime
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lt, err := ParseLeadTime(part)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no lead times in %q", s)
	}
	return out, nil
}

// LeadPresets are the named notification times offered by the bot.
var LeadPresets = map[string]string{
	"abend":  "1d@19:00",
	"morgen": "0d@06:00",
}

// ParseLeadChoice parses a comma separated list of preset names or lead times,
// e.g. "abend", "abend,morgen" or "2d@18:00".
func ParseLeadChoice(s string) ([]LeadTime, error) {
	parts := strings.Split(s, ",")
	for i, part := range parts {
		if preset, ok := LeadPresets[strings.ToLower(strings.TrimSpace(part))]; ok {
			parts[i] = preset
		}
	}
	return ParseLeadTimes(strings.Join(parts, ","))
}

func (l LeadTime) String() string {
	return fmt.Sprintf("%dd@%02d:%02d", l.DaysBefore, l.Hour, l.Minute)
}

// FireAt returns the instant the reminder for a pickup on date fires, in loc.
func (l LeadTime) FireAt(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day()-l.DaysBefore, l.Hour, l.Minute, 0, 0, loc)
}

// Describe renders the lead time for humans, e.g. "1 Tag vorher um 18:00".
func (l LeadTime) Describe() string {
	switch l.DaysBefore {
	case 0:
		return fmt.Sprintf("am Abholtag um %02d:%02d", l.Hour, l.Minute)
	case 1:
		return fmt.Sprintf("1 Tag vorher um %02d:%02d", l.Hour, l.Minute)
	default:
		return fmt.Sprintf("%d Tage vorher um %02d:%02d", l.DaysBefore, l.Hour, l.Minute)
	}
}

// ReminderKey identifies a reminder row: one per event, lead time and destination.
type ReminderKey struct {
	Event       EventKey `json:"event"`
	Destination int64    `json:"destination"`
	Lead        string   `json:"lead"` // LeadTime.String()
}

func (k ReminderKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Event, k.Destination, k.Lead)
}

// Reminder tracks delivery of one reminder row.
type Reminder struct {
	Key          ReminderKey `json:"key"`
	FireAt       time.Time   `json:"fire_at"`
	Status       Status      `json:"status"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty"`
	AttemptCount int         `json:"attempt_count"`
	RetryAt      *time.Time  `json:"retry_at,omitempty"`   // earliest next attempt after a failure
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty"` // set before sending in at-most-once mode
	LastError    string      `json:"last_error,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DueAt reports whether the row should be attempted at now.
func (r *Reminder) DueAt(now time.Time) bool {
	if r.Status != StatusPending || r.FireAt.After(now) {
		return false
	}
	return r.RetryAt == nil || !r.RetryAt.After(now)
}

// NewReminder creates a pending row for an event, lead time and destination.
func NewReminder(ev Event, lead LeadTime, destination int64, loc *time.Location, now time.Time) Reminder {
	return Reminder{
		Key: ReminderKey{
			Event:       ev.Key(),
			Destination: destination,
			Lead:        lead.String(),
		},
		FireAt:    lead.FireAt(ev.Date, loc),
		Status:    StatusPending,
		UpdatedAt: now,
	}
}
