package upstream

import (
	"fmt"
	"io"
	"strings"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	ics "github.com/arran4/golang-ical"
)

const (
	icsDateLayout     = "20060102"
	icsDateTimeLayout = "20060102T150405"
)

var icsUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// ParseICS turns a calendar document into pickup events, one per VEVENT.
// Timed starts are dated in loc. Repeated (category, date) occurrences
// collapse to one and the result is sorted by date and category.
func ParseICS(r io.Reader, locationID, fetchID string, loc *time.Location) ([]pickup.Event, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pickup.ErrMalformedDocument, err)
	}

	seen := make(map[pickup.EventKey]bool)
	var events []pickup.Event
	for _, ev := range cal.Events() {
		date, err := eventDate(ev, loc)
		if err != nil {
			return nil, err
		}
		category, err := pickup.Classify(propertyText(ev, ics.ComponentPropertySummary), propertyText(ev, ics.ComponentPropertyDescription))
		if err != nil {
			return nil, fmt.Errorf("event on %s: %w", date.Format(pickup.DateLayout), err)
		}
		e := pickup.Event{LocationID: locationID, Category: category, Date: date, SourceFetchID: fetchID}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		events = append(events, e)
	}
	pickup.SortEvents(events)
	return events, nil
}

// eventDate reads the calendar date of DTSTART. A DATE value is taken as is,
// a DATE-TIME value is converted to loc first. UTC ("...Z"), TZID and
// floating times are supported; floating times are read in loc.
func eventDate(ev *ics.VEvent, loc *time.Location) (time.Time, error) {
	prop := ev.GetProperty(ics.ComponentPropertyDtStart)
	if prop == nil {
		return time.Time{}, fmt.Errorf("%w: event without DTSTART", pickup.ErrMalformedDocument)
	}
	value := strings.TrimSpace(prop.Value)
	invalid := func() (time.Time, error) {
		return time.Time{}, fmt.Errorf("%w: invalid DTSTART %q", pickup.ErrMalformedDocument, value)
	}

	if len(value) == len(icsDateLayout) {
		date, err := time.Parse(icsDateLayout, value)
		if err != nil {
			return invalid()
		}
		return date, nil
	}

	var (
		start time.Time
		err   error
	)
	if strings.HasSuffix(value, "Z") {
		start, err = time.Parse(icsDateTimeLayout+"Z", value)
	} else {
		zone := loc
		if tzid := prop.ICalParameters["TZID"]; len(tzid) > 0 {
			if zone, err = time.LoadLocation(tzid[0]); err != nil {
				return time.Time{}, fmt.Errorf("%w: unknown TZID %q", pickup.ErrMalformedDocument, tzid[0])
			}
		}
		start, err = time.ParseInLocation(icsDateTimeLayout, value, zone)
	}
	if err != nil {
		return invalid()
	}
	return pickup.DateOf(start.In(loc)), nil
}

func propertyText(ev *ics.VEvent, name ics.ComponentProperty) string {
	prop := ev.GetProperty(name)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(icsUnescaper.Replace(prop.Value))
}
