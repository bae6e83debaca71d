package app

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"gopkg.in/yaml.v3"
)

// SkipPredicate reports whether pickups on date should be dropped, and why.
type SkipPredicate func(date time.Time) (reason string, skip bool)

// AnyOf skips a date if any of the predicates does. Nil predicates are ignored.
func AnyOf(preds ...SkipPredicate) SkipPredicate {
	return func(date time.Time) (string, bool) {
		for _, p := range preds {
			if p == nil {
				continue
			}
			if reason, skip := p(date); skip {
				return reason, true
			}
		}
		return "", false
	}
}

// HolidayCalendar computes German public holidays for one federal state.
type HolidayCalendar struct {
	region string
	mu     sync.Mutex
	years  map[int]map[string]string
}

// NewHolidayCalendar supports the regions "SN" (Saxony) and "NW" (North Rhine-Westphalia).
func NewHolidayCalendar(region string) (*HolidayCalendar, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region != "SN" && region != "NW" {
		return nil, fmt.Errorf("unsupported holiday region %q", region)
	}
	return &HolidayCalendar{region: region, years: make(map[int]map[string]string)}, nil
}

// Holidays returns date (YYYY-MM-DD) → name for year.
func (c *HolidayCalendar) Holidays(year int) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.years[year]; ok {
		return h
	}

	h := make(map[string]string)
	h[formatDate(year, 1, 1)] = "Neujahr"
	h[formatDate(year, 5, 1)] = "Tag der Arbeit"
	h[formatDate(year, 10, 3)] = "Tag der Deutschen Einheit"
	h[formatDate(year, 12, 25)] = "1. Weihnachtstag"
	h[formatDate(year, 12, 26)] = "2. Weihnachtstag"

	easter := calculateEaster(year)
	h[easter.AddDate(0, 0, -2).Format(pickup.DateLayout)] = "Karfreitag"
	h[easter.AddDate(0, 0, 1).Format(pickup.DateLayout)] = "Ostermontag"
	h[easter.AddDate(0, 0, 39).Format(pickup.DateLayout)] = "Christi Himmelfahrt"
	h[easter.AddDate(0, 0, 50).Format(pickup.DateLayout)] = "Pfingstmontag"

	switch c.region {
	case "SN":
		h[formatDate(year, 10, 31)] = "Reformationstag"
		h[repentanceDay(year).Format(pickup.DateLayout)] = "Buß- und Bettag"
	case "NW":
		h[easter.AddDate(0, 0, 60).Format(pickup.DateLayout)] = "Fronleichnam"
		h[formatDate(year, 11, 1)] = "Allerheiligen"
	}

	c.years[year] = h
	return h
}

// Skip is a SkipPredicate.
func (c *HolidayCalendar) Skip(date time.Time) (string, bool) {
	name, ok := c.Holidays(date.Year())[date.Format(pickup.DateLayout)]
	return name, ok
}

// calculateEaster calculates Easter Sunday using the Meeus/Jones/Butcher algorithm
func calculateEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// repentanceDay is the last Wednesday before 23 November.
func repentanceDay(year int) time.Time {
	d := time.Date(year, time.November, 22, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Wednesday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func formatDate(year, month, day int) string {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format(pickup.DateLayout)
}

// ExclusionCalendar is a hand-maintained list of dates without pickups,
// loaded from YAML:
//
//	name: dresden-extra
//	days: ["sunday"]
//	dates: ["2026-12-24", "2026-12-31"]
type ExclusionCalendar struct {
	Name  string   `yaml:"name"`
	Days  []string `yaml:"days"`
	Dates []string `yaml:"dates"`
}

// LoadExclusionCalendar reads an exclusion calendar file.
func LoadExclusionCalendar(path string) (*ExclusionCalendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	var cal ExclusionCalendar
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if cal.Name == "" {
		return nil, fmt.Errorf("calendar in %s has no name", path)
	}
	for _, d := range cal.Dates {
		if _, err := pickup.ParseDate(d); err != nil {
			return nil, fmt.Errorf("calendar %s: invalid date %q: %w", cal.Name, d, err)
		}
	}
	return &cal, nil
}

// Skip is a SkipPredicate.
func (c *ExclusionCalendar) Skip(date time.Time) (string, bool) {
	weekday := strings.ToLower(date.Weekday().String())
	for _, d := range c.Days {
		if strings.ToLower(d) == weekday {
			return c.Name + ": " + weekday, true
		}
	}
	day := date.Format(pickup.DateLayout)
	for _, d := range c.Dates {
		if d == day {
			return c.Name, true
		}
	}
	return "", false
}
