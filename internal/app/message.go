package app

import (
	"fmt"
	"strings"
	"time"

	"waste_reminder_bot/internal/domain/pickup"
)

var weekdays = [...]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

// FormatReminder renders the reminder text for a pickup of category on date,
// relative to today.
func FormatReminder(category pickup.Category, date, today time.Time, addr string) string {
	days := int(pickup.DateOf(date).Sub(pickup.DateOf(today)).Hours() / 24)

	var b strings.Builder
	b.WriteString(category.Emoji())
	b.WriteString(" ")
	b.WriteString(category.DisplayName())
	switch days {
	case 0:
		b.WriteString(" wird heute abgeholt!")
	case 1:
		b.WriteString(" ist für morgen geplant!")
	case 2:
		b.WriteString(" ist für übermorgen geplant!")
	default:
		fmt.Fprintf(&b, " ist in %d Tagen geplant!", days)
	}
	fmt.Fprintf(&b, "\n📅 %s", FormatDate(date))
	if addr != "" {
		fmt.Fprintf(&b, "\n📍 %s", addr)
	}
	return b.String()
}

// FormatDate renders a pickup date as "Sa, 14.03.2026".
func FormatDate(date time.Time) string {
	return weekdays[date.Weekday()] + ", " + date.Format("02.01.2006")
}
