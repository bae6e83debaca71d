package upstream

import (
	"errors"
	"strings"
	"testing"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func icsDoc(events ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//abfall//DE\r\n")
	for _, e := range events {
		b.WriteString(e)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func vevent(uid, dtstart, summary, description string) string {
	s := "BEGIN:VEVENT\r\nUID:" + uid + "\r\nDTSTAMP:20260101T000000Z\r\nDTSTART;VALUE=DATE:" + dtstart + "\r\nSUMMARY:" + summary + "\r\n"
	if description != "" {
		s += "DESCRIPTION:" + description + "\r\n"
	}
	return s + "END:VEVENT\r\n"
}

func TestParseICS(t *testing.T) {
	doc := icsDoc(
		vevent("3", "20260316", "Bio-Tonne", ""),
		vevent("1", "20260315", "Gelbe Tonne", ""),
		vevent("2", "20260315", "Abfuhr", `Leerung der Rest-Tonne durch Stadtreinigung\, Kontakt: 0351 123`),
		vevent("4", "20260315", "Gelbe Tonne", ""),
	)

	events, err := ParseICS(strings.NewReader(doc), "54367", "fetch-1", time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "2026-03-15", events[0].Date.Format(pickup.DateLayout))
	assert.Equal(t, pickup.CategoryRecycling, events[0].Category)
	assert.Equal(t, pickup.CategoryResidual, events[1].Category)
	assert.Equal(t, pickup.CategoryBio, events[2].Category)
	for _, e := range events {
		assert.Equal(t, "54367", e.LocationID)
		assert.Equal(t, "fetch-1", e.SourceFetchID)
	}
}

func TestParseICS_DateTimeStart(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	timed := func(dtstart string) string {
		return icsDoc("BEGIN:VEVENT\r\nUID:1\r\nDTSTART" + dtstart + "\r\nSUMMARY:Papier Tonne\r\nEND:VEVENT\r\n")
	}

	for _, tc := range []struct {
		dtstart string
		want    string
	}{
		{":20260315T060000Z", "2026-03-15"},
		{":20260314T230000Z", "2026-03-15"},
		{":20260314T223000", "2026-03-14"},
		{";TZID=America/New_York:20260314T200000", "2026-03-15"},
		{";VALUE=DATE:20260314", "2026-03-14"},
	} {
		events, err := ParseICS(strings.NewReader(timed(tc.dtstart)), "1", "f", berlin)
		require.NoError(t, err, tc.dtstart)
		require.Len(t, events, 1, tc.dtstart)
		assert.Equal(t, tc.want, events[0].Date.Format(pickup.DateLayout), tc.dtstart)
	}

	_, err = ParseICS(strings.NewReader(timed(";TZID=Mars/Olympus:20260314T200000")), "1", "f", berlin)
	assert.ErrorIs(t, err, pickup.ErrMalformedDocument)
}

func TestParseICS_UnknownCategory(t *testing.T) {
	doc := icsDoc(vevent("1", "20260315", "Stadtfest", ""))

	_, err := ParseICS(strings.NewReader(doc), "1", "f", time.UTC)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pickup.ErrUnknownCategory))
	assert.False(t, pickup.Retryable(err))
}

func TestParseICS_MissingStart(t *testing.T) {
	doc := icsDoc("BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Bio-Tonne\r\nEND:VEVENT\r\n")

	_, err := ParseICS(strings.NewReader(doc), "1", "f", time.UTC)
	assert.True(t, errors.Is(err, pickup.ErrMalformedDocument))
}

func TestParseICS_EmptyCalendar(t *testing.T) {
	events, err := ParseICS(strings.NewReader(icsDoc()), "1", "f", time.UTC)
	require.NoError(t, err)
	assert.Empty(t, events)
}
