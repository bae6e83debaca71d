package telegram

import (
	"fmt"
	"strings"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"gopkg.in/telebot.v3"
)

// maxCandidateButtons caps the inline list of candidate addresses.
const maxCandidateButtons = 8

// parseSubscribeArgs splits "<address> | <hint> @<when>". when names a lead
// time preset or lead time list and starts at the first "@".
func parseSubscribeArgs(payload string) (query, hint, when string) {
	payload, when, _ = strings.Cut(payload, "@")
	query, hint, _ = strings.Cut(payload, "|")
	return strings.TrimSpace(query), strings.TrimSpace(hint), strings.TrimSpace(when)
}

// buttonData packs a location id and an optional lead choice into callback data.
func buttonData(locationID, when string) string {
	if when == "" {
		return locationID
	}
	return locationID + "|" + when
}

func splitButtonData(data string) (locationID, when string) {
	locationID, when, _ = strings.Cut(data, "|")
	return locationID, when
}

// subscribeReply confirms a subscription. askLead appends the question
// answered by leadMarkup.
func subscribeReply(res app.SubscribeResult, askLead bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Abonniert: %s\n", res.Record.Label())
	switch {
	case res.FetchErr != nil:
		b.WriteString("Der Abfuhrkalender ist gerade nicht erreichbar. Ich versuche es in Kürze erneut.")
	case res.Reminders+len(res.Diff.Added) == 0:
		b.WriteString("Für die nächsten Wochen sind keine Abholtermine bekannt.")
	default:
		b.WriteString("Mit /next siehst du die nächsten Abholtermine.")
	}
	if askLead {
		b.WriteString("\n\nWann möchtest du erinnert werden?")
	}
	return b.String()
}

func ambiguousText(err *address.AmbiguousError) string {
	text := fmt.Sprintf("Zu \"%s\" passen mehrere Adressen. Bitte wähle eine aus:", err.Query)
	if err.Corrected {
		text = fmt.Sprintf("\"%s\" habe ich nicht genau gefunden. Meintest du:", err.Query)
	}
	if len(err.Candidates) > maxCandidateButtons {
		text += fmt.Sprintf("\n(%d Treffer, ergänze PLZ oder Stadtteil mit \"| 01069\" für eine genauere Suche)", len(err.Candidates))
	}
	return text
}

func candidatesMarkup(candidates []address.Record, when string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for i, rec := range candidates {
		if i == maxCandidateButtons {
			break
		}
		rows = append(rows, markup.Row(markup.Data(rec.Label(), btnSubscribe, buttonData(rec.LocationID, when))))
	}
	markup.Inline(rows...)
	return markup
}

// leadMarkup offers the lead time presets for a subscription.
func leadMarkup(locationID string) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	markup.Inline(
		markup.Row(markup.Data("🌙 Abend vorher (19 Uhr)", btnLead, buttonData(locationID, "abend"))),
		markup.Row(markup.Data("🌅 Morgen der Abholung (6 Uhr)", btnLead, buttonData(locationID, "morgen"))),
	)
	return markup
}

func leadText(addr string, leads []pickup.LeadTime) string {
	descs := make([]string, 0, len(leads))
	for _, l := range leads {
		descs = append(descs, l.Describe())
	}
	return fmt.Sprintf("⏰ Erinnerung für %s kommt %s.", addr, strings.Join(descs, " und "))
}

func subscriptionsMarkup(subs []pickup.Subscription) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, markup.Row(markup.Data(s.Address, btnUnsubscribe, s.LocationID)))
	}
	markup.Inline(rows...)
	return markup
}

func subscriptionsText(subs []pickup.Subscription) string {
	if len(subs) == 0 {
		return "Du hast keine Abos. Starte mit /subscribe <Adresse>."
	}
	var b strings.Builder
	b.WriteString("Deine Abos:\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "\n📍 %s\n   Erinnerung: %s", s.Address, strings.Join(s.LeadTimes, ", "))
	}
	return b.String()
}

func nextPickupsText(ups []app.UpcomingPickup) string {
	if len(ups) == 0 {
		return "Keine anstehenden Abholtermine bekannt."
	}
	var b strings.Builder
	b.WriteString("Nächste Abholtermine:\n")
	lastAddr := ""
	for _, up := range ups {
		if up.Address != lastAddr {
			fmt.Fprintf(&b, "\n📍 %s\n", up.Address)
			lastAddr = up.Address
		}
		fmt.Fprintf(&b, "%s %s: %s\n", up.Event.Category.Emoji(), app.FormatDate(up.Event.Date), up.Event.Category.DisplayName())
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusText(sums []app.LocationSummary, now time.Time) string {
	if len(sums) == 0 {
		return "Keine Standorte."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Standorte: %d\n", len(sums))
	for _, s := range sums {
		fmt.Fprintf(&b, "\n%s (%s)\n", s.Address, s.LocationID)
		fmt.Fprintf(&b, "Abos: %d, Termine: %d, offen: %d, gesendet: %d, verfallen: %d\n",
			s.Subscribers, s.Events, s.Pending, s.Delivered, s.Expired)
		if s.LastSuccessAt != nil {
			fmt.Fprintf(&b, "Letzter Abruf: vor %s\n", now.Sub(*s.LastSuccessAt).Round(time.Minute))
		} else {
			b.WriteString("Letzter Abruf: nie\n")
		}
		if s.LastError != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", s.LastError)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
