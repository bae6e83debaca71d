package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"
	domainTelegram "waste_reminder_bot/internal/domain/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type fakeSender struct {
	to    telebot.Recipient
	what  interface{}
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.to, f.what = to, what
	return &telebot.Message{}, f.err
}

func TestTelebotAdapter_Deliver(t *testing.T) {
	s := &fakeSender{}
	err := NewTelebotAdapter(s).Deliver(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, "42", s.to.Recipient())
	assert.Equal(t, "hello", s.what)
}

func TestTelebotAdapter_BlockedUserIsUnreachable(t *testing.T) {
	s := &fakeSender{err: telebot.ErrBlockedByUser}
	err := NewTelebotAdapter(s).Deliver(context.Background(), 42, "hello")
	assert.ErrorIs(t, err, domainTelegram.ErrRecipientUnreachable)

	s.err = errors.New("connection reset")
	err = NewTelebotAdapter(s).Deliver(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainTelegram.ErrRecipientUnreachable)
}

func TestTelebotAdapter_Timeout(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	defer close(s.block)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := NewTelebotAdapter(s).Deliver(ctx, 42, "hello")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseSubscribeArgs(t *testing.T) {
	q, h, w := parseSubscribeArgs(" Hauptstraße 1 | 01097 ")
	assert.Equal(t, "Hauptstraße 1", q)
	assert.Equal(t, "01097", h)
	assert.Empty(t, w)

	q, h, w = parseSubscribeArgs("Chemnitzer Straße 42")
	assert.Equal(t, "Chemnitzer Straße 42", q)
	assert.Empty(t, h)
	assert.Empty(t, w)

	q, h, w = parseSubscribeArgs("Hauptstraße 1 | Weißig @morgen")
	assert.Equal(t, "Hauptstraße 1", q)
	assert.Equal(t, "Weißig", h)
	assert.Equal(t, "morgen", w)

	q, h, w = parseSubscribeArgs("Chemnitzer Straße 42 @2d@18:00")
	assert.Equal(t, "Chemnitzer Straße 42", q)
	assert.Empty(t, h)
	assert.Equal(t, "2d@18:00", w)
}

func TestParseWhen(t *testing.T) {
	leads, err := parseWhen("")
	require.NoError(t, err)
	assert.Nil(t, leads)

	leads, err = parseWhen("abend")
	require.NoError(t, err)
	assert.Equal(t, []pickup.LeadTime{{DaysBefore: 1, Hour: 19}}, leads)

	_, err = parseWhen("nachts")
	assert.Error(t, err)
}

func TestButtonData(t *testing.T) {
	id, when := splitButtonData(buttonData("54367", "morgen"))
	assert.Equal(t, "54367", id)
	assert.Equal(t, "morgen", when)

	id, when = splitButtonData(buttonData("54367", ""))
	assert.Equal(t, "54367", id)
	assert.Empty(t, when)
}

func TestCandidatesMarkup_Limited(t *testing.T) {
	var recs []address.Record
	for i := 0; i < 12; i++ {
		recs = append(recs, address.Record{RawText: "Hauptstraße 1", LocationID: string(rune('a' + i))})
	}
	markup := candidatesMarkup(recs, "")
	require.Len(t, markup.InlineKeyboard, maxCandidateButtons)
	assert.Equal(t, "Hauptstraße 1", markup.InlineKeyboard[0][0].Text)
}

func TestLeadMarkup(t *testing.T) {
	markup := leadMarkup("54367")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Contains(t, markup.InlineKeyboard[0][0].Text, "19 Uhr")
	assert.Contains(t, markup.InlineKeyboard[1][0].Text, "6 Uhr")
}

func TestLeadText(t *testing.T) {
	leads, err := pickup.ParseLeadChoice("abend,morgen")
	require.NoError(t, err)
	assert.Equal(t, "⏰ Erinnerung für Chemnitzer Straße 42 kommt 1 Tag vorher um 19:00 und am Abholtag um 06:00.",
		leadText("Chemnitzer Straße 42", leads))
}

func TestAmbiguousText(t *testing.T) {
	candidates := []address.Record{{RawText: "Chemnitzer Straße 42", LocationID: "54367"}}
	text := ambiguousText(&address.AmbiguousError{Query: "Chemnitzr Straße 42", Candidates: candidates, Corrected: true})
	assert.Contains(t, text, "Meintest du")

	text = ambiguousText(&address.AmbiguousError{Query: "Hauptstraße 1", Candidates: append(candidates, candidates...)})
	assert.Contains(t, text, "mehrere Adressen")
}

func TestSubscribeReply(t *testing.T) {
	rec := address.Record{RawText: "Chemnitzer Straße 42", LocationID: "54367", Fields: address.Fields{PostalCode: "01187"}}

	text := subscribeReply(app.SubscribeResult{Record: rec, Reminders: 3}, false)
	assert.Contains(t, text, "Chemnitzer Straße 42 (01187)")
	assert.Contains(t, text, "/next")
	assert.NotContains(t, text, "erinnert werden")

	text = subscribeReply(app.SubscribeResult{Record: rec, FetchErr: pickup.ErrUpstreamUnavailable}, true)
	assert.Contains(t, text, "nicht erreichbar")
	assert.Contains(t, text, "Wann möchtest du erinnert werden?")
}

func TestNextPickupsText(t *testing.T) {
	date := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	text := nextPickupsText([]app.UpcomingPickup{
		{Address: "Chemnitzer Straße 42", Event: pickup.Event{LocationID: "54367", Category: pickup.CategoryRecycling, Date: date}},
		{Address: "Chemnitzer Straße 42", Event: pickup.Event{LocationID: "54367", Category: pickup.CategoryBio, Date: date.AddDate(0, 0, 2)}},
	})
	assert.Equal(t, "Nächste Abholtermine:\n\n📍 Chemnitzer Straße 42\n🟡 So, 15.03.2026: Gelbe Tonne\n🟢 Di, 17.03.2026: Bioabfall", text)
	assert.Equal(t, "Keine anstehenden Abholtermine bekannt.", nextPickupsText(nil))
}

func TestStatusText(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)
	text := statusText([]app.LocationSummary{
		{LocationID: "54367", Address: "Chemnitzer Straße 42", Subscribers: 1, LastSuccessAt: &last, LastError: "upstream unavailable"},
	}, now)
	assert.Contains(t, text, "Chemnitzer Straße 42 (54367)")
	assert.Contains(t, text, "vor 2h0m0s")
	assert.Contains(t, text, "upstream unavailable")
}
