package upstream

import (
	"bytes"
	"context"
	"net/url"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// upstreamDateLayout is the date format of the DATUM_VON/DATUM_BIS parameters.
const upstreamDateLayout = "02.01.2006"

// CalendarClient fetches the ICS pickup calendar of a location.
type CalendarClient struct {
	baseURL string
	getter  *httpGetter
	clock   clockwork.Clock
	loc     *time.Location
	logger  *logrus.Entry
}

// NewCalendarClient creates a client that dates timed events in loc.
func NewCalendarClient(baseURL string, opts Options, clock clockwork.Clock, loc *time.Location, logger *logrus.Entry) *CalendarClient {
	logCtx := logger.WithField("component", "calendar_client")
	return &CalendarClient{
		baseURL: baseURL,
		getter:  newHTTPGetter("calendar", opts, logCtx),
		clock:   clock,
		loc:     loc,
		logger:  logCtx,
	}
}

// Fetch downloads and parses the calendar of locationID for [from, to].
// Every error is a *pickup.FetchError carrying the fetch id.
func (c *CalendarClient) Fetch(ctx context.Context, locationID string, from, to time.Time) (pickup.FetchResult, error) {
	fetchID := ulid.Make().String()
	fail := func(err error) (pickup.FetchResult, error) {
		return pickup.FetchResult{}, &pickup.FetchError{FetchID: fetchID, LocationID: locationID, From: from, To: to, Err: err}
	}

	params := url.Values{
		"STANDORT":  {locationID},
		"DATUM_VON": {from.Format(upstreamDateLayout)},
		"DATUM_BIS": {to.Format(upstreamDateLayout)},
	}
	body, err := c.getter.get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return fail(err)
	}

	events, err := ParseICS(bytes.NewReader(body), locationID, fetchID, c.loc)
	if err != nil {
		return fail(err)
	}

	c.logger.WithFields(logrus.Fields{
		"location_id": locationID,
		"fetch_id":    fetchID,
		"events":      len(events),
	}).Debug("Calendar fetched")
	return pickup.FetchResult{
		ID:         fetchID,
		LocationID: locationID,
		From:       from,
		To:         to,
		FetchedAt:  c.clock.Now(),
		Events:     events,
	}, nil
}
