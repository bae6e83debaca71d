package pickup

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamUnavailable marks transient calendar/catalogue failures that may be retried.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedDocument marks a calendar document that cannot be parsed. Not retryable.
	ErrMalformedDocument = errors.New("malformed calendar document")

	// ErrUnknownCategory marks an event title outside the known vocabulary. Not retryable.
	ErrUnknownCategory = errors.New("unknown waste category")

	ErrLocationNotFound     = errors.New("location not found")
	ErrReminderNotFound     = errors.New("reminder not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadySubscribed    = errors.New("destination already subscribed to location")
)

// FetchError carries the context needed to diagnose a failed calendar fetch
// without fetching again.
type FetchError struct {
	FetchID    string
	LocationID string
	From       time.Time
	To         time.Time
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for location %s (%s..%s): %v",
		e.FetchID, e.LocationID, e.From.Format(DateLayout), e.To.Format(DateLayout), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient upstream failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
