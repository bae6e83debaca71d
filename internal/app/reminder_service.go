// internal/app/reminder_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"waste_reminder_bot/internal/domain/pickup"
	domainTelegram "waste_reminder_bot/internal/domain/telegram"
	"waste_reminder_bot/internal/observability"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyCalendar is returned when upstream answers with no events for a
// window that previously had some. The cached snapshot is kept.
var ErrEmptyCalendar = errors.New("upstream returned an empty calendar")

// fetchErrorCooldown keeps a failing location from being refetched on every tick.
const fetchErrorCooldown = 15 * time.Minute

// maxDeliveryBackoff caps the delay between delivery attempts.
const maxDeliveryBackoff = time.Hour

// DeliveryMode selects the delivery guarantee per reminder row.
type DeliveryMode string

const (
	// AtLeastOnce marks rows only after a confirmed send. An interrupted
	// tick sends again on the next one.
	AtLeastOnce DeliveryMode = "at_least_once"
	// AtMostOnce persists a claim before sending. A claimed row is never
	// sent again.
	AtMostOnce DeliveryMode = "at_most_once"
)

// CalendarSource fetches and parses the pickup calendar of a location.
type CalendarSource interface {
	Fetch(ctx context.Context, locationID string, from, to time.Time) (pickup.FetchResult, error)
}

type ReminderConfig struct {
	Mode            DeliveryMode
	MaxAttempts     int
	Backoff         time.Duration
	DeliveryTimeout time.Duration
	HorizonDays     int
	RefreshMargin   int // days
	SnapshotMaxAge  time.Duration
	Concurrency     int
	Location        *time.Location
}

// ReminderService is the scheduler core: each Tick keeps the calendars of
// subscribed locations fresh and sends the reminders that are due.
type ReminderService struct {
	store    *EventStore
	calendar CalendarSource
	client   domainTelegram.Client
	skip     SkipPredicate
	clock    clockwork.Clock
	cfg      ReminderConfig
	metrics  *observability.Metrics
	logger   *logrus.Entry
	locks    *keyedMutex
}

func NewReminderService(
	store *EventStore,
	calendar CalendarSource,
	client domainTelegram.Client,
	skip SkipPredicate,
	clock clockwork.Clock,
	cfg ReminderConfig,
	metrics *observability.Metrics,
	logger *logrus.Entry,
) *ReminderService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Mode == "" {
		cfg.Mode = AtLeastOnce
	}
	return &ReminderService{
		store:    store,
		calendar: calendar,
		client:   client,
		skip:     skip,
		clock:    clock,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.WithField("component", "reminder_service"),
		locks:    newKeyedMutex(),
	}
}

// Tick runs one scheduling cycle over all subscribed locations. Locations are
// processed in parallel; a failure in one does not affect the others.
func (s *ReminderService) Tick(ctx context.Context) error {
	start := s.clock.Now()
	ids := s.store.SubscribedLocations()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			s.processLocation(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.TickDuration.Observe(s.clock.Since(start).Seconds())
	s.metrics.PendingReminders.Set(float64(len(s.store.Reminders(pickup.StatusPending))))
	s.logger.WithFields(logrus.Fields{"locations": len(ids), "duration": s.clock.Since(start)}).Debug("Tick finished")
	return ctx.Err()
}

func (s *ReminderService) processLocation(ctx context.Context, locationID string) {
	unlock := s.locks.Lock(locationID)
	defer unlock()

	logCtx := s.logger.WithField("location_id", locationID)
	if s.needsRefresh(locationID) {
		if _, err := s.refreshLocked(ctx, locationID); err != nil {
			logCtx.WithError(err).Warn("Calendar refresh failed, continuing with cached snapshot")
		}
	}

	st, err := s.store.Location(locationID)
	if err != nil {
		logCtx.WithError(err).Error("Location vanished during tick")
		return
	}
	for _, r := range s.store.PendingFor(locationID, s.clock.Now()) {
		if ctx.Err() != nil {
			return
		}
		s.processDue(ctx, r, st.Address)
	}
}

// needsRefresh decides whether the cached snapshot has to be refetched.
func (s *ReminderService) needsRefresh(locationID string) bool {
	st, err := s.store.Location(locationID)
	if err != nil {
		return false
	}
	now := s.clock.Now()
	if st.Status.LastErrorAt != nil && now.Sub(*st.Status.LastErrorAt) < fetchErrorCooldown {
		return false
	}
	if st.Snapshot == nil {
		return true
	}
	today := pickup.DateOf(now.In(s.cfg.Location))
	if st.Snapshot.To.Before(today.AddDate(0, 0, s.cfg.RefreshMargin)) {
		return true
	}
	return now.Sub(st.Snapshot.FetchedAt) > s.cfg.SnapshotMaxAge
}

// RefreshLocation fetches the calendar window of a location now and merges it.
func (s *ReminderService) RefreshLocation(ctx context.Context, locationID string) (pickup.Diff, error) {
	unlock := s.locks.Lock(locationID)
	defer unlock()
	return s.refreshLocked(ctx, locationID)
}

func (s *ReminderService) refreshLocked(ctx context.Context, locationID string) (pickup.Diff, error) {
	today := pickup.DateOf(s.clock.Now().In(s.cfg.Location))
	from, to := today, today.AddDate(0, 0, s.cfg.HorizonDays)
	logCtx := s.logger.WithFields(logrus.Fields{
		"location_id": locationID,
		"from":        from.Format(pickup.DateLayout),
		"to":          to.Format(pickup.DateLayout),
	})

	start := s.clock.Now()
	res, err := s.calendar.Fetch(ctx, locationID, from, to)
	s.metrics.CalendarFetchDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		s.metrics.CalendarFetches.WithLabelValues(fetchOutcome(err)).Inc()
		var fe *pickup.FetchError
		if errors.As(err, &fe) {
			logCtx = logCtx.WithField("fetch_id", fe.FetchID)
		}
		if pickup.Retryable(err) {
			logCtx.WithError(err).Warn("Calendar upstream unavailable")
		} else {
			logCtx.WithError(err).Error("Calendar document rejected")
		}
		s.recordFetchError(ctx, locationID, err)
		return pickup.Diff{}, err
	}
	logCtx = logCtx.WithField("fetch_id", res.ID)

	events := s.applySkip(res.Events, logCtx)
	if len(events) == 0 && s.hadEventsIn(locationID, from, to) {
		s.metrics.CalendarFetches.WithLabelValues("empty").Inc()
		err := fmt.Errorf("%w (fetch %s)", ErrEmptyCalendar, res.ID)
		logCtx.Warn("Upstream returned no events for a window that had some, keeping cached snapshot")
		s.recordFetchError(ctx, locationID, err)
		return pickup.Diff{}, err
	}

	diff, err := s.store.Merge(context.WithoutCancel(ctx), locationID, from, to, events, res.ID)
	if err != nil {
		return pickup.Diff{}, fmt.Errorf("failed to merge calendar for location %s: %w", locationID, err)
	}
	s.metrics.CalendarFetches.WithLabelValues("success").Inc()
	s.metrics.EventsAdded.Add(float64(len(diff.Added)))
	s.metrics.EventsRemoved.Add(float64(len(diff.Removed)))
	logCtx.WithFields(logrus.Fields{
		"events":  len(events),
		"added":   len(diff.Added),
		"removed": len(diff.Removed),
	}).Info("Calendar merged")
	return diff, nil
}

func (s *ReminderService) recordFetchError(ctx context.Context, locationID string, fetchErr error) {
	if err := s.store.RecordFetchError(context.WithoutCancel(ctx), locationID, fetchErr); err != nil {
		s.logger.WithError(err).WithField("location_id", locationID).Error("Failed to record fetch error")
	}
}

func (s *ReminderService) applySkip(events []pickup.Event, logCtx *logrus.Entry) []pickup.Event {
	if s.skip == nil {
		return events
	}
	kept := make([]pickup.Event, 0, len(events))
	for _, ev := range events {
		if reason, skip := s.skip(ev.Date); skip {
			logCtx.WithFields(logrus.Fields{
				"category": ev.Category,
				"date":     ev.Date.Format(pickup.DateLayout),
				"reason":   reason,
			}).Info("Skipping pickup on excluded date")
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

func (s *ReminderService) hadEventsIn(locationID string, from, to time.Time) bool {
	st, err := s.store.Location(locationID)
	if err != nil || st.Snapshot == nil {
		return false
	}
	for _, ev := range st.Snapshot.Events {
		if !ev.Date.Before(from) && !ev.Date.After(to) {
			return true
		}
	}
	return false
}

// processDue handles one due row: expire it if the pickup is over, otherwise
// send it and record the outcome.
func (s *ReminderService) processDue(ctx context.Context, r pickup.Reminder, addr string) {
	logCtx := s.logger.WithFields(logrus.Fields{
		"location_id": r.Key.Event.LocationID,
		"category":    r.Key.Event.Category,
		"date":        r.Key.Event.Date,
		"destination": r.Key.Destination,
		"lead":        r.Key.Lead,
	})
	// marks must land even if the tick is cancelled mid-send
	markCtx := context.WithoutCancel(ctx)

	now := s.clock.Now()
	today := pickup.DateOf(now.In(s.cfg.Location))
	date, err := pickup.ParseDate(r.Key.Event.Date)
	if err != nil {
		logCtx.WithError(err).Error("Reminder row has an invalid date")
		s.expire(markCtx, r.Key, "invalid event date", logCtx)
		return
	}
	if date.Before(today) {
		s.expire(markCtx, r.Key, ReasonDatePassed, logCtx)
		return
	}

	if s.cfg.Mode == AtMostOnce {
		if r.ClaimedAt != nil {
			s.expire(markCtx, r.Key, ReasonClaimLost, logCtx)
			return
		}
		if err := s.store.Claim(markCtx, r.Key, now); err != nil {
			logCtx.WithError(err).Error("Failed to claim reminder, not sending")
			return
		}
	}

	message := FormatReminder(r.Key.Event.Category, date, now.In(s.cfg.Location), addr)
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	start := s.clock.Now()
	err = s.client.Deliver(dctx, r.Key.Destination, message)
	cancel()
	s.metrics.DeliveryDuration.Observe(s.clock.Since(start).Seconds())

	if err == nil {
		s.metrics.Deliveries.WithLabelValues("delivered").Inc()
		if err := s.store.MarkDelivered(markCtx, r.Key, s.clock.Now()); err != nil {
			logCtx.WithError(err).Error("Reminder sent but marking it delivered failed")
			return
		}
		logCtx.Info("Reminder delivered")
		return
	}

	s.metrics.Deliveries.WithLabelValues("failed").Inc()
	attempt := r.AttemptCount + 1
	logCtx = logCtx.WithError(err).WithFields(logrus.Fields{
		"attempt":     attempt,
		"unreachable": errors.Is(err, domainTelegram.ErrRecipientUnreachable),
	})
	retryAt := s.clock.Now().Add(deliveryBackoff(s.cfg.Backoff, attempt))
	if err := s.store.RecordFailure(markCtx, r.Key, err, retryAt); err != nil {
		logCtx.WithError(err).Error("Failed to record delivery failure")
		return
	}
	switch {
	case s.cfg.Mode == AtMostOnce:
		// the claim stays on the row, so it can never be sent again
		s.expire(markCtx, r.Key, fmt.Sprintf("delivery failed on claimed row: %v", err), logCtx)
	case attempt >= s.cfg.MaxAttempts:
		s.expire(markCtx, r.Key, fmt.Sprintf("delivery failed after %d attempts: %v", attempt, err), logCtx)
	default:
		logCtx.WithField("retry_at", retryAt).Warn("Reminder delivery failed, will retry")
	}
}

func (s *ReminderService) expire(ctx context.Context, key pickup.ReminderKey, reason string, logCtx *logrus.Entry) {
	if err := s.store.MarkExpired(ctx, key, reason); err != nil {
		logCtx.WithError(err).Error("Failed to expire reminder")
		return
	}
	s.metrics.Deliveries.WithLabelValues("expired").Inc()
	logCtx.WithField("reason", reason).Warn("Reminder expired")
}

// CheckReadiness fails until the store is loaded and after it is closed.
func (s *ReminderService) CheckReadiness(_ context.Context) error {
	return s.store.Ready()
}

// Prune drops history older than retentionDays.
func (s *ReminderService) Prune(ctx context.Context, retentionDays int) (int, error) {
	cutoff := pickup.DateOf(s.clock.Now().In(s.cfg.Location)).AddDate(0, 0, -retentionDays)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("failed to prune history before %s: %w", cutoff.Format(pickup.DateLayout), err)
	}
	s.logger.WithFields(logrus.Fields{"events": n, "cutoff": cutoff.Format(pickup.DateLayout)}).Info("History pruned")
	return n, nil
}

// deliveryBackoff doubles base for every failed attempt, capped at maxDeliveryBackoff.
func deliveryBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxDeliveryBackoff {
			return maxDeliveryBackoff
		}
	}
	return d
}

func fetchOutcome(err error) string {
	switch {
	case pickup.Retryable(err):
		return "upstream_error"
	case errors.Is(err, pickup.ErrUnknownCategory):
		return "unknown_category"
	case errors.Is(err, pickup.ErrMalformedDocument):
		return "malformed"
	default:
		return "error"
	}
}

// keyedMutex serializes work per location while letting different locations
// proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
