// Package upstream talks to the municipal address catalogue and calendar services.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const maxBodyBytes = 64 << 20

// Options configures the shared HTTP behaviour of the upstream clients.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
}

// httpGetter performs GET requests with bounded retries behind a circuit
// breaker. Transient failures are reported as pickup.ErrUpstreamUnavailable.
type httpGetter struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	opts       Options
	logger     *logrus.Entry
}

func newHTTPGetter(name string, opts Options, logger *logrus.Entry) *httpGetter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	logCtx := logger.WithField("upstream", name)
	return &httpGetter{
		httpClient: &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// only transient failures say something about upstream health
			IsSuccessful: func(err error) bool {
				return err == nil || !pickup.Retryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logCtx.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("Circuit breaker state changed")
			},
		}),
		opts:   opts,
		logger: logCtx,
	}
}

// get returns the body of a 200 response. 4xx answers are not retried.
func (g *httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	delay := g.opts.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		body, err := g.breaker.Execute(func() (interface{}, error) {
			return g.once(ctx, url)
		})
		if err == nil {
			return body.([]byte), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", pickup.ErrUpstreamUnavailable, err)
		}
		lastErr = err
		if !pickup.Retryable(err) || attempt == g.opts.MaxAttempts {
			break
		}
		g.logger.WithError(err).WithField("attempt", attempt).Warn("Upstream request failed, retrying")
		if !sleepWithContext(ctx, delay) {
			return nil, fmt.Errorf("%w: %v", pickup.ErrUpstreamUnavailable, ctx.Err())
		}
		delay = nextBackoff(delay, g.opts.MaxDelay)
	}
	return nil, lastErr
}

func (g *httpGetter) once(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pickup.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", pickup.ErrUpstreamUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", pickup.ErrUpstreamUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", pickup.ErrMalformedDocument, resp.StatusCode, truncate(body, 200))
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
