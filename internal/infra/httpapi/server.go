// Package httpapi serves the read-only dashboard API together with health,
// readiness and Prometheus endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ReadinessChecker reports whether a component is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the dashboard API and operational endpoints.
type Server struct {
	httpServer *http.Server
	store      *app.EventStore
	clock      clockwork.Clock
	location   *time.Location
	logger     *logrus.Entry
}

type eventView struct {
	Category    pickup.Category `json:"category"`
	Name        string          `json:"name"`
	Date        string          `json:"date"`
	FetchID     string          `json:"fetch_id,omitempty"`
	DisplayDate string          `json:"display_date"`
}

type locationDetail struct {
	app.LocationSummary
	HorizonFrom string            `json:"horizon_from,omitempty"`
	FetchedAt   *time.Time        `json:"fetched_at,omitempty"`
	Upcoming    []eventView       `json:"upcoming_events"`
	Reminders   []pickup.Reminder `json:"reminders"`
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /api routes.
func NewServer(
	addr string,
	store *app.EventStore,
	clock clockwork.Clock,
	location *time.Location,
	logger *logrus.Entry,
	checks ...ReadinessChecker,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:    store,
		clock:    clock,
		location: location,
		logger:   logger.WithField("component", "http_api"),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(checks))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/locations", s.handleLocations)
	mux.HandleFunc("GET /api/locations/{id}", s.handleLocation)
	mux.HandleFunc("GET /api/reminders", s.handleReminders)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checks []ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, checker := range checks {
			if err := checker.CheckReadiness(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, app.Summaries(s.store, s.clock.Now().In(s.location)))
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Location(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, pickup.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.logger.WithError(err).Error("Failed to load location")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	today := pickup.DateOf(s.clock.Now().In(s.location))
	detail := locationDetail{
		LocationSummary: app.Summarize(st, today),
		Upcoming:        []eventView{},
		Reminders:       st.Reminders,
	}
	if st.Snapshot != nil {
		detail.HorizonFrom = st.Snapshot.From.Format(pickup.DateLayout)
		detail.FetchedAt = pickup.TimePtr(st.Snapshot.FetchedAt)
		for _, ev := range st.Snapshot.Events {
			if ev.Date.Before(today) {
				continue
			}
			detail.Upcoming = append(detail.Upcoming, eventView{
				Category:    ev.Category,
				Name:        ev.Category.DisplayName(),
				Date:        ev.Date.Format(pickup.DateLayout),
				FetchID:     ev.SourceFetchID,
				DisplayDate: app.FormatDate(ev.Date),
			})
		}
	}
	if detail.Reminders == nil {
		detail.Reminders = []pickup.Reminder{}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	status := pickup.Status(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", pickup.StatusPending, pickup.StatusDelivered, pickup.StatusExpired, pickup.StatusStale:
	default:
		writeError(w, http.StatusBadRequest, errors.New("status must be one of pending, delivered, expired, stale"))
		return
	}
	rows := s.store.Reminders(status)
	if rows == nil {
		rows = []pickup.Reminder{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
