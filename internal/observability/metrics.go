package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "waste_reminder"

// Metrics holds the Prometheus counters, histograms and gauges of the reminder bot.
type Metrics struct {
	// Calendar fetches.
	CalendarFetches       *prometheus.CounterVec // labels: outcome={success,upstream_error,malformed,unknown_category}
	CalendarFetchDuration prometheus.Histogram
	EventsAdded           prometheus.Counter
	EventsRemoved         prometheus.Counter

	// Address index.
	IndexRebuilds *prometheus.CounterVec // labels: outcome={success,error}
	IndexSize     prometheus.Gauge
	Resolutions   *prometheus.CounterVec // labels: result={exact,fuzzy,not_found,ambiguous}

	// Reminder delivery.
	Deliveries       *prometheus.CounterVec // labels: outcome={delivered,failed,expired}
	DeliveryDuration prometheus.Histogram
	TickDuration     prometheus.Histogram
	PendingReminders prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CalendarFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_fetches_total",
			Help:      "Calendar fetches by outcome.",
		}, []string{"outcome"}),
		CalendarFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calendar_fetch_duration_seconds",
			Help:      "Duration of a calendar fetch including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EventsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_added_total",
			Help:      "Pickup events added by calendar merges.",
		}),
		EventsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_removed_total",
			Help:      "Pickup events retired by calendar merges.",
		}),
		IndexRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_index_rebuilds_total",
			Help:      "Address index rebuilds by outcome.",
		}, []string{"outcome"}),
		IndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "address_index_records",
			Help:      "Number of records in the current address index.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_resolutions_total",
			Help:      "Address resolutions by result.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_deliveries_total",
			Help:      "Reminder delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_delivery_duration_seconds",
			Help:      "Duration of a single delivery call.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a complete scheduler tick.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PendingReminders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_reminders",
			Help:      "Reminder rows in pending state after the last tick.",
		}),
	}

	prometheus.MustRegister(
		m.CalendarFetches,
		m.CalendarFetchDuration,
		m.EventsAdded,
		m.EventsRemoved,
		m.IndexRebuilds,
		m.IndexSize,
		m.Resolutions,
		m.Deliveries,
		m.DeliveryDuration,
		m.TickDuration,
		m.PendingReminders,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CalendarFetches:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "calendar_fetches_total"}, []string{"outcome"}),
		CalendarFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "calendar_fetch_duration_seconds"}),
		EventsAdded:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_added_total"}),
		EventsRemoved:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_removed_total"}),
		IndexRebuilds:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "address_index_rebuilds_total"}, []string{"outcome"}),
		IndexSize:             prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "address_index_records"}),
		Resolutions:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "address_resolutions_total"}, []string{"result"}),
		Deliveries:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "reminder_deliveries_total"}, []string{"outcome"}),
		DeliveryDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "reminder_delivery_duration_seconds"}),
		TickDuration:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "tick_duration_seconds"}),
		PendingReminders:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_reminders"}),
	}
}
