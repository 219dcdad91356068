package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeSendError = "send_error"
	OutcomeAborted   = "aborted"
)

// Notification outcomes.
const (
	NotificationDelivered = "delivered"
	NotificationFiltered  = "filtered" // self notification withheld
	NotificationDropped   = "dropped"  // unknown room or channel
)

// Journal row results.
const (
	JournalInserted = "inserted"
	JournalFailed   = "failed"
	JournalDropped  = "dropped" // buffer full
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuzzle",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests sent through the correlation engine by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kuzzle",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from send to response or timeout.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuzzle",
			Subsystem: "realtime",
			Name:      "notifications_total",
			Help:      "Inbound notifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	rooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kuzzle",
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Rooms with at least one observer.",
		},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kuzzle",
			Subsystem: "realtime",
			Name:      "observers",
			Help:      "Registered notification observers across all rooms.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kuzzle",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Successful reconnections after a connection loss.",
		},
	)
	connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kuzzle",
			Subsystem: "connection",
			Name:      "connected",
			Help:      "1 while the WebSocket connection is open.",
		},
	)
	journalRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kuzzle",
			Subsystem: "journal",
			Name:      "rows_total",
			Help:      "Notification journal rows by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, notifications, rooms, observers, reconnects, connected, journalRows)
	})
}

// Handler serves the registered collectors.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordRequest(outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordNotification(kind, outcome string) {
	RegisterMetrics()
	notifications.WithLabelValues(kind, outcome).Inc()
}

func SetSubscriptions(roomCount, observerCount int) {
	RegisterMetrics()
	rooms.Set(float64(roomCount))
	observers.Set(float64(observerCount))
}

func RecordReconnect() {
	RegisterMetrics()
	reconnects.Inc()
}

func SetConnected(up bool) {
	RegisterMetrics()
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

func RecordJournal(result string, count int) {
	RegisterMetrics()
	journalRows.WithLabelValues(result).Add(float64(count))
}
