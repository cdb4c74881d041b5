package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskboard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "engine",
			Name:      "mutations_total",
			Help:      "Committed board mutations by event type.",
		},
		[]string{"type"},
	)
	blocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "engine",
			Name:      "blocked_transitions_total",
			Help:      "Status transitions refused by unmet dependencies.",
		},
	)
	undos = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "engine",
			Name:      "undo_total",
			Help:      "Undo requests by outcome.",
		},
		[]string{"ok"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications handed to subscribers by outcome.",
		},
		[]string{"outcome"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskboard",
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Currently attached subscribers across all projects.",
		},
	)
	throttled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskboard",
			Subsystem: "ratelimit",
			Name:      "throttled_total",
			Help:      "Requests denied by the rate limiter.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, mutations, blocked, undos, notifications, subscribers, throttled)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMutation(eventType string) {
	RegisterMetrics()
	mutations.WithLabelValues(eventType).Inc()
}

func RecordBlocked() {
	RegisterMetrics()
	blocked.Inc()
}

func RecordUndo(ok bool) {
	RegisterMetrics()
	undos.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// RecordNotification counts a delivery outcome: delivered, failed or dropped.
func RecordNotification(outcome string) {
	RegisterMetrics()
	notifications.WithLabelValues(outcome).Inc()
}

func AddSubscribers(delta int) {
	RegisterMetrics()
	subscribers.Add(float64(delta))
}

func RecordThrottled() {
	RegisterMetrics()
	throttled.Inc()
}
