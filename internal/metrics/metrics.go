package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service emits. Constructed once in main
// and passed explicitly; tests use a private registry.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BookingsCreatedTotal *prometheus.CounterVec
	BookingsExpiredTotal prometheus.Counter

	StkPushTotal   *prometheus.CounterVec
	CallbacksTotal *prometheus.CounterVec

	NotificationsTotal prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uzimacare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		BookingsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "booking",
			Name:      "created_total",
			Help:      "Booking creation attempts by outcome.",
		}, []string{"result"}),

		BookingsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "booking",
			Name:      "expired_total",
			Help:      "Bookings transitioned to expired by the sweeper.",
		}),

		StkPushTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "payment",
			Name:      "stk_push_total",
			Help:      "STK push initiation attempts by outcome.",
		}, []string{"result"}),

		CallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "payment",
			Name:      "callbacks_total",
			Help:      "Gateway callbacks processed by outcome, including duplicates and unknown correlation ids.",
		}, []string{"result"}),

		NotificationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uzimacare",
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Notifications persisted for delivery.",
		}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
