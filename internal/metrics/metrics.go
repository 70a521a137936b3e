// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the services and middleware report to.
type Recorder interface {
	BookingSucceeded()
	BookingRejected(reason string)
	AppointmentCancelled()
	PaymentStatusChanged(status string)
	ReviewAdded()
	NotificationFailed(channel string)
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	bookings      *prometheus.CounterVec
	cancellations prometheus.Counter
	payments      *prometheus.CounterVec
	reviews       prometheus.Counter
	notifyFail    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medibook_bookings_total",
			Help: "Booking attempts by outcome.",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medibook_cancellations_total",
			Help: "Appointments moved to cancelled.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medibook_payment_status_changes_total",
			Help: "Payment status transitions by target status.",
		}, []string{"status"}),
		reviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medibook_reviews_total",
			Help: "Reviews created.",
		}),
		notifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medibook_notification_failures_total",
			Help: "Swallowed notification failures by channel.",
		}, []string{"channel"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medibook_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medibook_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.bookings,
		c.cancellations,
		c.payments,
		c.reviews,
		c.notifyFail,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) BookingSucceeded() {
	c.bookings.WithLabelValues("created").Inc()
}

func (c *Collector) BookingRejected(reason string) {
	c.bookings.WithLabelValues(reason).Inc()
}

func (c *Collector) AppointmentCancelled() {
	c.cancellations.Inc()
}

func (c *Collector) PaymentStatusChanged(status string) {
	c.payments.WithLabelValues(status).Inc()
}

func (c *Collector) ReviewAdded() {
	c.reviews.Inc()
}

func (c *Collector) NotificationFailed(channel string) {
	c.notifyFail.WithLabelValues(channel).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) BookingSucceeded() {}
func (Nop) BookingRejected(string) {}
func (Nop) AppointmentCancelled() {}
func (Nop) PaymentStatusChanged(string) {}
func (Nop) ReviewAdded() {}
func (Nop) NotificationFailed(string) {}
func (Nop) ObserveHTTP(string, string, int, time.Duration) {}
