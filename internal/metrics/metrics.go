package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Bookings
	BookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking status transitions by target status",
		},
		[]string{"status"},
	)
	BookingRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operation_errors_total",
			Help: "Booking operations refused, by operation and error code",
		},
		[]string{"operation", "code"},
	)
	SeatsReserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_seats_reserved_total",
			Help: "Seats taken by created bookings",
		},
	)
	SeatsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_seats_released_total",
			Help: "Seats returned by rejected, cancelled or expired bookings",
		},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "booking_sweep_duration_seconds",
			Help: "Duration of one expiry and maturation sweep",
		},
	)

	// Referrals
	ReferralBonusesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_bonuses_created_total",
			Help: "Referral bonuses created on first paid bookings",
		},
	)
	WithdrawalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_withdrawal_transitions_total",
			Help: "Withdrawal request status transitions by target status",
		},
		[]string{"status"},
	)

	// Messaging
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events handed to the broker",
		},
		[]string{"broker", "type", "result"},
	)
)

var once sync.Once

// InitMetrics registers every collector with the default registry. Safe to call twice.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRequestsInFlight)

		prometheus.MustRegister(BookingTransitions)
		prometheus.MustRegister(BookingRejections)
		prometheus.MustRegister(SeatsReserved)
		prometheus.MustRegister(SeatsReleased)
		prometheus.MustRegister(SweepDuration)

		prometheus.MustRegister(ReferralBonusesCreated)
		prometheus.MustRegister(WithdrawalTransitions)
		prometheus.MustRegister(EventsPublished)
	})
}
