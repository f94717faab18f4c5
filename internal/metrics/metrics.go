package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clup_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clup_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ticketOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clup_ticket_operations_total",
			Help: "Ticket operations by kind and outcome",
		},
		[]string{"operation", "kind", "outcome"},
	)

	smsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clup_sms_sent_total",
			Help: "Verification SMS deliveries by outcome",
		},
		[]string{"outcome"},
	)

	storeOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clup_store_occupancy",
			Help: "Last known occupant count per store",
		},
		[]string{"store_id"},
	)

	sweptTickets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clup_expired_reservations_total",
			Help: "Reservation tickets cancelled by the expiry sweeper",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// TrackTicket counts a ticket operation such as "join", "admit" or "cancel".
func TrackTicket(operation, kind, outcome string) {
	ticketOperations.WithLabelValues(operation, kind, outcome).Inc()
}

func TrackSMS(outcome string) {
	smsSent.WithLabelValues(outcome).Inc()
}

func SetOccupancy(storeID string, occupants int) {
	storeOccupancy.WithLabelValues(storeID).Set(float64(occupants))
}

func AddExpired(count int) {
	if count > 0 {
		sweptTickets.Add(float64(count))
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
