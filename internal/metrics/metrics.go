// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/rental-ledger/internal/ledger"
)

// Metrics holds all Prometheus metrics for the rental ledger.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Event delivery metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec
}

// New registers the collectors with reg.  Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome.",
		}, []string{"op", "result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside the ledger store per operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		EventsPublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Ledger events handed to the broker, by type and outcome.",
		}, []string{"type", "result"}),
		EventsConsumedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Ledger events processed by the indexer consumer, by outcome.",
		}, []string{"result"}),
	}
}

// ObserveOperation implements ledger.Observer.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.OperationsTotal.WithLabelValues(op, Result(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Result maps an error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrWrongAmount):
		return "wrong_amount"
	case errors.Is(err, ledger.ErrAlreadyEscrowed):
		return "already_escrowed"
	case errors.Is(err, ledger.ErrNothingEscrowed):
		return "nothing_escrowed"
	case errors.Is(err, ledger.ErrNoActiveOccupant):
		return "no_active_occupant"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ledger.ErrInvalidIdentity):
		return "invalid_identity"
	default:
		return "error"
	}
}
