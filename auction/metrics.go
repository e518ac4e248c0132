package auction

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudx-io/openbidding/core"
)

// Metrics are the counters and gauges the service maintains. They live in
// their own registry so a process can serve them without the global defaults.
type Metrics struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	bidsRejected *prometheus.CounterVec
	transferred  *prometheus.CounterVec
	highestBid   prometheus.Gauge
	ledgerSize   prometheus.Gauge
	closed       prometheus.Gauge
}

func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "operations_total",
			Help:      "number of operations by action and result",
		}, []string{"action", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "operation_seconds",
			Help:      "time spent applying an operation, including persistence and transfers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		bidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "bids_rejected_total",
			Help:      "number of rejected bids by reason",
		}, []string{"reason"}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "transferred_total",
			Help:      "amount moved out of escrow by transfer kind",
		}, []string{"kind"}),
		highestBid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "highest_bid",
			Help:      "cumulative amount of the leading entry",
		}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "ledger_entries",
			Help:      "number of ledger entries, including the owner's",
		}),
		closed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "auction",
			Name:      "closed",
			Help:      "1 once the auction has been closed",
		}),
	}
	err := errors.Join(
		m.registry.Register(m.operations),
		m.registry.Register(m.latency),
		m.registry.Register(m.bidsRejected),
		m.registry.Register(m.transferred),
		m.registry.Register(m.highestBid),
		m.registry.Register(m.ledgerSize),
		m.registry.Register(m.closed),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry holding the service metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(action string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = errorReason(err)
	}
	m.operations.WithLabelValues(action, result).Inc()
	m.latency.WithLabelValues(action).Observe(seconds)
	if action == actionBid && err != nil {
		m.bidsRejected.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) recordTransfers(transfers []core.Transfer) {
	for _, tr := range transfers {
		m.transferred.WithLabelValues(string(tr.Kind)).Add(float64(tr.Amount))
	}
}

func (m *Metrics) recordView(view core.View) {
	if highest, ok := view.Ledger.Highest(); ok {
		m.highestBid.Set(float64(highest.Amount))
	}
	m.ledgerSize.Set(float64(view.Ledger.Len()))
	if view.Status.State == core.StateClosed {
		m.closed.Set(1)
	} else {
		m.closed.Set(0)
	}
}

func errorReason(err error) string {
	var tooLow *core.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		return "bid_too_low"
	case errors.Is(err, core.ErrOwnerCannotBid):
		return "owner_cannot_bid"
	case errors.Is(err, core.ErrEmptyBid):
		return "empty_bid"
	case errors.Is(err, core.ErrAuctionClosed):
		return "auction_closed"
	case errors.Is(err, core.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, core.ErrNoRetractableBid):
		return "no_retractable_bid"
	case errors.Is(err, core.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
