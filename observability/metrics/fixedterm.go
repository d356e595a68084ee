package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FixedTermMetrics records order flow and settlement activity of the
// fixed-term markets.
type FixedTermMetrics struct {
	ordersPlaced    *prometheus.CounterVec
	failures        *prometheus.CounterVec
	fills           *prometheus.CounterVec
	filledBase      *prometheus.CounterVec
	cancels         *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	restingOrders   *prometheus.GaugeVec
	settlements     *prometheus.CounterVec
	repayments      *prometheus.CounterVec
	redemptions     *prometheus.CounterVec
	operationTiming *prometheus.HistogramVec
}

var (
	fixedTermOnce     sync.Once
	fixedTermRegistry *FixedTermMetrics
)

// FixedTerm returns the lazily registered metrics bundle.
func FixedTerm() *FixedTermMetrics {
	fixedTermOnce.Do(func() {
		fixedTermRegistry = &FixedTermMetrics{
			ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_orders_placed_total",
				Help: "Orders accepted by the matching engine by market and side.",
			}, []string{"market", "side"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_operation_failures_total",
				Help: "Failed engine operations by operation and error kind.",
			}, []string{"operation", "kind"}),
			fills: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_fills_total",
				Help: "Resting orders crossed by takers.",
			}, []string{"market", "maker_side"}),
			filledBase: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_filled_tickets_total",
				Help: "Ticket quantity filled by takers.",
			}, []string{"market", "maker_side"}),
			cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_orders_cancelled_total",
				Help: "Resting orders cancelled by their owner.",
			}, []string{"market", "side"}),
			eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_events_consumed_total",
				Help: "Queued maker events applied by the crank.",
			}, []string{"market", "kind"}),
			queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "fixedterm_event_queue_depth",
				Help: "Events waiting in the order book queue.",
			}, []string{"market"}),
			restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "fixedterm_resting_orders",
				Help: "Resting orders per side.",
			}, []string{"market", "side"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_settlements_total",
				Help: "Settle calls that moved entitled balances.",
			}, []string{"market"}),
			repayments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_repayments_total",
				Help: "Loan repayments by outcome (partial or full).",
			}, []string{"market", "outcome"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "fixedterm_deposits_redeemed_total",
				Help: "Term deposits redeemed at maturity.",
			}, []string{"market"}),
			operationTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fixedterm_operation_seconds",
				Help:    "Latency of engine operations.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			fixedTermRegistry.ordersPlaced,
			fixedTermRegistry.failures,
			fixedTermRegistry.fills,
			fixedTermRegistry.filledBase,
			fixedTermRegistry.cancels,
			fixedTermRegistry.eventsConsumed,
			fixedTermRegistry.queueDepth,
			fixedTermRegistry.restingOrders,
			fixedTermRegistry.settlements,
			fixedTermRegistry.repayments,
			fixedTermRegistry.redemptions,
			fixedTermRegistry.operationTiming,
		)
	})
	return fixedTermRegistry
}

func (m *FixedTermMetrics) ObserveOrderPlaced(market, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(market, side).Inc()
}

func (m *FixedTermMetrics) ObserveFailure(operation, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failures.WithLabelValues(operation, kind).Inc()
}

func (m *FixedTermMetrics) ObserveFill(market, makerSide string, base uint64) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(market, makerSide).Inc()
	m.filledBase.WithLabelValues(market, makerSide).Add(float64(base))
}

func (m *FixedTermMetrics) ObserveCancel(market, side string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(market, side).Inc()
}

func (m *FixedTermMetrics) ObserveEventConsumed(market, kind string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(market, kind).Inc()
}

func (m *FixedTermMetrics) SetBookDepth(market string, queued, bids, asks int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(market).Set(float64(queued))
	m.restingOrders.WithLabelValues(market, "bid").Set(float64(bids))
	m.restingOrders.WithLabelValues(market, "ask").Set(float64(asks))
}

func (m *FixedTermMetrics) ObserveSettlement(market string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(market).Inc()
}

func (m *FixedTermMetrics) ObserveRepayment(market string, full bool) {
	if m == nil {
		return
	}
	outcome := "partial"
	if full {
		outcome = "full"
	}
	m.repayments.WithLabelValues(market, outcome).Inc()
}

func (m *FixedTermMetrics) ObserveRedemption(market string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(market).Inc()
}

func (m *FixedTermMetrics) ObserveOperation(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationTiming.WithLabelValues(operation).Observe(seconds)
}
