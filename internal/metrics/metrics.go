package metrics

import (
	"net/http"
	"time"

	"cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
)

const namespace = "assetmanager"

// Registry holds the Prometheus metrics of the asset manager on its own registry,
// so tests and multiple instances never collide on the global one.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	Rebalances        *prometheus.CounterVec
	RebalanceFees     prometheus.Counter
	RebalanceSwaps    prometheus.Counter
	RebalanceErrors   *prometheus.CounterVec
	RebalanceDuration *prometheus.HistogramVec
	InvestedRatio     *prometheus.GaugeVec
	ManagedBalance    *prometheus.GaugeVec
	CashBalance       *prometheus.GaugeVec
}

// NewRegistry creates and registers every metric.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Rebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalances_total",
				Help:      "Successful rebalances by direction",
			},
			[]string{"direction"},
		),

		RebalanceFees: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalance_fees_total",
				Help:      "Sum of rebalance fees paid, in pool asset units",
			},
		),

		RebalanceSwaps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalance_swaps_total",
				Help:      "Rebalances whose fee was routed through a batch swap",
			},
		),

		RebalanceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalance_errors_total",
				Help:      "Failed rebalances by error reason",
			},
			[]string{"reason"},
		),

		RebalanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rebalance_duration_seconds",
				Help:      "Duration of a rebalance including ledger execution",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"result"},
		),

		InvestedRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_invested_ratio",
				Help:      "Managed / (cash + managed) of each pool",
			},
			[]string{"pool"},
		),

		ManagedBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_managed_balance",
				Help:      "Managed balance of each pool",
			},
			[]string{"pool"},
		),

		CashBalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_cash_balance",
				Help:      "Cash balance of each pool",
			},
			[]string{"pool"},
		),
	}

	r.registry.MustRegister(
		r.Rebalances,
		r.RebalanceFees,
		r.RebalanceSwaps,
		r.RebalanceErrors,
		r.RebalanceDuration,
		r.InvestedRatio,
		r.ManagedBalance,
		r.CashBalance,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveRebalance records a successful rebalance.
func (r *Registry) ObserveRebalance(result types.RebalanceResult, took time.Duration) {
	if r == nil {
		return
	}
	r.Rebalances.WithLabelValues(string(result.Direction)).Inc()
	if !result.Fee.IsNil() && result.Fee.IsPositive() {
		r.RebalanceFees.Add(intToFloat(result.Fee))
	}
	if result.Swapped {
		r.RebalanceSwaps.Inc()
	}
	r.RebalanceDuration.WithLabelValues("success").Observe(took.Seconds())
	r.ObservePool(result.PoolID, result.After)
}

// ObserveRebalanceError records a failed rebalance under a short reason label.
func (r *Registry) ObserveRebalanceError(reason string, took time.Duration) {
	if r == nil {
		return
	}
	r.RebalanceErrors.WithLabelValues(reason).Inc()
	r.RebalanceDuration.WithLabelValues("error").Observe(took.Seconds())
}

// ObservePool updates the per-pool gauges.
func (r *Registry) ObservePool(poolID types.PoolID, balances types.PoolBalances) {
	if r == nil || balances.Validate() != nil {
		return
	}
	pool := poolID.String()
	r.CashBalance.WithLabelValues(pool).Set(intToFloat(balances.Cash))
	r.ManagedBalance.WithLabelValues(pool).Set(intToFloat(balances.Managed))

	ratio := 0.0
	if tvl := balances.TVL(); tvl.IsPositive() {
		ratio = math.LegacyNewDecFromInt(balances.Managed).QuoInt(tvl).MustFloat64()
	}
	r.InvestedRatio.WithLabelValues(pool).Set(ratio)
}

func intToFloat(i math.Int) float64 {
	f, err := utils.IntToFloat64(i, 0)
	if err != nil {
		return 0
	}
	return f
}
