package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP route
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hedge",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limits or quotas.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LendingMetrics tracks market operations and pool state.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	utilization  *prometheus.GaugeVec
	deposits     *prometheus.GaugeVec
	borrows      *prometheus.GaugeVec
	borrowAPY    *prometheus.GaugeVec
	candidates   prometheus.Gauge
	liquidations *prometheus.CounterVec
	feedRefresh  *prometheus.CounterVec
	paused       prometheus.Gauge
}

// Lending returns the singleton lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of market operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "pool_utilization_bps",
				Help:      "Borrowed share of each pool in basis points.",
			}, []string{"mint"}),
			deposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "pool_deposits_atoms",
				Help:      "Total deposits of each pool in atomic units.",
			}, []string{"mint"}),
			borrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "pool_borrows_atoms",
				Help:      "Total borrows of each pool in atomic units.",
			}, []string{"mint"}),
			borrowAPY: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "pool_borrow_apy_bps",
				Help:      "Current borrow APY of each pool in basis points.",
			}, []string{"mint"}),
			candidates: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "liquidation_candidates",
				Help:      "Obligations below the liquidation threshold at the last scan.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of executed liquidations segmented by borrow mint.",
			}, []string{"mint"}),
			feedRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "feed_refresh_total",
				Help:      "Count of price feed refresh rounds segmented by outcome.",
			}, []string{"outcome"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hedge",
				Subsystem: "lending",
				Name:      "market_paused",
				Help:      "Set to 1 while the market is paused.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.utilization,
			lendingRegistry.deposits,
			lendingRegistry.borrows,
			lendingRegistry.borrowAPY,
			lendingRegistry.candidates,
			lendingRegistry.liquidations,
			lendingRegistry.feedRefresh,
			lendingRegistry.paused,
		)
	})
	return lendingRegistry
}

// Observe records the execution of a market operation.
func (m *LendingMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPool publishes the state of one pool.
func (m *LendingMetrics) RecordPool(mint string, deposits, borrows uint64, utilizationBps, borrowAPYBps uint64) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(mint).Set(float64(deposits))
	m.borrows.WithLabelValues(mint).Set(float64(borrows))
	m.utilization.WithLabelValues(mint).Set(float64(utilizationBps))
	m.borrowAPY.WithLabelValues(mint).Set(float64(borrowAPYBps))
}

// SetCandidates records the size of the latest liquidation scan.
func (m *LendingMetrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Set(float64(n))
}

// RecordLiquidation counts one executed liquidation.
func (m *LendingMetrics) RecordLiquidation(mint string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(mint).Inc()
}

// RecordFeedRefresh counts one refresh round.
func (m *LendingMetrics) RecordFeedRefresh(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.feedRefresh.WithLabelValues(outcome).Inc()
}

// SetPaused mirrors the market pause flag.
func (m *LendingMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
