/*

This file contains the Prometheus metrics of the vault.

Ledger gauges are read from the vault summary at scrape time, so they never lag the ledger. Operations,
rebases and keeper cycles are counted as they happen.

*/

package metrics

import (
	"context"
	"net/http"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/utils"
)

const namespace = "pegvault"

// scrapeTimeout bounds the summary read behind one scrape.
const scrapeTimeout = 5 * time.Second

var metricsLogger = logger.GetForComponent("metrics")

// SummarySource provides the ledger numbers exported as gauges.
type SummarySource interface {
	Summary(ctx context.Context) (types.VaultSummary, error)
}

// Metrics owns a registry with every vault metric.
type Metrics struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	rebases       *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// New registers the vault metrics. source may be nil when no ledger gauges are wanted.
func New(source SummarySource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome (ok, rejected, error).",
		}, []string{"operation", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside a ledger operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		rebases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebases_total",
			Help:      "Applied rebases by direction of the supply change.",
		}, []string{"direction"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keeper_cycles_total",
			Help:      "Keeper cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "keeper_cycle_duration_seconds",
			Help:      "Duration of a keeper cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.operations, m.opDuration, m.rebases, m.cycles, m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if source != nil {
		m.WatchLedger(source)
	}
	return m
}

// WatchLedger adds the ledger gauges read from source. It is used when the ledger is created after the
// metrics it reports operations to. Call it at most once.
func (m *Metrics) WatchLedger(source SummarySource) {
	m.registry.MustRegister(newLedgerCollector(source))
}

// Registry exposes the registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation counts a finished ledger operation. It runs inside the operation and must not call
// back into the vault.
func (m *Metrics) ObserveOperation(op string, duration time.Duration, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveCycle records a finished keeper cycle.
func (m *Metrics) ObserveCycle(duration time.Duration, success bool) {
	label := "ok"
	if !success {
		label = "error"
	}
	m.cycles.WithLabelValues(label).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// ObserveRebase counts an applied rebase by direction.
func (m *Metrics) ObserveRebase(r types.RebaseResult) {
	if !r.Applied {
		return
	}
	direction := "up"
	if r.NewSupply.LT(r.OldSupply) {
		direction = "down"
	}
	m.rebases.WithLabelValues(direction).Inc()
}

// outcome separates errors from the registered taxonomy, which reject a request, from everything else.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if codespace, _, _ := errorsmod.ABCIInfo(err, false); codespace == types.Codespace {
		return "rejected"
	}
	return "error"
}

// ledgerCollector reads the vault summary on every scrape.
type ledgerCollector struct {
	source SummarySource

	totalAssets     *prometheus.Desc
	totalSupply     *prometheus.Desc
	totalDebt       *prometheus.Desc
	trackedValue    *prometheus.Desc
	bufferValue     *prometheus.Desc
	bufferTickets   *prometheus.Desc
	creditsPerToken *prometheus.Desc
	nonRebasing     *prometheus.Desc
	strategyDebt    *prometheus.Desc
	adjusting       *prometheus.Desc
	scrapeErrors    prometheus.Counter
}

func newLedgerCollector(source SummarySource) *ledgerCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &ledgerCollector{
		source:          source,
		totalAssets:     desc("total_assets_usd", "Tracked value plus strategy debt."),
		totalSupply:     desc("total_supply", "Share token supply."),
		totalDebt:       desc("total_debt_usd", "Value lent to strategies."),
		trackedValue:    desc("tracked_value_usd", "Value of the assets held by the vault itself."),
		bufferValue:     desc("buffer_value_usd", "Value of deposits waiting in the buffer."),
		bufferTickets:   desc("buffer_tickets", "Outstanding buffer tickets."),
		creditsPerToken: desc("rebasing_credits_per_token", "Credits per share of rebasing accounts (1e27 = 1.0)."),
		nonRebasing:     desc("non_rebasing_supply", "Shares held by accounts that opted out of rebasing."),
		strategyDebt:    desc("strategy_debt_usd", "Value lent to a strategy.", "strategy", "name"),
		adjusting:       desc("adjusting", "1 while an adjust-position window is open."),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_scrape_errors_total",
			Help:      "Scrapes that could not read the vault summary.",
		}),
	}
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.totalAssets, c.totalSupply, c.totalDebt, c.trackedValue, c.bufferValue, c.bufferTickets,
		c.creditsPerToken, c.nonRebasing, c.strategyDebt, c.adjusting,
	} {
		ch <- d
	}
	c.scrapeErrors.Describe(ch)
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	defer c.scrapeErrors.Collect(ch)

	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	s, err := c.source.Summary(ctx)
	if err != nil {
		metricsLogger.Warn().Err(err).Msg("Failed to read vault summary for metrics")
		c.scrapeErrors.Inc()
		return
	}

	gauge := func(d *prometheus.Desc, v sdkmath.Int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, canonical(v), labels...)
	}
	gauge(c.totalAssets, s.TotalAssets)
	gauge(c.totalSupply, s.TotalSupply)
	gauge(c.totalDebt, s.TotalDebt)
	gauge(c.trackedValue, s.ValueOfTrackedTokens)
	gauge(c.bufferValue, s.BufferValue)
	gauge(c.bufferTickets, s.BufferTickets)
	gauge(c.nonRebasing, s.NonRebasingSupply)
	for _, st := range s.Strategies {
		gauge(c.strategyDebt, st.TotalDebt, st.Address, st.Name)
	}
	credits, _ := utils.SDKIntToFloat64(utils.OrZero(s.RebasingCreditsPerToken), 27)
	ch <- prometheus.MustNewConstMetric(c.creditsPerToken, prometheus.GaugeValue, credits)
	adjusting := 0.0
	if s.Adjusting {
		adjusting = 1
	}
	ch <- prometheus.MustNewConstMetric(c.adjusting, prometheus.GaugeValue, adjusting)
}

// canonical converts an 18 decimal amount for display; precision loss is acceptable in a gauge.
func canonical(v sdkmath.Int) float64 {
	f, err := utils.SDKIntToFloat64(utils.OrZero(v), types.CanonicalDecimals)
	if err != nil {
		return 0
	}
	return f
}
