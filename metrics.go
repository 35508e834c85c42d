package uniswapv2

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all the Prometheus metrics for the System.
type Metrics struct {
	// --- Liveness ---
	LastDiscoveredBlock *prometheus.GaugeVec
	ChainHead           *prometheus.GaugeVec
	ErrorsTotal         *prometheus.CounterVec

	// --- Performance ---
	StageDuration *prometheus.HistogramVec
	RunDuration   *prometheus.HistogramVec
	FailedFetches *prometheus.CounterVec

	// --- Data ---
	PairsInRegistry *prometheus.GaugeVec
	ActivePairs     *prometheus.GaugeVec
	PricedTokens    *prometheus.GaugeVec
	RankedPairs     *prometheus.GaugeVec
	PairsDiscovered *prometheus.CounterVec
}

// NewMetrics creates and registers all the Prometheus metrics for the system.
func NewMetrics(reg prometheus.Registerer, systemName string) *Metrics {
	return &Metrics{
		LastDiscoveredBlock: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_discovery_cursor_block",
			Help:      "The last block whose pair-creation events are fully ingested.",
		}, []string{}),

		ChainHead: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_chain_head_block",
			Help:      "The chain head observed at the start of the last run.",
		}, []string{}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_errors_total",
			Help:      "Total number of errors and warnings, labeled by error type.",
		}, []string{"type"}),

		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),

		RunDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_run_duration_seconds",
			Help:      "Time spent in a whole run, labeled by effective mode.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"mode"}),

		FailedFetches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_failed_fetches_total",
			Help:      "Individual reads that failed after retries, labeled by stage.",
		}, []string{"stage"}),

		PairsInRegistry: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_pairs_in_registry_total",
			Help:      "The total number of pairs tracked in the registry.",
		}, []string{}),

		ActivePairs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_active_pairs_total",
			Help:      "Pairs active in the current activity window.",
		}, []string{}),

		PricedTokens: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_priced_tokens_total",
			Help:      "Tokens with a USD quote after the last propagation.",
		}, []string{}),

		RankedPairs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_ranked_pairs_total",
			Help:      "Pairs in the last ranking.",
		}, []string{}),

		PairsDiscovered: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "uniswap_analyzer_pairs_discovered_total",
			Help:      "Pairs added to the registry by discovery.",
		}, []string{}),
	}
}
