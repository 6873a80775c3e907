// Package observability exposes the Prometheus metrics for the gateway.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the gateway emits.
type Collector struct {
	// Request metrics
	RequestDuration *prometheus.HistogramVec
	RequestCount    *prometheus.CounterVec

	// Provider metrics
	ProviderLatency  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	ProviderTokens   *prometheus.CounterVec

	// Ensemble metrics
	EnsembleDuration  *prometheus.HistogramVec
	ConsensusOutcomes *prometheus.CounterVec
	TieBreaks         *prometheus.CounterVec
	MetaVotes         prometheus.Counter
	Abstentions       prometheus.Counter

	// Admission metrics
	AdmissionRefused prometheus.Counter
	QueueDepth       prometheus.Gauge
	AutoscaleSignals prometheus.Counter

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheSize   prometheus.Gauge

	// Calibration metrics
	CalibrationRebuilds *prometheus.CounterVec
	BrierScore          *prometheus.GaugeVec
}

// NewCollector creates and registers the gateway metrics on the given
// registerer. A nil registerer uses the default.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_provider_latency_seconds",
				Help:    "LLM provider latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_provider_failures_total",
				Help: "Provider invocations that were rejected",
			},
			[]string{"provider", "model", "kind"},
		),
		ProviderTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_provider_tokens_total",
				Help: "Tokens consumed per provider",
			},
			[]string{"provider", "model", "direction"},
		),
		EnsembleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ensemble_duration_seconds",
				Help:    "End-to-end ensemble processing time",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"tier"},
		),
		ConsensusOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_consensus_total",
				Help: "Vote outcomes by consensus level",
			},
			[]string{"consensus"},
		),
		TieBreaks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_tie_breaks_total",
				Help: "Tie-break escalations by strategy",
			},
			[]string{"strategy"},
		),
		MetaVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ensemble_meta_votes_total",
			Help: "Meta-voter escalations",
		}),
		Abstentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ensemble_abstentions_total",
			Help: "Requests where the vote abstained",
		}),
		AdmissionRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_refused_total",
			Help: "Requests refused by the admission queue",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admission_queue_depth",
			Help: "Current admission queue depth",
		}),
		AutoscaleSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_autoscale_signals_total",
			Help: "Autoscale signals emitted under backpressure",
		}),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache_type"},
		),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_local_entries",
			Help: "Entries in the local response cache",
		}),
		CalibrationRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibration_rebuilds_total",
				Help: "Calibration map rebuilds per model",
			},
			[]string{"model"},
		),
		BrierScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "calibration_brier_score",
				Help: "Recent mean Brier score per model",
			},
			[]string{"model"},
		),
	}

	reg.MustRegister(
		c.RequestDuration,
		c.RequestCount,
		c.ProviderLatency,
		c.ProviderFailures,
		c.ProviderTokens,
		c.EnsembleDuration,
		c.ConsensusOutcomes,
		c.TieBreaks,
		c.MetaVotes,
		c.Abstentions,
		c.AdmissionRefused,
		c.QueueDepth,
		c.AutoscaleSignals,
		c.CacheHits,
		c.CacheMisses,
		c.CacheSize,
		c.CalibrationRebuilds,
		c.BrierScore,
	)
	return c
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
