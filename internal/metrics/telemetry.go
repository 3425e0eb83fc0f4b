// Package metrics tracks per-request inference telemetry and exposes it both
// as the /stats snapshot and as Prometheus counters/histograms on
// /metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry is the last-observed set of generation counters for a backend;
// each Update replaces it whole.
type Telemetry struct {
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	TimeToFirstToken float64   `json:"time_to_first_token_s"`
	TokensPerSecond  float64   `json:"tokens_per_second"`
	DecodeStepTimes  []float64 `json:"decode_step_times_s,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tracker owns the last-observed Telemetry for the currently active backend
// and the Prometheus collectors fed from it. A Tracker has no notion of
// "which model" beyond the currently active one, matching §3's "last
// observed values are reported via /stats".
type Tracker struct {
	mu   sync.RWMutex
	last Telemetry

	loadDuration      prometheus.Histogram
	requestsTotal     *prometheus.CounterVec
	tokensPerSecond   prometheus.Gauge
	timeToFirstToken  prometheus.Histogram
	activeBackendInfo *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewTracker creates a Tracker and registers its collectors with reg. Passing
// a nil registry is valid for tests that don't care about /metrics output.
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lemonade_backend_load_duration_seconds",
			Help:    "Time spent starting and health-waiting a backend subprocess.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lemonade_inference_requests_total",
			Help: "Inference requests dispatched to a backend, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		tokensPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lemonade_tokens_per_second",
			Help: "Tokens per second observed in the most recent generation.",
		}),
		timeToFirstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lemonade_time_to_first_token_seconds",
			Help:    "Time to first token for completed generations.",
			Buckets: prometheus.DefBuckets,
		}),
		activeBackendInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lemonade_active_backend_info",
			Help: "1 for the currently active backend's recipe, 0 otherwise.",
		}, []string{"recipe"}),
	}

	if reg != nil {
		reg.MustRegister(t.loadDuration, t.requestsTotal, t.tokensPerSecond, t.timeToFirstToken, t.activeBackendInfo)
		if g, ok := reg.(prometheus.Gatherer); ok {
			t.gatherer = g
		}
	}
	if t.gatherer == nil {
		t.gatherer = prometheus.DefaultGatherer
	}

	return t
}

// Handler returns the /metrics HTTP handler scraping this Tracker's
// registry (or the default global registry, when NewTracker was given nil).
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// ObserveLoad records how long a backend took to become ready.
func (t *Tracker) ObserveLoad(recipe string, d time.Duration) {
	t.loadDuration.Observe(d.Seconds())
	t.activeBackendInfo.Reset()
	t.activeBackendInfo.WithLabelValues(recipe).Set(1)
}

// ObserveRequest increments the request counter for an operation/outcome pair.
func (t *Tracker) ObserveRequest(operation, outcome string) {
	t.requestsTotal.WithLabelValues(operation, outcome).Inc()
}

// Update replaces the last-observed Telemetry snapshot, as parsed from a
// backend's stdout, and feeds the Prometheus gauges/histograms.
func (t *Tracker) Update(tel Telemetry) {
	tel.UpdatedAt = time.Now()

	t.mu.Lock()
	t.last = tel
	t.mu.Unlock()

	if tel.TokensPerSecond > 0 {
		t.tokensPerSecond.Set(tel.TokensPerSecond)
	}
	if tel.TimeToFirstToken > 0 {
		t.timeToFirstToken.Observe(tel.TimeToFirstToken)
	}
}

// Reset clears the last-observed Telemetry. Nothing in the server calls it;
// each Update already replaces the whole snapshot.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.last = Telemetry{}
	t.mu.Unlock()
}

// Snapshot returns the last-observed Telemetry, the value served at
// GET /stats.
func (t *Tracker) Snapshot() Telemetry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}
