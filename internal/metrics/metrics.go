// Package metrics exposes playback counters over a Prometheus registry and
// a small admin HTTP router.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the playback daemon.
type Metrics struct {
	registry           *prometheus.Registry
	playbacksStarted   prometheus.Counter
	playbacksCompleted prometheus.Counter
	playbacksCancelled prometheus.Counter
	playbacksFailed    prometheus.Counter
	keysEmitted        prometheus.Counter
	activePlaybacks    prometheus.Gauge
}

// New creates and registers the daemon's metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	playbacksStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kbreplay_playbacks_started_total",
		Help: "Total number of playback sessions started",
	})
	playbacksCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kbreplay_playbacks_completed_total",
		Help: "Total number of playback sessions that completed all loops",
	})
	playbacksCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kbreplay_playbacks_cancelled_total",
		Help: "Total number of playback sessions cancelled by a stop request",
	})
	playbacksFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kbreplay_playbacks_failed_total",
		Help: "Total number of playback sessions ended by a sink error",
	})
	keysEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kbreplay_keys_emitted_total",
		Help: "Total number of key-down events asserted on the output sink",
	})
	activePlaybacks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kbreplay_active_playbacks",
		Help: "Number of playback sessions currently running",
	})

	registry.MustRegister(
		playbacksStarted,
		playbacksCompleted,
		playbacksCancelled,
		playbacksFailed,
		keysEmitted,
		activePlaybacks,
	)

	return &Metrics{
		registry:           registry,
		playbacksStarted:   playbacksStarted,
		playbacksCompleted: playbacksCompleted,
		playbacksCancelled: playbacksCancelled,
		playbacksFailed:    playbacksFailed,
		keysEmitted:        keysEmitted,
		activePlaybacks:    activePlaybacks,
	}
}

func (m *Metrics) IncStarted()    { m.playbacksStarted.Inc() }
func (m *Metrics) IncCompleted()  { m.playbacksCompleted.Inc() }
func (m *Metrics) IncCancelled()  { m.playbacksCancelled.Inc() }
func (m *Metrics) IncFailed()     { m.playbacksFailed.Inc() }
func (m *Metrics) IncKeyEmitted() { m.keysEmitted.Inc() }

// SetActivePlaybacks sets the active playback gauge.
func (m *Metrics) SetActivePlaybacks(n int) {
	m.activePlaybacks.Set(float64(n))
}

// Handler returns an http.Handler serving the registry. updateGauges, if
// non-nil, runs before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Router builds the admin router with /metrics and /healthz.
func (m *Metrics) Router(updateGauges func()) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		m.Handler(updateGauges).ServeHTTP(w, req)
	})
	return r
}
