package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for turn execution. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Classifications *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	TurnDuration    *prometheus.HistogramVec
	Generations     *prometheus.CounterVec
	GenerationTime  *prometheus.HistogramVec
	Stalls          *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_classifications_total",
				Help: "Classified turns by type and method",
			},
			[]string{"type", "method"},
		),
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_turns_total",
				Help: "Finished turns by path and outcome code",
			},
			[]string{"path", "outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_turn_duration_seconds",
				Help:    "Wall-clock duration of turns",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"path"},
		),
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_generations_total",
				Help: "Streaming generations by backend and terminal status",
			},
			[]string{"backend", "status"},
		),
		GenerationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_generation_duration_seconds",
				Help:    "Duration of streaming generations",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"backend"},
		),
		Stalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_stream_stalls_total",
				Help: "Generations terminated by the stall detector",
			},
			[]string{"backend"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_tool_calls_total",
				Help: "Tool invocations by tool and success",
			},
			[]string{"tool", "success"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "turnstile_tool_duration_seconds",
				Help: "Duration of tool executions",
			},
			[]string{"tool"},
		),
	}

	m.registry.MustRegister(
		m.Classifications, m.Turns, m.TurnDuration,
		m.Generations, m.GenerationTime, m.Stalls,
		m.ToolCalls, m.ToolDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveClassification(kind, method string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(kind, method).Inc()
}

func (m *Metrics) ObserveTurn(path, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(path, outcome).Inc()
	m.TurnDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) ObserveGeneration(backend, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(backend, status).Inc()
	m.GenerationTime.WithLabelValues(backend).Observe(d.Seconds())
	if status == "timed_out" {
		m.Stalls.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) ObserveTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	s := "false"
	if success {
		s = "true"
	}
	m.ToolCalls.WithLabelValues(tool, s).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}
