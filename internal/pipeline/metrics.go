package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/devtools-research/internal/model"
)

// Metrics records pipeline activity in Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	tools         *prometheus.CounterVec
	calls         *prometheus.CounterVec
	tokens        *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with registerer, or with the
// default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtools_research_runs_total",
				Help: "Research runs by terminal status",
			},
			[]string{"status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devtools_research_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		tools: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtools_research_tools_total",
				Help: "Researched tools by outcome",
			},
			[]string{"status"},
		),
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtools_research_external_calls_total",
				Help: "Calls to external services by result",
			},
			[]string{"service", "result"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devtools_research_llm_tokens_total",
				Help: "Language model tokens by model and direction",
			},
			[]string{"model", "direction"},
		),
	}
}

func (m *Metrics) ObserveRun(status model.RunStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveStage(stage model.Stage, d time.Duration) {
	if m == nil || stage == "" {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) ObserveTool(status model.ToolStatus) {
	if m == nil {
		return
	}
	m.tools.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveCall(service string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(service, result).Inc()
}

func (m *Metrics) ObserveTokens(modelName string, usage model.TokenUsage) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(modelName, "input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues(modelName, "output").Add(float64(usage.OutputTokens))
}
