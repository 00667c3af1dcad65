package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/devtools-research/internal/model"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(model.RunStatusCompleted)
		m.ObserveStage(model.StageSearch, time.Second)
		m.ObserveTool(model.ToolCompleted)
		m.ObserveCall("search", nil)
		m.ObserveTokens("m", model.TokenUsage{InputTokens: 1})
	})
}

func TestMetrics_RecordedByRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ai := &scriptedLLM{names: `["Supabase", "Neon"]`}
	p := newTestPipeline(t, testConfig(), Deps{Search: &fakeSearch{}, Scraper: &fakeScraper{}, LLM: ai}, WithMetrics(m))

	_, err := p.Run(context.Background(), "postgres", nil)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.tools.WithLabelValues("completed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.calls.WithLabelValues("search", "ok")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.calls.WithLabelValues("anthropic", "ok")), 0)
	assert.InDelta(t, 400, testutil.ToFloat64(m.tokens.WithLabelValues(testConfig().Model, "input")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "devtools_research_stage_duration_seconds")
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "extraction", errorKind(&ExtractionError{Stage: model.StageSearch, Err: errors.New("x")}))
	assert.Equal(t, "synthesis", errorKind(&SynthesisError{Err: errors.New("x")}))
	assert.Equal(t, "timeout", errorKind(context.DeadlineExceeded))
	assert.Equal(t, "llm_timeout", errorKind(&LLMError{Err: context.DeadlineExceeded}))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	se := &ScrapeError{Tool: "Neon", URL: "https://neon.tech", Kind: "timeout", Err: errors.New("slow")}
	assert.Equal(t, "research Neon: scrape https://neon.tech: timeout: slow", se.Error())
	assert.Equal(t, "research Neon: not_found: gone", (&ScrapeError{Tool: "Neon", Kind: "not_found", Err: errors.New("gone")}).Error())
	assert.Equal(t, "invalid query: query is empty", (&FatalError{Reason: "invalid query", Err: errors.New("query is empty")}).Error())
	assert.Equal(t, "research Neon: llm: bad", (&LLMError{Stage: model.StageResearch, Tool: "Neon", Err: errors.New("bad")}).Error())
}
