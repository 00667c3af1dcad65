package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/devtools-research/internal/config"
	"github.com/sells-group/devtools-research/internal/model"
)

func TestFormatProgress(t *testing.T) {
	t.Parallel()

	result := model.WorkflowResult{
		Tools:  []model.ToolAnalysis{model.UnknownAnalysis("Flask", "")},
		Status: model.RunStatusCompleted,
	}

	tests := []struct {
		name string
		ev   model.Event
		want string
	}{
		{"stage started", model.StageStarted(model.StageSearch), "[search] started"},
		{"stage completed", model.StageCompleted(model.StageResearch), "[research] done"},
		{"tool progress", model.ToolProgress("Flask", model.ToolDegraded), "  Flask: degraded"},
		{"finished", model.WorkflowFinished(result), "finished: completed, 1 tool(s)"},
		{"finished without result", model.Event{Kind: model.EventWorkflowFinished}, "finished"},
		{"failed", model.WorkflowFailed("search unavailable"), "failed: search unavailable"},
		{"unknown kind", model.Event{Kind: "custom"}, "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatProgress(tt.ev))
		})
	}
}

func sampleResult() model.WorkflowResult {
	return model.WorkflowResult{
		Query:          "python web frameworks",
		Tools:          []model.ToolAnalysis{model.UnknownAnalysis("Flask", "https://flask.palletsprojects.com")},
		Recommendation: "Flask for small services.",
		GeneratedAt:    time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
		Status:         model.RunStatusCompleted,
	}
}

func TestExportResult_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, exportResult(path, sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got model.WorkflowResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "python web frameworks", got.Query)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "Flask", got.Tools[0].Name)
}

func TestExportResult_YAML(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".yaml", ".YML"} {
		path := filepath.Join(t.TempDir(), "out"+ext)
		require.NoError(t, exportResult(path, sampleResult()))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, yaml.Unmarshal(data, &got))
		assert.Equal(t, "python web frameworks", got["query"])
		assert.Equal(t, "completed", got["status"])
		tools, ok := got["tools"].([]any)
		require.True(t, ok)
		assert.Len(t, tools, 1)
	}
}

func TestExportResult_BadPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "out.json")
	err := exportResult(path, sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: write")
}

func TestMarshalYAML_UsesJSONNames(t *testing.T) {
	t.Parallel()

	data, err := marshalYAML(model.ToolAnalysis{Name: "Vite", PricingModel: model.PricingFree})
	require.NoError(t, err)
	assert.Contains(t, string(data), "pricing_model: free")
	assert.Contains(t, string(data), "language_support: null")
}

func TestApplyResearchFlags(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{}
	cfg.Research.Concurrency = 3
	cfg.Research.Temperature = 0.1
	cfg.Anthropic.Model = "claude-default"

	cmd := &cobra.Command{Use: "research"}
	cmd.Flags().IntVar(&researchConcurrency, "concurrency", 0, "")
	cmd.Flags().StringVar(&researchModel, "model", "", "")
	cmd.Flags().Float64Var(&researchTemperature, "temperature", 0, "")
	require.NoError(t, cmd.Flags().Set("concurrency", "7"))
	require.NoError(t, cmd.Flags().Set("temperature", "0"))

	applyResearchFlags(cmd)

	assert.Equal(t, 7, cfg.Research.Concurrency)
	assert.Equal(t, 0.0, cfg.Research.Temperature)
	assert.Equal(t, "claude-default", cfg.Anthropic.Model, "unset flag keeps config value")
}

func TestInitStore(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	t.Run("sqlite", func(t *testing.T) {
		cfg = &config.Config{}
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

		st, err := initStore(context.Background())
		require.NoError(t, err)
		defer st.Close() //nolint:errcheck
		require.NoError(t, st.Migrate(context.Background()))

		run, err := st.CreateRun(context.Background(), "run-1", "static site generators")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg = &config.Config{}
		cfg.Store.Driver = "mysql"

		_, err := initStore(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store driver")
	})
}
