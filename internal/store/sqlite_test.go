package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/devtools-research/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleOutcome(runID string, status model.RunStatus) *model.Outcome {
	return &model.Outcome{
		RunID: runID,
		Result: model.WorkflowResult{
			Query: "vector databases",
			Tools: []model.ToolAnalysis{
				{
					Name:            "Qdrant",
					Website:         "https://qdrant.tech",
					PricingModel:    model.PricingFreemium,
					OpenSource:      model.Bool(true),
					TechStack:       []string{"Rust"},
					LanguageSupport: []string{"Python", "Go"},
					Description:     "Vector similarity search engine.",
				},
				model.UnknownAnalysis("Pinecone", ""),
			},
			Recommendation: "Use Qdrant.",
			GeneratedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Status:         status,
		},
		Warnings: []model.StageWarning{
			{Stage: model.StageResearch, Tool: "Pinecone", Kind: "scrape_blocked", Message: "blocked"},
		},
		Usage: model.TokenUsage{InputTokens: 1200, OutputTokens: 300, Calls: 4},
	}
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "run-1", "vector databases")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "vector databases", got.Query)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.CompletedAt)
}

func TestSQLite_CreateRun_GeneratesID(t *testing.T) {
	st := newTestSQLiteStore(t)

	run, err := st.CreateRun(context.Background(), "", "ci runners")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveOutcome(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "run-1", "vector databases")
	require.NoError(t, err)
	require.NoError(t, st.SaveOutcome(ctx, sampleOutcome("run-1", model.RunStatusCompleted), ""))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Tools, 2)
	assert.Equal(t, "Qdrant", got.Result.Tools[0].Name)
	assert.Equal(t, []string{"Python", "Go"}, got.Result.Tools[0].LanguageSupport)
	assert.True(t, got.Result.Tools[1].Degraded)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, "scrape_blocked", got.Warnings[0].Kind)
	assert.Equal(t, 1200, got.Usage.InputTokens)
	assert.NotNil(t, got.CompletedAt)
}

func TestSQLite_SaveOutcome_Failed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "run-1", "vector databases")
	require.NoError(t, err)
	require.NoError(t, st.SaveOutcome(ctx, sampleOutcome("run-1", model.RunStatusFailed), "search service unreachable"))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "search service unreachable", got.Error)
}

func TestSQLite_SaveOutcome_UnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SaveOutcome(context.Background(), sampleOutcome("nope", model.RunStatusCompleted), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateRunStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "run-1", "q")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, "run-1", model.RunStatusCancelled))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, got.Status)

	assert.ErrorIs(t, st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed), ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := st.CreateRun(ctx, id, "query "+id)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, st.SaveOutcome(ctx, sampleOutcome("b", model.RunStatusCompleted), ""))

	all, err := st.ListRuns(ctx, RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	completed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "b", completed[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	byQuery, err := st.ListRuns(ctx, RunFilter{Query: "query a"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "a", byQuery[0].ID)
}
