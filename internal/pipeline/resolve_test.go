package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/pkg/perplexity"
	perplexitymocks "github.com/sells-group/devtools-research/pkg/perplexity/mocks"
)

func TestPickOfficialSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tool   string
		hits   []model.SearchHit
		want   string
		wantOK bool
	}{
		{
			name: "exact host label beats earlier hit",
			tool: "Supabase",
			hits: []model.SearchHit{
				{URL: "https://www.g2.com/products/supabase", Title: "Supabase Reviews"},
				{URL: "https://supabase.com/", Title: "The Postgres development platform"},
			},
			want:   "https://supabase.com/",
			wantOK: true,
		},
		{
			name: "name with spaces matches compact host",
			tool: "Planet Scale",
			hits: []model.SearchHit{
				{URL: "https://en.wikipedia.org/wiki/PlanetScale", Title: "PlanetScale - Wikipedia"},
				{URL: "https://planetscale.com", Title: "PlanetScale"},
			},
			want:   "https://planetscale.com",
			wantOK: true,
		},
		{
			name: "host containing name",
			tool: "Neon",
			hits: []model.SearchHit{
				{URL: "https://stackshare.io/neon", Title: "Neon"},
				{URL: "https://console.neon.tech", Title: "Console"},
			},
			want:   "https://console.neon.tech",
			wantOK: true,
		},
		{
			name: "falls back to first valid hit",
			tool: "Zzz",
			hits: []model.SearchHit{
				{URL: "not a url"},
				{URL: "https://example.com/a", Title: "Example"},
				{URL: "https://example.org/b", Title: "Other"},
			},
			want:   "https://example.com/a",
			wantOK: true,
		},
		{
			name: "no valid hits",
			tool: "Zzz",
			hits: []model.SearchHit{{URL: "ftp://files.zzz.com"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := pickOfficialSite(tt.tool, tt.hits)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://turso.tech", firstURL("The official site is <https://turso.tech>."))
	assert.Equal(t, "", firstURL("NONE"))
}

func newTestResolver(srch *fakeSearch, pplx perplexity.Client) *Resolver {
	svc := &services{Deps: Deps{Search: srch, Perplexity: pplx}}
	return &Resolver{svc: svc, limit: 3, log: zap.NewNop()}
}

func TestResolver_UsesSearch(t *testing.T) {
	t.Parallel()

	r := newTestResolver(&fakeSearch{}, nil)
	site, err := r.Resolve(context.Background(), "Turso")
	require.NoError(t, err)
	assert.Equal(t, "https://turso.com", site)
}

func TestResolver_PerplexityFallback(t *testing.T) {
	t.Parallel()

	srch := &fakeSearch{fn: func(context.Context, string) ([]model.SearchHit, error) { return nil, nil }}
	pplx := perplexitymocks.NewMockClient(t)
	pplx.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 && req.Temperature != nil
	})).Return(&perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: "https://turso.tech"}}},
	}, nil)

	site, err := newTestResolver(srch, pplx).Resolve(context.Background(), "Turso")
	require.NoError(t, err)
	assert.Equal(t, "https://turso.tech", site)
}

func TestResolver_PerplexityCitations(t *testing.T) {
	t.Parallel()

	srch := &fakeSearch{fn: func(context.Context, string) ([]model.SearchHit, error) {
		return nil, errors.New("search down")
	}}
	pplx := perplexitymocks.NewMockClient(t)
	pplx.On("ChatCompletion", mock.Anything, mock.Anything).Return(&perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Content: "Turso is a SQLite-compatible database."}}},
		Citations: []string{"https://news.ycombinator.com/item?id=1", "https://turso.tech/pricing"},
	}, nil)

	site, err := newTestResolver(srch, pplx).Resolve(context.Background(), "Turso")
	require.NoError(t, err)
	assert.Equal(t, "https://turso.tech/pricing", site)
}

func TestResolver_Unresolved(t *testing.T) {
	t.Parallel()

	srch := &fakeSearch{fn: func(context.Context, string) ([]model.SearchHit, error) { return nil, nil }}
	_, err := newTestResolver(srch, nil).Resolve(context.Background(), "Ghost")
	assert.ErrorIs(t, err, ErrUnresolved)
}
