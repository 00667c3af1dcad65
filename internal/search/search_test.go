package search

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
	fcmocks "github.com/sells-group/devtools-research/pkg/firecrawl/mocks"
	"github.com/sells-group/devtools-research/pkg/jina"
	jinamocks "github.com/sells-group/devtools-research/pkg/jina/mocks"
)

type fakeProvider struct {
	name  string
	hits  []model.SearchHit
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Search(_ context.Context, _ string, _ int) ([]model.SearchHit, error) {
	f.calls++
	return f.hits, f.err
}

func TestChain_FirstProviderWins(t *testing.T) {
	a := &fakeProvider{name: "a", hits: []model.SearchHit{{URL: "https://a.dev"}}}
	b := &fakeProvider{name: "b"}

	hits, err := NewChain(nil, a, b).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Zero(t, b.calls)
}

func TestChain_FallsBack(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("bad query")}
	b := &fakeProvider{name: "b", hits: []model.SearchHit{{URL: "https://b.dev"}}}

	hits, err := NewChain(nil, a, b).Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, "https://b.dev", hits[0].URL)
}

func dialError(host string) error {
	return &url.Error{Op: "Get", URL: "https://" + host, Err: &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &net.DNSError{Err: "no such host", Name: host, IsNotFound: true},
	}}
}

func TestChain_AllUnavailable(t *testing.T) {
	a := &fakeProvider{name: "a", err: resilience.NewTransientError(dialError("api.firecrawl.dev"), 0)}
	b := &fakeProvider{name: "b", err: resilience.NewAuthError(errors.New("401"), 401)}

	_, err := NewChain(nil, a, b).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestChain_RateLimitedIsNotUnavailable(t *testing.T) {
	a := &fakeProvider{name: "firecrawl", err: resilience.ClassifyStatus(errors.New("firecrawl: HTTP 429"), http.StatusTooManyRequests)}
	b := &fakeProvider{name: "jina", err: resilience.ClassifyStatus(errors.New("jina: HTTP 503"), http.StatusServiceUnavailable)}

	_, err := NewChain(nil, a, b).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestUnreachable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"dns failure", dialError("s.jina.ai"), true},
		{"connection refused", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"dial timeout", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}, true},
		{"circuit open", resilience.ErrCircuitOpen, true},
		{"auth", resilience.NewAuthError(errors.New("403"), 403), true},
		{"rate limited", resilience.NewTransientError(errors.New("429"), 429), false},
		{"request timeout", resilience.NewTransientError(errors.New("408"), 408), false},
		{"server error", resilience.NewTransientError(errors.New("502"), 502), false},
		{"read timeout", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("i/o timeout")}, false},
		{"bad request", errors.New("bad query"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, unreachable(tt.err))
		})
	}
}

func TestChain_MixedFailureIsNotUnavailable(t *testing.T) {
	a := &fakeProvider{name: "a", err: resilience.NewTransientError(errors.New("503"), 503)}
	b := &fakeProvider{name: "b", err: errors.New("malformed response")}

	_, err := NewChain(nil, a, b).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))
}

func TestChain_NoProviders(t *testing.T) {
	_, err := NewChain(nil).Search(context.Background(), "q", 5)
	assert.True(t, IsUnavailable(err))
}

func TestChain_OpenBreakerCountsAsUnavailable(t *testing.T) {
	guard := &resilience.Guard{
		Breakers: resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}, nil),
	}
	a := &fakeProvider{name: "a", err: errors.New("boom")}
	chain := NewChain(guard, a)

	_, err := chain.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))

	_, err = chain.Search(context.Background(), "q", 5)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 1, a.calls)
}

func TestChain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeProvider{name: "a"}

	_, err := NewChain(nil, a).Search(ctx, "q", 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.calls)
}

func TestDedupeHits(t *testing.T) {
	hits := dedupeHits([]model.SearchHit{
		{URL: "https://a.dev/"},
		{URL: "https://A.dev"},
		{URL: ""},
		{URL: "https://b.dev"},
		{URL: "https://c.dev"},
	}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://a.dev/", hits[0].URL)
	assert.Equal(t, "https://b.dev", hits[1].URL)
}

func TestFirecrawlProvider(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	fc.On("Search", mock.Anything, firecrawl.SearchRequest{Query: "ci tools", Limit: 3}).
		Return(&firecrawl.SearchResponse{Success: true, Data: []firecrawl.SearchResult{
			{URL: "https://circleci.com", Title: "CircleCI", Description: "CI/CD"},
		}}, nil)

	hits, err := NewFirecrawlProvider(fc).Search(context.Background(), "ci tools", 3)
	require.NoError(t, err)
	assert.Equal(t, []model.SearchHit{{URL: "https://circleci.com", Title: "CircleCI", Snippet: "CI/CD"}}, hits)
}

func TestFirecrawlProvider_ClassifiesStatus(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	fc.On("Search", mock.Anything, mock.Anything).Return(nil, &firecrawl.APIError{StatusCode: http.StatusUnauthorized})

	_, err := NewFirecrawlProvider(fc).Search(context.Background(), "q", 3)
	assert.True(t, resilience.IsAuth(err))
}

func TestJinaProvider(t *testing.T) {
	jc := jinamocks.NewMockClient(t)
	jc.On("Search", mock.Anything, "ci tools").Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{URL: "https://circleci.com", Title: "CircleCI", Content: "Continuous integration"},
	}}, nil)

	hits, err := NewJinaProvider(jc).Search(context.Background(), "ci tools", 3)
	require.NoError(t, err)
	assert.Equal(t, "Continuous integration", hits[0].Snippet)
}

func TestJinaProvider_TransientStatus(t *testing.T) {
	jc := jinamocks.NewMockClient(t)
	jc.On("Search", mock.Anything, "q").Return(nil, &jina.StatusError{StatusCode: 429})

	_, err := NewJinaProvider(jc).Search(context.Background(), "q", 3)
	assert.True(t, resilience.IsTransient(err))
}
