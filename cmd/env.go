package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/pipeline"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/internal/scrape"
	"github.com/sells-group/devtools-research/internal/search"
	"github.com/sells-group/devtools-research/internal/store"
	anthropicpkg "github.com/sells-group/devtools-research/pkg/anthropic"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
	"github.com/sells-group/devtools-research/pkg/jina"
	"github.com/sells-group/devtools-research/pkg/perplexity"
)

// researchEnv holds the store, metrics registry, and pipeline used by the
// research and serve commands.
type researchEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Registry *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *researchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initResearch validates config, opens and migrates the store, and builds
// the pipeline with every external client. Callers should defer env.Close().
func initResearch(ctx context.Context) (*researchEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, err := buildPipeline(reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &researchEnv{Store: st, Pipeline: p, Registry: reg}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildGuard assembles the per-service limiter, breaker, and retry policy
// shared by every outbound call.
func buildGuard(log *zap.Logger) *resilience.Guard {
	retry := cfg.RetryConfig()
	retry.OnRetry = resilience.RetryLogger(log, "research", "outbound call")

	return &resilience.Guard{
		Limiters: resilience.NewServiceLimiters(cfg.Resilience.RateLimits),
		Breakers: resilience.NewServiceBreakers(cfg.CircuitConfig(), func(service string, from, to resilience.CircuitState) {
			log.Warn("circuit breaker state change",
				zap.String("service", service),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
		Retry: retry,
	}
}

func buildPipeline(reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	log := zap.L()
	guard := buildGuard(log)

	var providers []search.Provider
	var scrapers []scrape.Scraper
	scrapers = append(scrapers, scrape.NewLocalScraper(
		time.Duration(cfg.Scrape.LocalTimeoutSecs)*time.Second,
		cfg.Scrape.UserAgent,
	))

	var fcClient firecrawl.Client
	if cfg.Firecrawl.Key != "" {
		fcClient = firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		providers = append(providers, search.NewFirecrawlProvider(fcClient))
	}

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)
	if cfg.Jina.Key != "" {
		providers = append(providers, search.NewJinaProvider(jinaClient))
	}
	// The reader works without a key at a lower rate limit.
	scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient, guard.Breakers.Get("jina_reader")))

	if fcClient != nil {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(fcClient))
	}
	chain := scrape.NewChain(scrape.NewPathMatcher(cfg.Scrape.ExcludePaths), scrapers...).WithLogger(log)
	if fcClient != nil {
		chain.WithFirecrawlClient(fcClient)
	}

	var pplx perplexity.Client
	if cfg.Perplexity.Key != "" {
		pplx = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		log.Debug("DEVTOOLS_PERPLEXITY_KEY not set, site resolution uses search only")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	return pipeline.New(cfg.RunConfig(), pipeline.Deps{
		Search:     search.NewChain(guard, providers...).WithLogger(log),
		Scraper:    chain,
		LLM:        llm.NewAnthropicGenerator(anthropicClient, cfg.Anthropic.Model),
		Perplexity: pplx,
		Guard:      guard,
	}, pipeline.WithMetrics(pipeline.NewMetrics(reg)), pipeline.WithLogger(log))
}
