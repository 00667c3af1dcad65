package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/devtools-research/internal/pipeline"
	"github.com/sells-group/devtools-research/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings. Without a key, site
// resolution relies on search results alone.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// ResearchConfig configures a single research run.
type ResearchConfig struct {
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxResults       int     `yaml:"max_results" mapstructure:"max_results"`
	MaxTools         int     `yaml:"max_tools" mapstructure:"max_tools"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	StageTimeoutSecs int     `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	ResolveResults   int     `yaml:"resolve_results" mapstructure:"resolve_results"`
	ArticleChars     int     `yaml:"article_chars" mapstructure:"article_chars"`
	PageChars        int     `yaml:"page_chars" mapstructure:"page_chars"`
	ScrapeArticles   bool    `yaml:"scrape_articles" mapstructure:"scrape_articles"`
	TitleFallback    bool    `yaml:"title_fallback" mapstructure:"title_fallback"`
}

// ScrapeConfig configures the scrape chain.
type ScrapeConfig struct {
	LocalTimeoutSecs int      `yaml:"local_timeout_secs" mapstructure:"local_timeout_secs"`
	UserAgent        string   `yaml:"user_agent" mapstructure:"user_agent"`
	ExcludePaths     []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// ResilienceConfig configures retries, circuit breakers, and per-service
// rate limits for outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int                `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int                `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int                `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64            `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64            `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int                `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int                `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	RateLimits       map[string]float64 `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	EventHistory   int      `yaml:"event_history" mapstructure:"event_history"`
	MaxTrackedRuns int      `yaml:"max_tracked_runs" mapstructure:"max_tracked_runs"`
}

// MonitoringConfig configures the background run-health checker started by
// the serve command.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEVTOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Empty defaults register the keys so env-only values survive Unmarshal.
	for _, key := range []string{"anthropic.key", "firecrawl.key", "jina.key", "perplexity.key", "store.database_url"} {
		v.SetDefault(key, "")
	}

	defaults := pipeline.DefaultRunConfig()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "devtools-research.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.event_history", 256)
	v.SetDefault("server.max_tracked_runs", 100)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("anthropic.model", defaults.Model)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("research.temperature", defaults.Temperature)
	v.SetDefault("research.max_results", defaults.MaxResults)
	v.SetDefault("research.max_tools", defaults.MaxTools)
	v.SetDefault("research.concurrency", defaults.Concurrency)
	v.SetDefault("research.stage_timeout_secs", int(defaults.StageTimeout/time.Second))
	v.SetDefault("research.resolve_results", defaults.ResolveResults)
	v.SetDefault("research.article_chars", defaults.ArticleChars)
	v.SetDefault("research.page_chars", defaults.PageChars)
	v.SetDefault("research.scrape_articles", defaults.ScrapeArticles)
	v.SetDefault("research.title_fallback", defaults.TitleFallback)
	v.SetDefault("scrape.local_timeout_secs", 15)
	v.SetDefault("scrape.user_agent", "devtools-research/1.0")
	v.SetDefault("scrape.exclude_paths", []string{"/login*", "/signup*", "*.pdf"})
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.rate_limits", map[string]float64{
		"firecrawl":                2,
		"jina":                     2,
		pipeline.ServiceScrape:     5,
		pipeline.ServiceAnthropic:  4,
		pipeline.ServicePerplexity: 1,
	})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// RunConfig returns the immutable per-run configuration.
func (c *Config) RunConfig() pipeline.RunConfig {
	r := c.Research
	return pipeline.RunConfig{
		Model:          c.Anthropic.Model,
		Temperature:    r.Temperature,
		MaxResults:     r.MaxResults,
		MaxTools:       r.MaxTools,
		Concurrency:    r.Concurrency,
		StageTimeout:   time.Duration(r.StageTimeoutSecs) * time.Second,
		ResolveResults: r.ResolveResults,
		ArticleChars:   r.ArticleChars,
		PageChars:      r.PageChars,
		ScrapeArticles: r.ScrapeArticles,
		TitleFallback:  r.TitleFallback,
	}
}

// RetryConfig returns the retry policy for outbound calls.
func (c *Config) RetryConfig() resilience.RetryConfig {
	r := c.Resilience
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// CircuitConfig returns the per-service circuit breaker settings.
func (c *Config) CircuitConfig() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(c.Resilience.FailureThreshold, c.Resilience.ResetTimeoutSecs)
}

// Validate checks credentials and run settings. Violations are fatal
// before any run starts.
func (c *Config) Validate() error {
	var missing []string
	if c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key")
	}
	if c.Firecrawl.Key == "" && c.Jina.Key == "" {
		missing = append(missing, "firecrawl.key or jina.key")
	}
	if len(missing) > 0 {
		return &pipeline.FatalError{
			Reason: "missing credentials",
			Err:    eris.Errorf("config: missing %s", strings.Join(missing, ", ")),
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return &pipeline.FatalError{
			Reason: "invalid configuration",
			Err:    eris.Errorf("config: unknown store driver %q", c.Store.Driver),
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return &pipeline.FatalError{
			Reason: "invalid configuration",
			Err:    eris.New("config: store.database_url is required for postgres"),
		}
	}

	return c.RunConfig().Validate()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
