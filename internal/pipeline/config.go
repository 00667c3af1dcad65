package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
)

// RunConfig holds the read-only settings for research runs. It is copied
// into the Pipeline at construction and never mutated afterwards.
type RunConfig struct {
	Model          string
	Temperature    float64
	MaxResults     int
	MaxTools       int
	Concurrency    int
	StageTimeout   time.Duration
	ResolveResults int
	ArticleChars   int
	PageChars      int
	ScrapeArticles bool
	TitleFallback  bool
}

// DefaultRunConfig returns the settings used when nothing is configured.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:          "claude-haiku-4-5-20251001",
		Temperature:    0.1,
		MaxResults:     3,
		MaxTools:       4,
		Concurrency:    2,
		StageTimeout:   3 * time.Minute,
		ResolveResults: 3,
		ArticleChars:   1500,
		PageChars:      12000,
		ScrapeArticles: true,
	}
}

// Validate checks ranges. Violations are fatal: no run may start with them.
func (c RunConfig) Validate() error {
	var err error
	switch {
	case c.Model == "":
		err = eris.New("model is required")
	case c.Temperature < 0 || c.Temperature > 1:
		err = eris.Errorf("temperature %.2f outside [0, 1]", c.Temperature)
	case c.MaxResults <= 0:
		err = eris.Errorf("max_results must be positive, got %d", c.MaxResults)
	case c.MaxTools <= 0:
		err = eris.Errorf("max_tools must be positive, got %d", c.MaxTools)
	case c.Concurrency <= 0:
		err = eris.Errorf("concurrency must be positive, got %d", c.Concurrency)
	case c.StageTimeout <= 0:
		err = eris.Errorf("stage_timeout must be positive, got %s", c.StageTimeout)
	case c.ResolveResults <= 0:
		err = eris.Errorf("resolve_results must be positive, got %d", c.ResolveResults)
	}
	if err != nil {
		return &FatalError{Reason: "invalid configuration", Err: err}
	}
	return nil
}
