// Package llm is the language-model seam used by the research stages: a
// provider-neutral Generator plus helpers for coaxing structured JSON out
// of free-form replies.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/pkg/anthropic"
)

// Request is a single-turn generation request.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is a completed generation.
type Response struct {
	Text  string
	Model string
	Usage model.TokenUsage
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

const defaultMaxTokens = 2048

// AnthropicGenerator implements Generator on the Anthropic Messages API.
type AnthropicGenerator struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicGenerator creates a generator that uses defaultModel when a
// request does not name one.
func NewAnthropicGenerator(client anthropic.Client, defaultModel string) *AnthropicGenerator {
	return &AnthropicGenerator{client: client, defaultModel: defaultModel}
}

// Generate sends req as a single user turn. Rate limits, overloads, and 5xx
// replies come back as resilience.TransientError; rejected keys as
// resilience.AuthError.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temp := req.Temperature

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelName,
		MaxTokens:   int64(maxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); code != 0 {
			return nil, resilience.ClassifyStatus(err, code)
		}
		return nil, err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, eris.Errorf("llm: empty reply from %s (stop_reason=%s)", modelName, resp.StopReason)
	}

	return &Response{
		Text:  text,
		Model: resp.Model,
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
			Calls:               1,
			Cost:                resp.Usage.EstimateCost(modelName),
		},
	}, nil
}
