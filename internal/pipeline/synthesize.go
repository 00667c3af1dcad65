package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
)

const synthesisMaxTokens = 1024

// SynthesisStage turns the analyses into one ranked recommendation.
type SynthesisStage struct {
	svc *services
	cfg RunConfig
}

// Run returns the recommendation for tools, which must be in extraction
// order. With no tools it returns NoToolsRecommendation without calling
// the model. Failures are returned as SynthesisError with an empty text.
func (s *SynthesisStage) Run(ctx context.Context, query string, tools []model.ToolAnalysis) (string, model.TokenUsage, error) {
	var usage model.TokenUsage
	if len(tools) == 0 {
		return model.NoToolsRecommendation, usage, nil
	}

	data, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return "", usage, &SynthesisError{Err: eris.Wrap(err, "marshal analyses")}
	}

	resp, err := s.svc.generate(ctx, llm.Request{
		System:      synthesisSystem,
		Prompt:      synthesisPrompt(query, string(data)),
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   synthesisMaxTokens,
	})
	if err != nil {
		return "", usage, &SynthesisError{Err: &LLMError{Stage: model.StageSynthesis, Err: err}}
	}
	usage.Add(resp.Usage)
	return resp.Text, usage, nil
}
