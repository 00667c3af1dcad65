package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
)

const extractSystem = `You are a technical researcher. Extract specific developer tools, libraries, platforms, or services from articles and search results.

Rules:
- Only include actual products or services that developers use, not general concepts or features.
- Use the product's canonical name.
- Reply with a JSON array of strings and nothing else, for example ["Supabase", "Firebase"].
- Reply with [] when no tools are mentioned.`

const analysisSystem = `You are analyzing developer tools and programming technologies. Focus on information relevant to programmers and engineering teams.

Reply with a single JSON object and nothing else, using these keys:
- "pricing_model": one of "free", "freemium", "paid", "unknown"
- "is_open_source": true, false, or null when unclear
- "tech_stack": array of languages, frameworks, or technologies the tool is built on or supports
- "api_available": true, false, or null when unclear
- "language_support": array of programming languages explicitly supported
- "integrations": array of tools or platforms it integrates with
- "description": one sentence on what the tool does for developers`

const synthesisSystem = `You are a senior software engineer giving quick, concise tech recommendations. Keep responses brief and actionable: 3-4 sentences maximum. No long explanations.`

func extractPrompt(query string, hits []model.SearchHit, articles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSearch results:\n", query)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, h.Title, h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", h.Snippet)
		}
	}
	if len(articles) > 0 {
		b.WriteString("\nArticle excerpts:\n")
		for _, a := range articles {
			b.WriteString(a)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("\nList the distinct developer tools mentioned, most relevant first.")
	return b.String()
}

func analysisPrompt(name, website, content string) string {
	return fmt.Sprintf("Tool: %s\nWebsite: %s\n\nWebsite content:\n%s\n\nAnalyze this tool from a developer's perspective.", name, website, content)
}

func synthesisPrompt(query, toolsJSON string) string {
	return fmt.Sprintf(`Developer query: %s

Tools analyzed (JSON, most relevant first):
%s

In 3-4 sentences, name the best choice and why, mention the key cost/pricing tradeoff, and note the main technical advantage. Rank the alternatives briefly.`, query, toolsJSON)
}

var toolNamesSchema = llm.MustSchema("tool_names", `{
	"type": "array",
	"items": {"type": "string"}
}`)

var analysisSchema = llm.MustSchema("tool_analysis", `{
	"type": "object",
	"required": ["description"],
	"properties": {
		"pricing_model": {"type": ["string", "null"]},
		"is_open_source": {"type": ["boolean", "null"]},
		"tech_stack": {"type": ["array", "null"], "items": {"type": "string"}},
		"api_available": {"type": ["boolean", "null"]},
		"language_support": {"type": ["array", "null"], "items": {"type": "string"}},
		"integrations": {"type": ["array", "null"], "items": {"type": "string"}},
		"description": {"type": "string"}
	}
}`)

// analysisReply is the decoded shape of an analysis reply.
type analysisReply struct {
	PricingModel    string   `json:"pricing_model"`
	IsOpenSource    *bool    `json:"is_open_source"`
	TechStack       []string `json:"tech_stack"`
	APIAvailable    *bool    `json:"api_available"`
	LanguageSupport []string `json:"language_support"`
	Integrations    []string `json:"integrations"`
	Description     string   `json:"description"`
}

func (r analysisReply) toAnalysis(name, website string) model.ToolAnalysis {
	return model.ToolAnalysis{
		Name:            name,
		Website:         website,
		PricingModel:    model.ParsePricingModel(r.PricingModel),
		OpenSource:      r.IsOpenSource,
		TechStack:       model.StringSet(r.TechStack),
		APIAvailable:    r.APIAvailable,
		Integrations:    model.StringSet(r.Integrations),
		LanguageSupport: model.StringSet(r.LanguageSupport),
		Description:     strings.TrimSpace(r.Description),
	}
}
