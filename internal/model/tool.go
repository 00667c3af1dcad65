package model

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// PricingModel classifies how a developer tool is priced.
type PricingModel string

const (
	PricingFree     PricingModel = "free"
	PricingFreemium PricingModel = "freemium"
	PricingPaid     PricingModel = "paid"
	PricingUnknown  PricingModel = "unknown"
)

// ParsePricingModel normalizes free-form pricing text from a model reply
// ("Open Source", "Free tier + Pro plans", "Enterprise") into a PricingModel.
func ParsePricingModel(raw string) PricingModel {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch PricingModel(s) {
	case PricingFree, PricingFreemium, PricingPaid, PricingUnknown:
		return PricingModel(s)
	case "":
		return PricingUnknown
	}

	hasFree := strings.Contains(s, "free") || strings.Contains(s, "open source") || strings.Contains(s, "open-source")
	hasPaid := strings.Contains(s, "paid") ||
		strings.Contains(s, "pro ") || strings.HasSuffix(s, "pro") ||
		strings.Contains(s, "premium") ||
		strings.Contains(s, "enterprise") ||
		strings.Contains(s, "subscription") ||
		strings.Contains(s, "commercial") ||
		strings.Contains(s, "usage-based") ||
		strings.Contains(s, "$")

	switch {
	case strings.Contains(s, "freemium"), hasFree && hasPaid:
		return PricingFreemium
	case hasFree:
		return PricingFree
	case hasPaid:
		return PricingPaid
	default:
		return PricingUnknown
	}
}

// CandidateTool is a tool name extracted from search results that has not
// been researched yet. Order is the zero-based position of its first mention.
type CandidateTool struct {
	Name  string `json:"name"`
	Order int    `json:"first_seen_order"`
}

// DedupeCandidates turns raw extracted names into candidates. Names are
// compared with Unicode case folding; the first-seen casing and position win.
// Blank names are dropped.
func DedupeCandidates(names []string) []CandidateTool {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(names))
	out := make([]CandidateTool, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		key := fold.String(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, CandidateTool{Name: name, Order: len(out)})
	}
	return out
}

// ToolAnalysis is the structured attribute set for one researched tool.
// Nil booleans mean unknown; an empty Website means it could not be resolved.
type ToolAnalysis struct {
	Name            string       `json:"name"`
	Website         string       `json:"website"`
	PricingModel    PricingModel `json:"pricing_model"`
	OpenSource      *bool        `json:"open_source"`
	TechStack       []string     `json:"tech_stack"`
	APIAvailable    *bool        `json:"api_available"`
	Integrations    []string     `json:"integrations"`
	LanguageSupport []string     `json:"language_support"`
	Description     string       `json:"description"`
	Degraded        bool         `json:"degraded"`
}

// UnknownAnalysis returns a degraded analysis that carries only the name and,
// when known, the website.
func UnknownAnalysis(name, website string) ToolAnalysis {
	return ToolAnalysis{
		Name:            name,
		Website:         website,
		PricingModel:    PricingUnknown,
		TechStack:       []string{},
		Integrations:    []string{},
		LanguageSupport: []string{},
		Degraded:        true,
	}
}

// StringSet returns the trimmed, case-insensitively deduplicated values
// sorted for stable output. The result is never nil.
func StringSet(values []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := fold.String(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Bool returns a pointer to b, for populating tri-state fields.
func Bool(b bool) *bool {
	return &b
}
