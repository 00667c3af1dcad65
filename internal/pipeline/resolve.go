package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/pkg/perplexity"
)

const officialSiteSuffix = " official site"

// ErrUnresolved means no official site could be found for a tool.
var ErrUnresolved = eris.New("no official site found")

// Resolver finds a tool's official website.
type Resolver struct {
	svc   *services
	limit int
	log   *zap.Logger
}

// Resolve searches for name's official site and picks the hit whose host
// or title best matches the name. When search yields nothing usable it
// asks Perplexity, if configured.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	hits, err := r.svc.search(ctx, name+officialSiteSuffix, r.limit)
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		r.log.Debug("pipeline: site search failed", zap.String("tool", name), zap.Error(err))
	}
	if site, ok := pickOfficialSite(name, hits); ok {
		return site, nil
	}

	if r.svc.Perplexity == nil {
		if err != nil {
			return "", eris.Wrapf(err, "resolve %s", name)
		}
		return "", ErrUnresolved
	}
	return r.askPerplexity(ctx, name)
}

func (r *Resolver) askPerplexity(ctx context.Context, name string) (string, error) {
	temp := 0.0
	resp, err := r.svc.ask(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "Answer with the URL of the official website only, or NONE if there is no such site."},
			{Role: "user", Content: fmt.Sprintf("What is the official website of the developer tool %q?", name)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrapf(err, "resolve %s via perplexity", name)
	}
	if u := firstURL(resp.Text()); u != "" {
		return u, nil
	}
	candidates := make([]model.SearchHit, 0, len(resp.Citations))
	for _, c := range resp.Citations {
		candidates = append(candidates, model.SearchHit{URL: c})
	}
	if site, ok := pickOfficialSite(name, candidates); ok {
		return site, nil
	}
	return "", ErrUnresolved
}

// pickOfficialSite scores each hit against name. An exact host label match
// wins, then a host containing the name, then a fuzzy host match, then a
// fuzzy title match. Ties go to the earlier hit, so with no match at all
// the first valid hit is returned.
func pickOfficialSite(name string, hits []model.SearchHit) (string, bool) {
	key := compactName(name)
	best, bestScore := "", -1
	for _, h := range hits {
		host := siteHost(h.URL)
		if host == "" {
			continue
		}
		label, _, _ := strings.Cut(host, ".")
		score := 0
		switch {
		case key != "" && compactName(label) == key:
			score = 100
		case key != "" && strings.Contains(compactName(host), key):
			score = 60
		case key != "" && fuzzy.MatchNormalizedFold(key, label):
			score = 40 - min(fuzzy.LevenshteinDistance(key, label), 20)
		case fuzzy.MatchNormalizedFold(name, h.Title):
			score = 10
		}
		if score > bestScore {
			best, bestScore = strings.TrimSpace(h.URL), score
		}
	}
	return best, bestScore >= 0
}

// siteHost returns the lower-cased host of an http(s) URL without a
// leading "www.", or "" when raw is not such a URL.
func siteHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// compactName lower-cases name and drops everything but letters and digits.
func compactName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// firstURL returns the first http(s) URL among the whitespace-separated
// words of text.
func firstURL(text string) string {
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, "<>()[]\"'`.,;")
		if siteHost(w) != "" {
			return w
		}
	}
	return ""
}
