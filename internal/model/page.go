package model

// SearchHit is a single web search result.
type SearchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Page is fetched page content rendered to markdown.
type Page struct {
	URL        string         `json:"url"`
	Title      string         `json:"title"`
	Markdown   string         `json:"markdown"`
	StatusCode int            `json:"status_code"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Truncate returns at most n bytes of the page markdown, cut on a rune boundary.
func (p Page) Truncate(n int) string {
	if n <= 0 || len(p.Markdown) <= n {
		return p.Markdown
	}
	cut := n
	for cut > 0 && !runeStart(p.Markdown[cut]) {
		cut--
	}
	return p.Markdown[:cut]
}

func runeStart(b byte) bool {
	return b&0xC0 != 0x80
}
