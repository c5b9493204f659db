package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/catalog-cli/internal/config"
)

// verdict is what the status text alone says about a search.
type verdict int

const (
	verdictUnknown verdict = iota
	verdictNotFound
	verdictFound
	verdictSearching
)

func (v verdict) String() string {
	switch v {
	case verdictNotFound:
		return "not-found"
	case verdictFound:
		return "found"
	case verdictSearching:
		return "searching"
	}
	return "unknown"
}

// statusText reduces the status area's HTML to its visible text with
// whitespace collapsed.
func statusText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// classifyText matches the markers case-insensitively. "no matching" is
// tested before "found matching" so a message containing both reads as
// not found.
func classifyText(text string, m config.MarkerConfig) verdict {
	lower := strings.ToLower(text)
	switch {
	case lower == "":
		return verdictUnknown
	case m.NoMatch != "" && strings.Contains(lower, strings.ToLower(m.NoMatch)):
		return verdictNotFound
	case m.FoundMatch != "" && strings.Contains(lower, strings.ToLower(m.FoundMatch)):
		return verdictFound
	case m.Searching != "" && strings.Contains(lower, strings.ToLower(m.Searching)):
		return verdictSearching
	}
	return verdictUnknown
}
