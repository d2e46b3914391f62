package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/recall/internal/analysis"
)

// MaxHighlightsPerTerm caps spans per matched term.
const MaxHighlightsPerTerm = 10

// snippetRadius is the number of bytes kept on each side of the first
// highlight.
const snippetRadius = 80

// highlights re-analyzes text and returns the spans of tokens whose stem
// is one of the matched lexical terms, sorted by position.
func highlights(an *analysis.Analyzer, text string, terms []string) []Span {
	if len(terms) == 0 || text == "" {
		return nil
	}
	want := make(map[string]int, len(terms))
	for _, t := range terms {
		want[t] = 0
	}

	var spans []Span
	for tok := range an.Tokens(text) {
		n, ok := want[tok.Term]
		if !ok || n >= MaxHighlightsPerTerm {
			continue
		}
		want[tok.Term] = n + 1
		spans = append(spans, Span{Start: tok.Start, End: tok.End})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans
}

// snippet cuts a window of text around the first span, or the start of the
// text when there is none. Whitespace is collapsed.
func snippet(text string, spans []Span) string {
	start, end := 0, min(len(text), 2*snippetRadius)
	if len(spans) > 0 {
		start = max(0, spans[0].Start-snippetRadius)
		end = min(len(text), spans[0].End+snippetRadius)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
