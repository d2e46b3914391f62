package lexical

import (
	"strings"

	"github.com/Aman-CERP/recall/internal/analysis"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// ClauseKind is the kind of a query clause.
type ClauseKind int

const (
	ClauseTerm ClauseKind = iota
	ClausePrefix
	ClausePhrase
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseTerm:
		return "term"
	case ClausePrefix:
		return "prefix"
	case ClausePhrase:
		return "phrase"
	default:
		return "unknown"
	}
}

// Clause is one OR-ed part of a query.
//
// A term clause has one stem in Terms. A prefix clause has the candidate
// prefixes in Terms (the lowercased word and its stem when they differ).
// A phrase clause has the stems of the quoted words, deduplicated; a
// document matches when it contains all of them, in any order.
type Clause struct {
	Kind  ClauseKind
	Terms []string
	Raw   string
}

// Query is a parsed lexical query: clauses joined by implicit OR.
type Query struct {
	Clauses []Clause
	Raw     string
}

// Parse turns user text into a Query using the default analyzer.
//
// Syntax: bare words are terms, a trailing '*' makes a prefix, double
// quotes group a phrase. An unterminated quote runs to the end of the text.
// Text that yields no clause returns an ErrCodeQueryEmpty error.
func Parse(text string) (*Query, error) {
	return ParseWith(analysis.Default(), text)
}

// ParseWith is Parse with an explicit analyzer.
func ParseWith(an *analysis.Analyzer, text string) (*Query, error) {
	q := &Query{Raw: text}

	rest := text
	for rest != "" {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			q.addWords(an, rest)
			break
		}
		q.addWords(an, rest[:open])

		rest = rest[open+1:]
		closing := strings.IndexByte(rest, '"')
		phrase := rest
		if closing >= 0 {
			phrase = rest[:closing]
			rest = rest[closing+1:]
		} else {
			rest = ""
		}
		q.addPhrase(an, phrase)
	}

	if len(q.Clauses) == 0 {
		return nil, rerrors.New(rerrors.ErrCodeQueryEmpty, "query has no searchable terms", nil).
			WithDetail("query", text)
	}
	return q, nil
}

func (q *Query) addWords(an *analysis.Analyzer, s string) {
	for _, word := range strings.Fields(s) {
		if base, ok := strings.CutSuffix(word, "*"); ok {
			if c, ok := prefixClause(an, word, base); ok {
				q.Clauses = append(q.Clauses, c)
			}
			continue
		}
		for _, term := range an.Terms(word) {
			q.Clauses = append(q.Clauses, Clause{Kind: ClauseTerm, Terms: []string{term}, Raw: word})
		}
	}
}

func prefixClause(an *analysis.Analyzer, raw, base string) (Clause, bool) {
	base = strings.TrimRight(base, "*")
	tokens := an.Analyze(base)
	if len(tokens) == 0 {
		return Clause{}, false
	}
	// Only the last token of "foo-ba*" is a prefix; use its surface form.
	last := tokens[len(tokens)-1]
	lower := strings.ToLower(base[last.Start:last.End])

	terms := []string{lower}
	if last.Term != lower {
		if strings.HasPrefix(lower, last.Term) {
			// The stem is the wider candidate.
			terms = []string{last.Term}
		} else {
			terms = append(terms, last.Term)
		}
	}
	return Clause{Kind: ClausePrefix, Terms: terms, Raw: raw}, true
}

func (q *Query) addPhrase(an *analysis.Analyzer, s string) {
	var terms []string
	seen := make(map[string]bool)
	for _, term := range an.Terms(s) {
		if !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}
	switch len(terms) {
	case 0:
		return
	case 1:
		q.Clauses = append(q.Clauses, Clause{Kind: ClauseTerm, Terms: terms, Raw: s})
	default:
		q.Clauses = append(q.Clauses, Clause{Kind: ClausePhrase, Terms: terms, Raw: s})
	}
}

// String renders the parsed form for logs, e.g. `term(run) | prefix(conn) | phrase(a b)`.
func (q *Query) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.Kind.String() + "(" + strings.Join(c.Terms, " ") + ")"
	}
	return strings.Join(parts, " | ")
}
