// Package analysis turns text into normalized index terms.
//
// The chain is bleve's unicode word segmenter, a lowercase filter, a length
// filter and the Porter stemmer. The same chain is used at index and query
// time, so a query term matches exactly the stems it would produce if it
// were indexed.
package analysis

import (
	"iter"

	bleveanalysis "github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Version identifies the analysis chain. Any change to the chain must bump
// it so persisted indexes are rebuilt.
const Version = "unicode+lowercase+length+porter/1"

// MaxTermRunes drops pathological tokens such as base64 blobs.
const MaxTermRunes = 128

// Token is one analyzed term. Start and End are byte offsets into the
// original text; Position counts tokens from 1.
type Token struct {
	Term     string
	Start    int
	End      int
	Position int
}

// Analyzer runs the analysis chain. It holds no per-call state and is safe
// for concurrent use.
type Analyzer struct {
	chain *bleveanalysis.DefaultAnalyzer
}

// New builds an analyzer.
func New() *Analyzer {
	return &Analyzer{
		chain: &bleveanalysis.DefaultAnalyzer{
			Tokenizer: unicode.NewUnicodeTokenizer(),
			TokenFilters: []bleveanalysis.TokenFilter{
				lowercase.NewLowerCaseFilter(),
				length.NewLengthFilter(1, MaxTermRunes),
				porter.NewPorterStemmer(),
			},
		},
	}
}

var std = New()

// Default returns the shared analyzer.
func Default() *Analyzer { return std }

// Analyze returns the tokens of text in order.
func (a *Analyzer) Analyze(text string) []Token {
	if text == "" {
		return nil
	}
	stream := a.chain.Analyze([]byte(text))
	out := make([]Token, 0, len(stream))
	for _, t := range stream {
		out = append(out, Token{
			Term:     string(t.Term),
			Start:    t.Start,
			End:      t.End,
			Position: t.Position,
		})
	}
	return out
}

// Tokens returns a restartable sequence over the tokens of text.
// Every range over it analyzes text again from the start.
func (a *Analyzer) Tokens(text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for _, t := range a.Analyze(text) {
			if !yield(t) {
				return
			}
		}
	}
}

// Terms returns just the terms of text, in order, duplicates kept.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Analyze(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// Stem normalizes a single word. It returns "" when word holds no term and
// the first term when it holds several.
func (a *Analyzer) Stem(word string) string {
	tokens := a.Analyze(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0].Term
}

// Analyze runs the default analyzer.
func Analyze(text string) []Token { return std.Analyze(text) }

// Tokens runs the default analyzer lazily.
func Tokens(text string) iter.Seq[Token] { return std.Tokens(text) }

// Terms runs the default analyzer and returns the terms.
func Terms(text string) []string { return std.Terms(text) }

// Stem stems one word with the default analyzer.
func Stem(word string) string { return std.Stem(word) }
