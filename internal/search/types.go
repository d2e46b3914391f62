// Package search answers hybrid queries over the lexical index and the
// vector store.
//
// Both sub-searches run concurrently. Their candidates are merged with
//
//	combined = max(w_lex*lex_norm, w_sem*sem) + bonus
//
// where lex_norm is the BM25 score divided by the best BM25 score of the
// query, sem is the cosine similarity clamped at zero and bonus applies
// only to lexical matches. When the embedder fails or times out the query
// still answers from the lexical side and is flagged Degraded.
package search

import (
	"time"

	"github.com/Aman-CERP/recall/internal/document"
)

// Query is a search request.
type Query struct {
	Text    string  `json:"text"`
	Filters Filters `json:"filters"`
	// Limit <= 0 uses the engine default.
	Limit int `json:"limit"`
}

// Filters narrow the merged candidates. Zero values do not filter.
type Filters struct {
	// From and To bound created_at, inclusive.
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`
	// Tags must all be present.
	Tags          []string      `json:"tags,omitempty"`
	Kind          document.Kind `json:"kind,omitempty"`
	HasAttachment *bool         `json:"has_attachment,omitempty"`
	Session       string        `json:"session,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.From.IsZero() && f.To.IsZero() && len(f.Tags) == 0 &&
		f.Kind == "" && f.HasAttachment == nil && f.Session == ""
}

// Span is a byte range [Start, End) into the document text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Result is one ranked document. Results are never persisted.
type Result struct {
	DocID     string        `json:"doc_id"`
	Kind      document.Kind `json:"kind"`
	SessionID string        `json:"session_id"`
	Path      string        `json:"path,omitempty"`
	CreatedAt time.Time     `json:"created_at"`

	// LexicalScore is the raw BM25 score, SemanticScore the raw cosine
	// similarity; zero when the document was not found by that side.
	LexicalScore  float64 `json:"lexical_score"`
	SemanticScore float64 `json:"semantic_score"`
	CombinedScore float64 `json:"combined_score"`

	MatchedTerms []string `json:"matched_terms,omitempty"`
	Highlights   []Span   `json:"highlights,omitempty"`
	Snippet      string   `json:"snippet"`
}

// Response is the result envelope.
type Response struct {
	Results  []Result      `json:"results"`
	Degraded bool          `json:"degraded"`
	Reason   string        `json:"reason,omitempty"`
	Took     time.Duration `json:"took"`
}
