package search

import (
	"sort"
	"time"

	"github.com/Aman-CERP/recall/internal/lexical"
	"github.com/Aman-CERP/recall/internal/vector"
)

// Weights are the named constants of the hybrid merge.
type Weights struct {
	Lexical  float64
	Semantic float64
	// Bonus is added to documents the lexical side found.
	Bonus float64
}

// DefaultWeights returns equal weights and a 0.1 lexical bonus.
func DefaultWeights() Weights {
	return Weights{
		Lexical:  1.0,
		Semantic: 1.0,
		Bonus:    0.1,
	}
}

// candidate holds merge state for one document.
type candidate struct {
	id        string
	lexScore  float64
	lexNorm   float64
	inLexical bool
	semScore  float64
	inVector  bool
	matched   []string
	createdAt time.Time
	combined  float64
}

// merge combines both result sets. Every document from either side is a
// candidate; lexical scores are normalized by the best score of the query.
func merge(hits []lexical.Hit, matches []vector.Match, w Weights) []*candidate {
	byID := make(map[string]*candidate, len(hits)+len(matches))
	get := func(id string) *candidate {
		c, ok := byID[id]
		if !ok {
			c = &candidate{id: id}
			byID[id] = c
		}
		return c
	}

	var maxRaw float64
	for _, h := range hits {
		maxRaw = max(maxRaw, h.Score)
	}
	for _, h := range hits {
		c := get(h.DocID)
		c.inLexical = true
		c.lexScore = h.Score
		if maxRaw > 0 {
			c.lexNorm = h.Score / maxRaw
		}
		c.matched = h.MatchedTerms
		c.createdAt = h.CreatedAt
	}
	for _, m := range matches {
		c := get(m.ID)
		c.inVector = true
		c.semScore = m.Similarity
	}

	out := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		c.combined = max(w.Lexical*c.lexNorm, w.Semantic*max(0, c.semScore))
		if c.inLexical {
			c.combined += w.Bonus
		}
		out = append(out, c)
	}
	return out
}

// sortCandidates orders by combined score, then newer first, then id.
func sortCandidates(cs []*candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.After(b.createdAt)
		}
		return a.id < b.id
	})
}
