package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

func TestParse_Clauses(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Clause
	}{
		{
			name:  "single term is stemmed",
			input: "Running",
			want:  []Clause{{Kind: ClauseTerm, Terms: []string{"run"}, Raw: "Running"}},
		},
		{
			name:  "implicit OR across words",
			input: "alpha beta",
			want: []Clause{
				{Kind: ClauseTerm, Terms: []string{"alpha"}, Raw: "alpha"},
				{Kind: ClauseTerm, Terms: []string{"beta"}, Raw: "beta"},
			},
		},
		{
			name:  "prefix keeps surface form",
			input: "conn*",
			want:  []Clause{{Kind: ClausePrefix, Terms: []string{"conn"}, Raw: "conn*"}},
		},
		{
			name:  "prefix widens to stem",
			input: "searching*",
			want:  []Clause{{Kind: ClausePrefix, Terms: []string{"search"}, Raw: "searching*"}},
		},
		{
			name:  "quoted phrase",
			input: `"quick fox"`,
			want:  []Clause{{Kind: ClausePhrase, Terms: []string{"quick", "fox"}, Raw: "quick fox"}},
		},
		{
			name:  "one-word phrase is a term",
			input: `"fox"`,
			want:  []Clause{{Kind: ClauseTerm, Terms: []string{"fox"}, Raw: "fox"}},
		},
		{
			name:  "unterminated quote runs to end",
			input: `budget "quick fox`,
			want: []Clause{
				{Kind: ClauseTerm, Terms: []string{"budget"}, Raw: "budget"},
				{Kind: ClausePhrase, Terms: []string{"quick", "fox"}, Raw: "quick fox"},
			},
		},
		{
			name:  "phrase dedupes terms",
			input: `"fox and fox"`,
			want:  []Clause{{Kind: ClausePhrase, Terms: []string{"fox", "and"}, Raw: "fox and fox"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Clauses)
		})
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	for _, input := range []string{"", "   ", `""`, "*", "!!"} {
		_, err := Parse(input)
		assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeQueryEmpty), input)
	}
}

func TestQuery_String(t *testing.T) {
	q, err := Parse(`fox conn* "quick brown"`)
	require.NoError(t, err)
	assert.Equal(t, "term(fox) | prefix(conn) | phrase(quick brown)", q.String())
}
