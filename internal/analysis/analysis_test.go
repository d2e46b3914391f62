package analysis

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_LowercasesAndStems(t *testing.T) {
	// Given: mixed-case text with inflected words
	text := "Running SEARCHES quickly"

	// When: analyzing
	tokens := Analyze(text)

	// Then: terms are lowercased Porter stems with byte offsets into the input
	require.Len(t, tokens, 3)
	assert.Equal(t, "run", tokens[0].Term)
	assert.Equal(t, "search", tokens[1].Term)
	assert.Equal(t, "Running", text[tokens[0].Start:tokens[0].End])
	assert.Equal(t, "SEARCHES", text[tokens[1].Start:tokens[1].End])
	assert.Equal(t, 1, tokens[0].Position)
	assert.Equal(t, 3, tokens[2].Position)
}

func TestAnalyze_OffsetsAreBytesForMultibyteText(t *testing.T) {
	text := "café über naïve"

	tokens := Analyze(text)

	require.Len(t, tokens, 3)
	for _, tok := range tokens {
		span := text[tok.Start:tok.End]
		assert.NotEmpty(t, span)
		assert.Equal(t, strings.ToLower(span), span)
	}
	assert.Equal(t, "über", text[tokens[1].Start:tokens[1].End])
}

func TestAnalyze_DropsPunctuationAndEmpty(t *testing.T) {
	assert.Empty(t, Analyze(""))
	assert.Empty(t, Analyze("  ,.;!? "))
	assert.Equal(t, []string{"hello", "world"}, Terms("hello, world!"))
}

func TestAnalyze_DropsOverlongTokens(t *testing.T) {
	long := strings.Repeat("a", MaxTermRunes+1)

	assert.Equal(t, []string{"keep"}, Terms(long+" keep"))
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	// Given: the same text analyzed concurrently
	text := "The indexer connects documents, connections and connected things"
	want := Terms(text)

	var wg sync.WaitGroup
	results := make([][]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Terms(text)
		}(i)
	}
	wg.Wait()

	// Then: every run yields the identical stem sequence
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestTokens_IsRestartable(t *testing.T) {
	seq := Tokens("alpha beta gamma")

	var first, second []string
	for tok := range seq {
		first = append(first, tok.Term)
	}
	for tok := range seq {
		second = append(second, tok.Term)
		break
	}

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, first)
	assert.Equal(t, []string{"alpha"}, second)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "connect", Stem("Connections"))
	assert.Equal(t, "", Stem("..."))
	assert.Equal(t, Stem("searching"), Stem("searched"))
}
