package lexical

import "math"

// Params are the Okapi BM25 parameters.
type Params struct {
	// K1 controls term frequency saturation.
	K1 float64
	// B controls document length normalization (0 disables it).
	B float64
}

// DefaultParams returns the standard k1=1.2, b=0.75.
func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75}
}

// idf is the Lucene variant, log(1 + (N - df + 0.5) / (df + 0.5)).
// It stays positive even for terms present in every document.
func idf(df, n int) float64 {
	if df <= 0 || n <= 0 {
		return 0
	}
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// termScore is the BM25 contribution of one term with frequency tf in a
// document of length dl.
func (p Params) termScore(tf, dl int, avgdl, idf float64) float64 {
	if tf <= 0 {
		return 0
	}
	norm := 1.0
	if avgdl > 0 {
		norm = 1 - p.B + p.B*float64(dl)/avgdl
	}
	f := float64(tf)
	return idf * f * (p.K1 + 1) / (f + p.K1*norm)
}
