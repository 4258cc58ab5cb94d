package search

import "math"

// cosine computes cosine similarity between two vectors. Defensive by
// contract: mismatched dimensions or a zero-norm vector yield 0, never an
// error or a panic.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aNormSq, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq))
}
