package embed

import (
	"fmt"
	"math"
)

// Cosine computes the cosine similarity of two equal-length vectors,
// clamped to [0,1]. Either vector being all zeros yields 0. A length
// mismatch is a structural error and never silently truncates.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding vectors must be of same length: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	if na == 0 || nb == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim)), nil
}
