package face

import "math"

// MatchResult is the outcome of comparing one encoding to the model.
type MatchResult struct {
	// Name is the matched identity, empty when no encoding was close enough.
	Name string
	// Distance is the smallest Euclidean distance found.
	Distance float64
	// Matched reports whether Distance beat the threshold.
	Matched bool
}

// Match compares an encoding against the model.
//
// The nearest stored encoding wins outright; the threshold only
// decides whether that nearest neighbour is close enough to trust.
// With an empty model the result is an unmatched zero distance of 1,
// indistinguishable from a stranger, which is the safe default.
func Match(model Model, encoding []float64, threshold float64) MatchResult {
	best := MatchResult{Distance: 1}

	for i, stored := range model.Encodings {
		d := euclidean(stored, encoding)
		if d < best.Distance {
			best.Distance = d
			best.Name = model.Names[i]
		}
	}

	if best.Name != "" && best.Distance <= threshold {
		best.Matched = true
	} else {
		best.Name = ""
		best.Matched = false
	}
	return best
}

// euclidean returns the L2 distance between two encodings.
// Mismatched lengths compare as maximally distant.
func euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
