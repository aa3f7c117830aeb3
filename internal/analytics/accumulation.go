package analytics

import (
	"math/rand"
)

// AccumulationPoint is one sample of a species-accumulation curve:
// after n observations, |seen| distinct species have appeared.
type AccumulationPoint struct {
	N       int
	Species int
}

// CollectorCurve implements the "collector" accumulation method:
// observation-order unique-species count (spec.md §4.L).
func CollectorCurve(observations []string) []AccumulationPoint {
	seen := make(map[string]struct{})
	points := make([]AccumulationPoint, len(observations))
	for i, sp := range observations {
		seen[sp] = struct{}{}
		points[i] = AccumulationPoint{N: i + 1, Species: len(seen)}
	}
	return points
}

// RandomAccumulationCurve implements the "random" accumulation method: the
// average unique-species count over up to 100 random permutations of the
// observation multiset (spec.md §4.L).
func RandomAccumulationCurve(observations []string, rng *rand.Rand) []AccumulationPoint {
	if len(observations) == 0 {
		return nil
	}
	const maxPermutations = 100
	permutations := maxPermutations
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	sums := make([]float64, len(observations))
	shuffled := make([]string, len(observations))
	for p := 0; p < permutations; p++ {
		copy(shuffled, observations)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		seen := make(map[string]struct{})
		for i, sp := range shuffled {
			seen[sp] = struct{}{}
			sums[i] += float64(len(seen))
		}
	}

	points := make([]AccumulationPoint, len(observations))
	for i := range points {
		points[i] = AccumulationPoint{N: i + 1, Species: int(sums[i]/float64(permutations) + 0.5)}
	}
	return points
}

// RarefactionPoint is one sample size's expected species richness.
type RarefactionPoint struct {
	SampleSize      int
	ExpectedSpecies float64
}

// RarefactionCurve implements Hurlbert rarefaction over per-species
// counts: for each sample size m ≤ min(N, 1000), the expected number of
// species present in a random sample of size m drawn without replacement
// (spec.md §4.L).
//
// Step size follows spec.md §9's open question: the source steps by
// max(1, maxSampleSize/100); this implementation preserves that rule
// rather than guessing a different resolution.
func RarefactionCurve(counts map[string]int64) []RarefactionPoint {
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return nil
	}

	maxM := total
	if maxM > 1000 {
		maxM = 1000
	}
	step := maxM / 100
	if step < 1 {
		step = 1
	}

	var points []RarefactionPoint
	for m := int64(1); m <= maxM; m += step {
		points = append(points, RarefactionPoint{SampleSize: int(m), ExpectedSpecies: expectedSpecies(counts, total, m)})
	}
	return points
}

// expectedSpecies computes E[S(m)] = Σ_species (1 − Π_{i=0..m−1} (N−c_s−i)/(N−i)), clipped at 0.
func expectedSpecies(counts map[string]int64, n, m int64) float64 {
	var sum float64
	for _, c := range counts {
		prob := 1.0
		for i := int64(0); i < m; i++ {
			numerator := float64(n - c - i)
			denominator := float64(n - i)
			if denominator <= 0 {
				prob = 0
				break
			}
			if numerator <= 0 {
				prob = 0
				break
			}
			prob *= numerator / denominator
		}
		contribution := 1 - prob
		if contribution < 0 {
			contribution = 0
		}
		sum += contribution
	}
	return sum
}
