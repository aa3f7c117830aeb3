// Package analytics is component L: ecological indices, accumulation
// curves, community similarity, temporal turnover, and weather
// correlation computed purely from the query engine's aggregates
// (spec.md §4.L). None of it issues SQL; every function is pure over its
// inputs.
//
// No third-party statistics library appears anywhere in the example
// pack to ground a choice on — these formulas are small and closed-form,
// so they're implemented directly over the standard library's math
// package rather than adding a dependency with no grounding.
package analytics

import "math"

// Diversity holds the four community-level indices spec.md §4.L defines.
type Diversity struct {
	Shannon  float64
	Simpson  float64
	Richness int
	Evenness float64
}

// ComputeDiversity derives Shannon, Simpson, richness, and evenness from
// per-species counts over one period.
func ComputeDiversity(counts map[string]int64) Diversity {
	var total int64
	for _, c := range counts {
		total += c
	}
	richness := len(counts)

	if total == 0 {
		return Diversity{Richness: richness, Evenness: 0.0}
	}

	var shannon, simpson float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		shannon -= p * math.Log(p)
		simpson += p * p
	}
	simpson = 1 - simpson

	evenness := 1.0
	if richness > 1 {
		evenness = shannon / math.Log(float64(richness))
	}

	return Diversity{
		Shannon:  shannon,
		Simpson:  simpson,
		Richness: richness,
		Evenness: evenness,
	}
}
