package analytics

// Jaccard computes |A∩B| / |A∪B| over two species-count communities'
// species sets (spec.md §4.L). Symmetric; 1.0 when both are empty.
func Jaccard(a, b map[string]int64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection, union := setOverlap(a, b)
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// Sorensen computes 2|A∩B| / (|A|+|B|) (spec.md §4.L). Symmetric; 1.0
// when both are empty.
func Sorensen(a, b map[string]int64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection, _ := setOverlap(a, b)
	denom := len(a) + len(b)
	if denom == 0 {
		return 0.0
	}
	return 2 * float64(intersection) / float64(denom)
}

// BrayCurtis computes 2·Σ min(a_s,b_s) / (Σa + Σb) (spec.md §4.L).
// Symmetric; 1.0 when both communities are empty.
func BrayCurtis(a, b map[string]int64) float64 {
	var sumMin, sumA, sumB float64
	for sp, ca := range a {
		sumA += float64(ca)
		if cb, ok := b[sp]; ok {
			if ca < cb {
				sumMin += float64(ca)
			} else {
				sumMin += float64(cb)
			}
		}
	}
	for _, cb := range b {
		sumB += float64(cb)
	}
	denom := sumA + sumB
	if denom == 0 {
		return 1.0
	}
	return 2 * sumMin / denom
}

func setOverlap(a, b map[string]int64) (intersection, union int) {
	seen := make(map[string]struct{}, len(a)+len(b))
	for sp := range a {
		seen[sp] = struct{}{}
		if _, ok := b[sp]; ok {
			intersection++
		}
	}
	for sp := range b {
		seen[sp] = struct{}{}
	}
	return intersection, len(seen)
}

// Turnover computes beta diversity between two consecutive sliding
// windows' species sets: (|gained|+|lost|) / (2·|union|) (spec.md §4.L).
// Equals 0 iff the two sets are identical.
func Turnover(prev, curr map[string]int64) float64 {
	var gained, lost, union int
	seen := make(map[string]struct{}, len(prev)+len(curr))
	for sp := range prev {
		seen[sp] = struct{}{}
		if _, ok := curr[sp]; !ok {
			lost++
		}
	}
	for sp := range curr {
		seen[sp] = struct{}{}
		if _, ok := prev[sp]; !ok {
			gained++
		}
	}
	union = len(seen)
	if union == 0 {
		return 0.0
	}
	return float64(gained+lost) / float64(2*union)
}
