// Package cpuspec picks a classifier thread count that favors a host's
// performance cores over its efficiency cores, where the host exposes
// that distinction.
//
// Grounded directly on the teacher project's internal/cpuspec/cpuspec.go,
// trimmed to the detection families the field deployment target actually
// needs (Apple Silicon and modern hybrid Intel desktop parts); the full
// teacher table also covers several discontinued mobile SKUs this
// project has no reason to special-case.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Spec describes what's known about the host CPU's core layout.
type Spec struct {
	BrandName        string
	PerformanceCores int
}

// Detect inspects the running host's CPU.
func Detect() Spec {
	brand := cpuid.CPU.BrandName
	return Spec{
		BrandName:        brand,
		PerformanceCores: performanceCores(brand),
	}
}

// OptimalThreads returns the thread count a TFLite interpreter should use:
// the host's performance-core count when known, else every logical core.
func (s Spec) OptimalThreads() int {
	available := runtime.NumCPU()
	if s.PerformanceCores > 0 && s.PerformanceCores <= available {
		return s.PerformanceCores
	}
	return available
}

var appleSiliconPerfCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 8, "m2 ultra": 16,
	"m3": 4, "m3 pro": 6, "m3 max": 12,
	"m4": 4, "m4 pro": 10, "m4 max": 12,
}

var intelHybridCoreRegex = regexp.MustCompile(`intel.*core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3})`)

func performanceCores(brandName string) int {
	lower := strings.ToLower(brandName)

	best, bestLen := 0, 0
	for model, cores := range appleSiliconPerfCores {
		if strings.Contains(lower, "apple "+model) && len(model) > bestLen {
			best, bestLen = cores, len(model)
		}
	}
	if bestLen > 0 {
		return best
	}

	if intelHybridCoreRegex.MatchString(lower) {
		// Core Ultra parts retrieved here are all P+E hybrids in the
		// 6-8 P-core range; without a full per-SKU table this is a
		// reasonable single estimate rather than the exact figure.
		return 8
	}

	return 0
}
