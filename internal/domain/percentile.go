package domain

import (
	"math"
	"sort"
)

// SignificantInterruptionSeconds is the minimum interruption duration that
// counts toward a call's interruption count. Shorter overlaps are normal
// conversational backchannel.
const SignificantInterruptionSeconds = 2.0

// Percentiles holds the p50/p90/p95 of a duration sample set.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// Value returns the named percentile.
func (p Percentiles) Value(name Percentile) float64 {
	switch name {
	case PercentileP90:
		return p.P90
	case PercentileP95:
		return p.P95
	default:
		return p.P50
	}
}

// CalculatePercentiles computes p50/p90/p95 over an unordered list of
// non-negative duration samples. The input slice is not modified.
//
// The algorithm sorts ascending and picks the element at floor(n*p) with
// no interpolation between adjacent ranks; downstream consumers depend on
// this exact tie-break (for n=10: p50 at index 5, p90 and p95 at index 9).
// An empty input yields all zeros.
func CalculatePercentiles(durations []float64) Percentiles {
	if len(durations) == 0 {
		return Percentiles{}
	}

	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	at := func(p float64) float64 {
		idx := int(math.Floor(n * p))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return Percentiles{
		P50: at(0.50),
		P90: at(0.90),
		P95: at(0.95),
	}
}

// ComputeCallStats derives the full stat block for a call from its latency
// and interruption intervals.
func ComputeCallStats(latencies []LatencyInterval, interruptions []InterruptionInterval) CallStats {
	latencyDurations := make([]float64, 0, len(latencies))
	for _, l := range latencies {
		latencyDurations = append(latencyDurations, l.Duration)
	}
	interruptionDurations := make([]float64, 0, len(interruptions))
	numSignificant := 0
	for _, i := range interruptions {
		interruptionDurations = append(interruptionDurations, i.Duration)
		if i.Duration > SignificantInterruptionSeconds {
			numSignificant++
		}
	}

	latency := CalculatePercentiles(latencyDurations)
	interruption := CalculatePercentiles(interruptionDurations)

	ttfw := 0
	if len(latencies) > 0 {
		ttfw = int(math.Round(latencies[0].Duration * 1000))
	}

	return CallStats{
		LatencyP50:        latency.P50,
		LatencyP90:        latency.P90,
		LatencyP95:        latency.P95,
		InterruptionP50:   interruption.P50,
		InterruptionP90:   interruption.P90,
		InterruptionP95:   interruption.P95,
		NumInterruptions:  numSignificant,
		TimeToFirstWordMs: ttfw,
	}
}
