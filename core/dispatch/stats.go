package dispatch

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the demandes currently being dispatched.
type Stats struct {
	Searching         int     `json:"searching"`
	WithoutCandidates int     `json:"without_candidates"`
	MeanCandidates    float64 `json:"mean_candidates"`
	MeanAttempts      float64 `json:"mean_attempts"`
	MeanNearestKm     float64 `json:"mean_nearest_km"`
	P90NearestKm      float64 `json:"p90_nearest_km"`
}

// Stats computes a snapshot over the cached candidate sets.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	var counts, attempts, nearest []float64
	for _, v := range e.views {
		counts = append(counts, float64(len(v.set.Candidates)))
		attempts = append(attempts, float64(v.attempts))
		if len(v.set.Candidates) > 0 {
			n := math.Inf(1)
			for _, c := range v.set.Candidates {
				n = math.Min(n, c.DistanceKm)
			}
			nearest = append(nearest, n)
		}
	}
	e.mu.RUnlock()

	s := Stats{Searching: len(counts), WithoutCandidates: len(counts) - len(nearest)}
	if len(counts) == 0 {
		return s
	}
	s.MeanCandidates = stat.Mean(counts, nil)
	s.MeanAttempts = stat.Mean(attempts, nil)
	if len(nearest) > 0 {
		sort.Float64s(nearest)
		s.MeanNearestKm = stat.Mean(nearest, nil)
		s.P90NearestKm = stat.Quantile(0.9, stat.Empirical, nearest, nil)
	}
	return s
}
