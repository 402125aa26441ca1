package similarity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MaxDistance is the upper bound of Distance.
const MaxDistance = 2.0

var (
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrUndefinedSimilarity is returned for empty, all-zero or non-finite vectors.
	ErrUndefinedSimilarity = errors.New("similarity undefined")
)

// Candidate is a vector to rank against a source vector
type Candidate struct {
	ID     int64
	Vector []float64
}

// Result is a ranked candidate; lower distance is more similar
type Result struct {
	CandidateID int64
	Distance    float64
}

// Distance computes the cosine distance between a and b:
//
//	distance = |1 - mean(a·b) / sqrt(mean(a²)·mean(b²))|, clamped to [0, 2]
//
// Stored label vectors were ranked with this exact formula, so it must not change.
func Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	n := len(a)
	if n == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrUndefinedSimilarity)
	}

	var uv, uu, vv float64
	for i := 0; i < n; i++ {
		uv += a[i] * b[i]
		uu += a[i] * a[i]
		vv += b[i] * b[i]
	}
	uv /= float64(n)
	uu /= float64(n)
	vv /= float64(n)

	denom := math.Sqrt(uu * vv)
	if denom == 0 {
		return 0, fmt.Errorf("%w: zero vector", ErrUndefinedSimilarity)
	}

	d := 1.0 - uv/denom
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: non-finite components", ErrUndefinedSimilarity)
	}

	return clamp(math.Abs(d), 0, MaxDistance), nil
}

// Rank orders candidates by ascending distance to source and returns the
// first topN. Ties keep candidate order. topN <= 0 returns every candidate.
// A candidate that cannot be compared fails the whole ranking.
func Rank(source []float64, candidates []Candidate, topN int) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		d, err := Distance(source, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", c.ID, err)
		}
		results = append(results, Result{CandidateID: c.ID, Distance: d})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
