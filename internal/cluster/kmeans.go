// Package cluster implements the deterministic k-means variants used to
// split training samples into aspect-ratio and appearance clusters.
package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Result assigns every input to one of len(Centers) clusters. Clusters that
// ended up empty are removed, so every center has at least one member.
type Result struct {
	Centers    [][]float64
	Assignment []int
}

// Members returns the input indices of cluster c in ascending order.
func (r Result) Members(c int) []int {
	var idx []int
	for i, a := range r.Assignment {
		if a == c {
			idx = append(idx, i)
		}
	}
	return idx
}

// Scalar clusters values into at most k groups. Centers start at the
// quantiles (i+0.5)/k of the sorted values.
func Scalar(values []float64, k, maxIter int) Result {
	if len(values) == 0 || k < 1 {
		return Result{}
	}
	k = min(k, len(values))
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	centers := make([][]float64, k)
	for i := range centers {
		q := int((float64(i) + 0.5) / float64(k) * float64(len(sorted)))
		centers[i] = []float64{sorted[min(q, len(sorted)-1)]}
	}
	points := make([][]float64, len(values))
	for i, v := range values {
		points[i] = []float64{v}
	}
	return lloyd(points, centers, maxIter)
}

// Vectors clusters points into at most k groups. The first center is
// points[0]; each further center is the point farthest from the centers
// chosen so far, ties going to the lowest index.
func Vectors(points [][]float64, k, maxIter int) Result {
	if len(points) == 0 || k < 1 {
		return Result{}
	}
	k = min(k, len(points))
	centers := [][]float64{append([]float64(nil), points[0]...)}
	nearest := make([]float64, len(points))
	for i, p := range points {
		nearest[i] = floats.Distance(p, centers[0], 2)
	}
	for len(centers) < k {
		far := floats.MaxIdx(nearest)
		if nearest[far] == 0 {
			break // remaining points coincide with existing centers
		}
		c := append([]float64(nil), points[far]...)
		centers = append(centers, c)
		for i, p := range points {
			nearest[i] = math.Min(nearest[i], floats.Distance(p, c, 2))
		}
	}
	return lloyd(points, centers, maxIter)
}

// lloyd alternates assignment and mean updates for at most maxIter rounds.
// The returned assignment is always the nearest-center assignment for the
// returned centers.
func lloyd(points, centers [][]float64, maxIter int) Result {
	if maxIter < 1 {
		maxIter = 1
	}
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	dim := len(points[0])
	reassign := func() bool {
		changed := false
		for i, p := range points {
			c := closest(p, centers)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		return changed
	}
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		if !reassign() {
			converged = true
			break
		}
		counts := make([]int, len(centers))
		sums := make([][]float64, len(centers))
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[assign[i]], p)
			counts[assign[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
			}
		}
	}
	if !converged {
		// the last update moved the centers; members follow them
		reassign()
	}
	return compact(centers, assign)
}

func closest(p []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := floats.Distance(p, center, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// compact drops empty clusters and renumbers the rest in order.
func compact(centers [][]float64, assign []int) Result {
	remap := make([]int, len(centers))
	for i := range remap {
		remap[i] = -1
	}
	for _, a := range assign {
		remap[a] = 0
	}
	var kept [][]float64
	for c := range centers {
		if remap[c] == 0 {
			remap[c] = len(kept)
			kept = append(kept, centers[c])
		}
	}
	out := make([]int, len(assign))
	for i, a := range assign {
		out[i] = remap[a]
	}
	return Result{Centers: kept, Assignment: out}
}
