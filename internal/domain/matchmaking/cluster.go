package matchmaking

import (
	"math"
	"sort"
)

// k-means settings.
const (
	DefaultClusters   = 3
	clusterTolerance  = 1e-4
	clusterIterations = 100
)

// Cluster is a transient group of entries close in ability.
type Cluster struct {
	Centroid float64
	Members  []Entry
}

// Assign groups entries into at most k clusters by θ with one-dimensional
// k-means. Seeds are the θ quantiles, so the result depends only on the
// input. Clusters are returned in ascending centroid order; empty clusters
// are dropped.
func Assign(entries []Entry, k int) []Cluster {
	if len(entries) == 0 {
		return nil
	}
	if k < 1 {
		k = DefaultClusters
	}
	k = min(k, len(entries))

	sorted := append([]Entry(nil), entries...)
	sortByTheta(sorted)

	centroids := make([]float64, k)
	for i := range centroids {
		centroids[i] = sorted[(2*i+1)*len(sorted)/(2*k)].Theta
	}

	assign := make([]int, len(sorted))
	for iter := 0; iter < clusterIterations; iter++ {
		for i, e := range sorted {
			assign[i] = nearest(centroids, e.Theta)
		}
		sums := make([]float64, k)
		counts := make([]int, k)
		for i, e := range sorted {
			sums[assign[i]] += e.Theta
			counts[assign[i]]++
		}
		shift := 0.0
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			next := sums[c] / float64(counts[c])
			shift = math.Max(shift, math.Abs(next-centroids[c]))
			centroids[c] = next
		}
		if shift < clusterTolerance {
			break
		}
	}

	clusters := make([]Cluster, k)
	for c := range clusters {
		clusters[c].Centroid = centroids[c]
	}
	for i, e := range sorted {
		clusters[assign[i]].Members = append(clusters[assign[i]].Members, e)
	}
	out := clusters[:0]
	for _, c := range clusters {
		if len(c.Members) > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Centroid < out[j].Centroid })
	return out
}

// nearest returns the closest centroid, the lower index on ties.
func nearest(centroids []float64, theta float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := math.Abs(theta - centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Candidates returns the pool for cluster i: its own free members, widened
// to adjacent clusters (i-1, i+1, i-2, ...) until need players are available
// when allowCross is set. taken filters players already placed this tick.
func Candidates(clusters []Cluster, i, need int, allowCross bool, taken map[string]bool) []Entry {
	pool := free(clusters[i].Members, taken)
	if !allowCross {
		return pool
	}
	for d := 1; len(pool) < need && (i-d >= 0 || i+d < len(clusters)); d++ {
		if i-d >= 0 {
			pool = append(pool, free(clusters[i-d].Members, taken)...)
		}
		if i+d < len(clusters) {
			pool = append(pool, free(clusters[i+d].Members, taken)...)
		}
	}
	return pool
}

func free(entries []Entry, taken map[string]bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !taken[e.PlayerID] {
			out = append(out, e)
		}
	}
	return out
}

// sortByTheta orders by ability, then join time, then player id.
func sortByTheta(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Theta != b.Theta {
			return a.Theta < b.Theta
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.PlayerID < b.PlayerID
	})
}
