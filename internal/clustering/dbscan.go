package clustering

import "math"

// cosineDistance is 1 minus cosine similarity. Zero vectors are treated as
// maximally distant.
func cosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

const (
	labelUnvisited = -2
	labelNoise     = -1
)

// dbscan assigns a cluster id to every point. Clusters are numbered from
// zero in discovery order; noise points come back as labelNoise.
func dbscan(points [][]float64, eps float64, minSamples int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = labelUnvisited
	}

	neighbors := func(idx int) []int {
		var out []int
		for j := range points {
			if cosineDistance(points[idx], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range points {
		if labels[i] != labelUnvisited {
			continue
		}
		seed := neighbors(i)
		if len(seed) < minSamples {
			labels[i] = labelNoise
			continue
		}

		labels[i] = cluster
		queue := append([]int{}, seed...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == labelNoise {
				labels[j] = cluster
			}
			if labels[j] != labelUnvisited {
				continue
			}
			labels[j] = cluster
			expanded := neighbors(j)
			if len(expanded) >= minSamples {
				queue = append(queue, expanded...)
			}
		}
		cluster++
	}
	return labels
}
