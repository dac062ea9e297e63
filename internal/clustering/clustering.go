package clustering

import (
	"fmt"

	"voiceloom/internal/services"
)

// Segment is one transcript segment with an optional voice embedding.
type Segment struct {
	StartTime float64
	EndTime   float64
	Text      string
	Embedding []float64
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Options control clustering behavior.
type Options struct {
	// Eps is the cosine distance threshold for neighborhood membership.
	Eps float64
	// MinSamples is the minimum neighborhood size for a core point.
	MinSamples int
	// MinSegmentSeconds excludes segments too short to embed reliably.
	// Excluded segments inherit the label of the nearest preceding
	// clustered segment, or become a new speaker when nothing precedes.
	MinSegmentSeconds float64
}

// Result maps segments to speaker labels.
type Result struct {
	// Labels holds one speaker label per input segment, in input order.
	Labels []string
	// Speakers lists the distinct labels in first-appearance order.
	Speakers []string
}

// Cluster groups transcript segments by voice. Dense groups of embeddings
// become one speaker; embeddings that match no group are treated as their
// own single-utterance speakers rather than discarded, since dropping
// dialogue would corrupt the script.
func Cluster(segments []Segment, opts Options) (Result, error) {
	if opts.Eps <= 0 || opts.Eps >= 1 {
		return Result{}, services.Wrap(services.ErrValidation, "clustering", "cluster",
			"eps must be in (0, 1)", nil)
	}
	if opts.MinSamples < 1 {
		return Result{}, services.Wrap(services.ErrValidation, "clustering", "cluster",
			"min samples must be >= 1", nil)
	}
	if len(segments) == 0 {
		return Result{}, nil
	}

	eligible := make([]int, 0, len(segments))
	for i, seg := range segments {
		if seg.Duration() >= opts.MinSegmentSeconds && len(seg.Embedding) > 0 {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "clustering", "cluster",
			"no segment is long enough to embed", nil)
	}

	points := make([][]float64, len(eligible))
	for i, idx := range eligible {
		points[i] = segments[idx].Embedding
	}
	clusterIDs := dbscan(points, opts.Eps, opts.MinSamples)

	// Noise points become singleton speakers numbered after the last
	// dense cluster.
	maxCluster := -1
	for _, id := range clusterIDs {
		if id > maxCluster {
			maxCluster = id
		}
	}
	next := maxCluster + 1
	for i, id := range clusterIDs {
		if id == labelNoise {
			clusterIDs[i] = next
			next++
		}
	}

	labels := make([]string, len(segments))
	for i, idx := range eligible {
		labels[idx] = speakerLabel(clusterIDs[i])
	}

	// Short segments inherit the nearest preceding label. A short segment
	// with nothing before it becomes a new speaker; shorts that follow it
	// then inherit that label like any other predecessor.
	lastSeen := ""
	for i := range labels {
		switch {
		case labels[i] != "":
			lastSeen = labels[i]
		case lastSeen != "":
			labels[i] = lastSeen
		default:
			labels[i] = speakerLabel(next)
			next++
			lastSeen = labels[i]
		}
	}

	result := Result{Labels: labels}
	seen := make(map[string]struct{})
	for _, label := range labels {
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			result.Speakers = append(result.Speakers, label)
		}
	}
	return result, nil
}

func speakerLabel(clusterID int) string {
	return fmt.Sprintf("speaker_%d", clusterID+1)
}
