package clustering

import "sort"

// SampleWindow is a time range in the source audio used for a voice sample.
type SampleWindow struct {
	StartTime float64
	EndTime   float64
}

// SamplePlan describes how to cut a reference voice sample for one speaker.
type SamplePlan struct {
	Speaker string
	Windows []SampleWindow
	// PadToSeconds is nonzero when the collected audio is shorter than the
	// floor and must be padded with silence to reach it.
	PadToSeconds float64
}

// TotalSeconds returns the combined window duration.
func (p SamplePlan) TotalSeconds() float64 {
	var total float64
	for _, w := range p.Windows {
		total += w.EndTime - w.StartTime
	}
	return total
}

// PlanSamples selects audio windows per speaker for voice cloning. Each
// speaker's longest segments are taken in order until targetSeconds is
// collected; speakers with less material than floorSeconds get a pad
// instruction so the synthesis backend always receives a usable sample.
func PlanSamples(segments []Segment, result Result, targetSeconds, floorSeconds float64) []SamplePlan {
	bySpeaker := make(map[string][]Segment)
	for i, seg := range segments {
		if i >= len(result.Labels) || result.Labels[i] == "" {
			continue
		}
		label := result.Labels[i]
		bySpeaker[label] = append(bySpeaker[label], seg)
	}

	plans := make([]SamplePlan, 0, len(result.Speakers))
	for _, speaker := range result.Speakers {
		plan := SamplePlan{Speaker: speaker}
		var collected float64
		for _, seg := range longestFirst(bySpeaker[speaker]) {
			if collected >= targetSeconds {
				break
			}
			window := SampleWindow{StartTime: seg.StartTime, EndTime: seg.EndTime}
			if remaining := targetSeconds - collected; seg.Duration() > remaining {
				window.EndTime = window.StartTime + remaining
			}
			plan.Windows = append(plan.Windows, window)
			collected += window.EndTime - window.StartTime
		}
		if collected < floorSeconds {
			plan.PadToSeconds = floorSeconds
		}
		plans = append(plans, plan)
	}
	return plans
}

func longestFirst(segments []Segment) []Segment {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration() > sorted[j].Duration()
	})
	return sorted
}
