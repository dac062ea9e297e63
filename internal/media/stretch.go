package media

import (
	"context"
	"fmt"
	"math"
)

const (
	// atempo accepts tempo factors in [0.5, 2.0]; outside that range the
	// sample-rate trick is used instead.
	atempoMin = 0.5
	atempoMax = 2.0

	stretchSampleRate = 44100
)

// StretchPlan describes how to fit a synthesized clip into its timeline
// window.
type StretchPlan struct {
	// Skip is set when the clip already fits within tolerance.
	Skip bool
	// Ratio is current duration over target duration. A ratio above 1
	// speeds the clip up, below 1 slows it down.
	Ratio  float64
	Filter string
}

// BuildStretchPlan computes the tempo adjustment that maps a clip of
// currentSeconds onto a window of targetSeconds. Differences within
// toleranceSeconds are left alone to avoid audible artifacts from
// near-unity stretches.
func BuildStretchPlan(currentSeconds, targetSeconds, toleranceSeconds float64) (StretchPlan, error) {
	if currentSeconds <= 0 || targetSeconds <= 0 {
		return StretchPlan{}, fmt.Errorf("stretch plan: durations must be positive (%.3f -> %.3f)",
			currentSeconds, targetSeconds)
	}
	if math.Abs(currentSeconds-targetSeconds) <= toleranceSeconds {
		return StretchPlan{Skip: true, Ratio: 1}, nil
	}

	ratio := currentSeconds / targetSeconds
	plan := StretchPlan{Ratio: ratio}
	if ratio >= atempoMin && ratio <= atempoMax {
		plan.Filter = fmt.Sprintf("atempo=%.6f", ratio)
	} else {
		// Extreme ratios shift pitch, but a full resample is the only way
		// to reach them in one pass.
		plan.Filter = fmt.Sprintf("asetrate=%d*%.6f,aresample=%d",
			stretchSampleRate, ratio, stretchSampleRate)
	}
	return plan, nil
}

// StretchAudio applies a stretch plan to a clip. Skipped plans copy the
// input unchanged.
func (s *Service) StretchAudio(ctx context.Context, source, dest string, plan StretchPlan) error {
	if source == "" || dest == "" {
		return fmt.Errorf("stretch audio: source and dest required")
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
	}
	if plan.Skip {
		args = append(args, "-c", "copy", dest)
	} else {
		args = append(args, "-af", plan.Filter, dest)
	}
	return s.run(ctx, s.ffmpegBinary, args...)
}
