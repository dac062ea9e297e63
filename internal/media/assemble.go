package media

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// TimedClip is one synthesized chunk placed on the job timeline.
type TimedClip struct {
	Index     int
	Path      string
	StartTime float64
	EndTime   float64
}

// TargetSeconds is the window this clip must occupy after stretching.
func (c TimedClip) TargetSeconds() float64 {
	return c.EndTime - c.StartTime
}

// SortClips orders clips by chunk index, the canonical timeline order.
// Completion events arrive in arbitrary order, so callers sort before
// concatenation.
func SortClips(clips []TimedClip) []TimedClip {
	sorted := make([]TimedClip, len(clips))
	copy(sorted, clips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return sorted
}

// buildConcatArgs joins audio clips back to back with the concat filter.
func buildConcatArgs(inputs []string, dest string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, input := range inputs {
		args = append(args, "-i", input)
	}
	var filter strings.Builder
	for i := range inputs {
		fmt.Fprintf(&filter, "[%d:a]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[out]", len(inputs))
	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		dest,
	)
	return args
}

// ConcatClips concatenates pre-sorted audio clips into one track.
func (s *Service) ConcatClips(ctx context.Context, inputs []string, dest string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("concat: no inputs")
	}
	if dest == "" {
		return fmt.Errorf("concat: dest required")
	}
	if len(inputs) == 1 {
		return s.run(ctx, s.ffmpegBinary, "-y", "-hide_banner", "-loglevel", "error",
			"-i", inputs[0], "-c", "copy", dest)
	}
	return s.run(ctx, s.ffmpegBinary, buildConcatArgs(inputs, dest)...)
}

// MuxPlan describes how to combine the dubbed track with the original video.
type MuxPlan struct {
	// AudioStretch compresses a dubbed track that runs longer than the
	// video down to the video duration, keeping the video stream copied.
	AudioStretch StretchPlan
	// VideoScale is the setpts factor that retimes a video shorter than
	// the dubbed audio. A value of 1 keeps the stream untouched and
	// allows codec copy.
	VideoScale float64
}

// muxScaleTolerance is the relative duration mismatch below which both
// streams are copied untouched.
const muxScaleTolerance = 0.01

// BuildMuxPlan reconciles the dubbed audio with the video duration. When
// the audio runs longer it is time-stretched down to the video; when the
// video runs longer its timestamps are scaled out to the audio.
func BuildMuxPlan(videoSeconds, audioSeconds float64) (MuxPlan, error) {
	if videoSeconds <= 0 || audioSeconds <= 0 {
		return MuxPlan{}, fmt.Errorf("mux plan: durations must be positive (%.3f / %.3f)",
			videoSeconds, audioSeconds)
	}
	scale := audioSeconds / videoSeconds
	if math.Abs(scale-1) <= muxScaleTolerance {
		return MuxPlan{VideoScale: 1}, nil
	}
	if audioSeconds > videoSeconds {
		stretch, err := BuildStretchPlan(audioSeconds, videoSeconds, 0)
		if err != nil {
			return MuxPlan{}, err
		}
		return MuxPlan{VideoScale: 1, AudioStretch: stretch}, nil
	}
	return MuxPlan{VideoScale: scale}, nil
}

// buildMuxArgs combines a video source with a replacement audio track.
func buildMuxArgs(videoSource, audioSource, dest string, plan MuxPlan) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoSource,
		"-i", audioSource,
	}
	switch {
	case plan.AudioStretch.Filter != "" && !plan.AudioStretch.Skip:
		args = append(args,
			"-filter_complex", "[1:a]"+plan.AudioStretch.Filter+"[a]",
			"-map", "0:v:0",
			"-map", "[a]",
			"-c:v", "copy",
		)
	case plan.VideoScale != 1:
		args = append(args,
			"-filter_complex", fmt.Sprintf("[0:v]setpts=PTS*%.6f[v]", plan.VideoScale),
			"-map", "[v]",
			"-map", "1:a:0",
		)
	default:
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-shortest",
		dest,
	)
	return args
}

// MuxVideo replaces a video's audio track with the dubbed one, retiming
// the video when the durations diverge.
func (s *Service) MuxVideo(ctx context.Context, videoSource, audioSource, dest string, plan MuxPlan) error {
	if videoSource == "" || audioSource == "" || dest == "" {
		return fmt.Errorf("mux: video, audio, and dest required")
	}
	return s.run(ctx, s.ffmpegBinary, buildMuxArgs(videoSource, audioSource, dest, plan)...)
}
