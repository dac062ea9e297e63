package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ProbeDuration returns the container duration of a media file in seconds.
func (s *Service) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if path == "" {
		return 0, fmt.Errorf("probe duration: path required")
	}
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	output, err := s.runOutput(ctx, s.ffprobeBinary, args...)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(output), 64)
	if err != nil {
		return 0, fmt.Errorf("probe duration: parse %q: %w", strings.TrimSpace(output), err)
	}
	return duration, nil
}

// HasVideoStream reports whether a media file carries at least one video
// stream.
func (s *Service) HasVideoStream(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("probe video: path required")
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	output, err := s.runOutput(ctx, s.ffprobeBinary, args...)
	if err != nil {
		return false, fmt.Errorf("probe video: %w", err)
	}
	return strings.Contains(output, "video"), nil
}
