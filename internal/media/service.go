package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Service wraps the ffmpeg/ffprobe invocations used by the pipeline.
type Service struct {
	ffmpegBinary  string
	ffprobeBinary string
	commandRunner func(ctx context.Context, name string, args ...string) error
	outputRunner  func(ctx context.Context, name string, args ...string) (string, error)
}

// NewService creates a media service bound to the given binaries. Empty
// values fall back to PATH lookup.
func NewService(ffmpegBinary, ffprobeBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Service{ffmpegBinary: ffmpegBinary, ffprobeBinary: ffprobeBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// WithOutputRunner sets a custom runner for commands whose stdout is parsed
// (for testing).
func (s *Service) WithOutputRunner(runner func(ctx context.Context, name string, args ...string) (string, error)) {
	s.outputRunner = runner
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (s *Service) runOutput(ctx context.Context, name string, args ...string) (string, error) {
	if s.outputRunner != nil {
		return s.outputRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return string(output), nil
}
