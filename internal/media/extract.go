package media

import (
	"context"
	"fmt"
)

// buildExtractArgs builds the argument list for audio extraction. A
// negative start or duration extracts the full stream. Output is mono
// 16kHz PCM, the format the transcription backend expects.
func buildExtractArgs(source string, startSec, durationSec float64, dest string) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
	}
	if startSec >= 0 && durationSec > 0 {
		args = append(args,
			"-ss", fmt.Sprintf("%.3f", startSec),
			"-t", fmt.Sprintf("%.3f", durationSec),
		)
	}
	args = append(args,
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	)
	return args
}

// ExtractAudio pulls the full audio stream out of a media file.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string) error {
	if source == "" || dest == "" {
		return fmt.Errorf("extract audio: source and dest required")
	}
	return s.run(ctx, s.ffmpegBinary, buildExtractArgs(source, -1, -1, dest)...)
}

// ExtractWindow pulls a time range of audio out of a media file, used for
// cutting voice samples.
func (s *Service) ExtractWindow(ctx context.Context, source string, startSec, durationSec float64, dest string) error {
	if source == "" || dest == "" {
		return fmt.Errorf("extract window: source and dest required")
	}
	if durationSec <= 0 {
		return fmt.Errorf("extract window: invalid duration %.3f", durationSec)
	}
	return s.run(ctx, s.ffmpegBinary, buildExtractArgs(source, startSec, durationSec, dest)...)
}

// PadAudio appends silence so the output reaches at least padToSeconds.
func (s *Service) PadAudio(ctx context.Context, source string, padToSeconds float64, dest string) error {
	if padToSeconds <= 0 {
		return fmt.Errorf("pad audio: invalid target %.3f", padToSeconds)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-af", fmt.Sprintf("apad=whole_dur=%.3f", padToSeconds),
		dest,
	}
	return s.run(ctx, s.ffmpegBinary, args...)
}
