package deps

import "voiceloom/internal/config"

// Requirements lists the external binaries the pipeline shells out to.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Audio extraction, stretching, and muxing",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Media duration and stream probing",
		},
	}
}
