package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir is required")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}

	switch c.BlobStore.Backend {
	case "fs":
		if strings.TrimSpace(c.BlobStore.Root) == "" {
			problems = append(problems, "blobstore.root is required for the fs backend")
		}
	case "nats":
		if strings.TrimSpace(c.BlobStore.Bucket) == "" {
			problems = append(problems, "blobstore.bucket is required for the nats backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("blobstore.backend %q is not one of fs, nats", c.BlobStore.Backend))
	}

	if c.Billing.SecondsPerCredit <= 0 {
		problems = append(problems, "billing.seconds_per_credit must be positive")
	}
	if c.Billing.MultiSpeakerMultiplier < 1 {
		problems = append(problems, "billing.multi_speaker_multiplier must be >= 1")
	}
	if c.Billing.TranslationMultiplier < 1 {
		problems = append(problems, "billing.translation_multiplier must be >= 1")
	}
	if c.Billing.VideoMultiplier < 1 {
		problems = append(problems, "billing.video_multiplier must be >= 1")
	}

	if c.Pipeline.MaxSpeakersPerChunk <= 0 {
		problems = append(problems, "pipeline.max_speakers_per_chunk must be positive")
	}
	if c.Pipeline.ClusterEps <= 0 || c.Pipeline.ClusterEps >= 1 {
		problems = append(problems, "pipeline.cluster_eps must be in (0, 1)")
	}
	if c.Pipeline.ClusterMinSamples < 1 {
		problems = append(problems, "pipeline.cluster_min_samples must be >= 1")
	}
	if c.Pipeline.StretchToleranceSec <= 0 {
		problems = append(problems, "pipeline.stretch_tolerance_seconds must be positive")
	}
	if c.Pipeline.SampleFloorSeconds > c.Pipeline.SampleTargetSeconds {
		problems = append(problems, "pipeline.sample_floor_seconds must not exceed sample_target_seconds")
	}

	if c.Queue.MaxAttempts < 1 {
		problems = append(problems, "queue.max_attempts must be >= 1")
	}
	if strings.TrimSpace(c.Queue.URL) == "" {
		problems = append(problems, "queue.url is required")
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Bind) == "" {
		problems = append(problems, "metrics.bind is required when metrics are enabled")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
