package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Queue contains configuration for the NATS task queue transport.
type Queue struct {
	URL                    string `toml:"url"`
	Stream                 string `toml:"stream"`
	SubjectPrefix          string `toml:"subject_prefix"`
	MaxAttempts            int    `toml:"max_attempts"`
	Workers                int    `toml:"workers"`
	DispatchDeadlineSec    int    `toml:"dispatch_deadline_seconds"`
	TranscribeDeadlineMin  int    `toml:"transcribe_deadline_minutes"`
	RetryBackoffSeconds    int    `toml:"retry_backoff_seconds"`
	MaxRetryBackoffSeconds int    `toml:"max_retry_backoff_seconds"`
}

// BlobStore contains configuration for artifact storage.
type BlobStore struct {
	Backend       string `toml:"backend"` // "fs" or "nats"
	Root          string `toml:"root"`
	Bucket        string `toml:"bucket"`
	SigningSecret string `toml:"signing_secret"`
	SignedURLTTL  int    `toml:"signed_url_ttl_hours"`
}

// Inference contains configuration for the speech-synthesis backend.
type Inference struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcription contains configuration for the speech-to-text backend.
type Transcription struct {
	BaseURL             string `toml:"base_url"`
	APIToken            string `toml:"api_token"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	TimeoutMinutes      int    `toml:"timeout_minutes"`
	MinSpeakerCount     int    `toml:"min_speaker_count"`
	MaxSpeakerCount     int    `toml:"max_speaker_count"`
}

// Translation contains configuration for the machine-translation backend.
type Translation struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Billing contains the credit cost model.
type Billing struct {
	SecondsPerCredit          int     `toml:"seconds_per_credit"`
	MultiSpeakerMultiplier    float64 `toml:"multi_speaker_multiplier"`
	TranslationMultiplier     float64 `toml:"translation_multiplier"`
	VideoMultiplier           float64 `toml:"video_multiplier"`
	PendingCreditTimeoutHours int     `toml:"pending_credit_timeout_hours"`
}

// Pipeline contains tunables for chunking, clustering, and audio assembly.
type Pipeline struct {
	MaxSpeakersPerChunk  int     `toml:"max_speakers_per_chunk"`
	ClusterEps           float64 `toml:"cluster_eps"`
	ClusterMinSamples    int     `toml:"cluster_min_samples"`
	MinSegmentSeconds    float64 `toml:"min_segment_seconds"`
	SampleTargetSeconds  float64 `toml:"sample_target_seconds"`
	SampleFloorSeconds   float64 `toml:"sample_floor_seconds"`
	StretchToleranceSec  float64 `toml:"stretch_tolerance_seconds"`
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
	FFprobeBinary        string  `toml:"ffprobe_binary"`
	ExpirySweepMinutes   int     `toml:"expiry_sweep_minutes"`
	HandlerGraceSeconds  int     `toml:"handler_grace_seconds"`
	MaxUploadDurationSec int     `toml:"max_upload_duration_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Completed          bool   `toml:"completed"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Config encapsulates all configuration values for voiceloom.
//
// Configuration sections by subsystem:
//   - Paths: data, scratch, and log directories
//   - Logging: log format and level
//   - Queue: NATS JetStream transport and retry policy
//   - BlobStore: artifact storage backend
//   - Inference/Transcription/Translation: external service endpoints
//   - Billing: credit cost model constants
//   - Pipeline: chunking, clustering, and time-stretch tunables
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus exposition endpoint
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Queue         Queue         `toml:"queue"`
	BlobStore     BlobStore     `toml:"blobstore"`
	Inference     Inference     `toml:"inference"`
	Transcription Transcription `toml:"transcription"`
	Translation   Translation   `toml:"translation"`
	Billing       Billing       `toml:"billing"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voiceloom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if c.BlobStore.Backend == "fs" && c.BlobStore.Root != "" {
		if err := os.MkdirAll(c.BlobStore.Root, 0o755); err != nil {
			return fmt.Errorf("create blobstore root %s: %w", c.BlobStore.Root, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured ffmpeg binary, defaulting to PATH lookup.
func (c *Config) FFmpegBinary() string {
	if c.Pipeline.FFmpegBinary != "" {
		return c.Pipeline.FFmpegBinary
	}
	return "ffmpeg"
}

// FFprobeBinary returns the configured ffprobe binary, defaulting to PATH lookup.
func (c *Config) FFprobeBinary() string {
	if c.Pipeline.FFprobeBinary != "" {
		return c.Pipeline.FFprobeBinary
	}
	return "ffprobe"
}

// DispatchDeadline returns the per-task dispatch deadline for ordinary stages.
func (c *Config) DispatchDeadline() time.Duration {
	return time.Duration(c.Queue.DispatchDeadlineSec) * time.Second
}

// TranscribeDeadline returns the extended deadline used by the transcription stage.
func (c *Config) TranscribeDeadline() time.Duration {
	return time.Duration(c.Queue.TranscribeDeadlineMin) * time.Minute
}

// PendingCreditTimeout returns the window after which stale reservations expire.
func (c *Config) PendingCreditTimeout() time.Duration {
	return time.Duration(c.Billing.PendingCreditTimeoutHours) * time.Hour
}

// SignedURLTTL returns the signed URL lifetime.
func (c *Config) SignedURLTTL() time.Duration {
	return time.Duration(c.BlobStore.SignedURLTTL) * time.Hour
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	return abs, nil
}
