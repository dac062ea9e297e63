package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config")
	}
	if cfg.Billing.SecondsPerCredit != defaultSecondsPerCredit {
		t.Fatalf("seconds_per_credit = %d, want %d", cfg.Billing.SecondsPerCredit, defaultSecondsPerCredit)
	}
	if cfg.Pipeline.MaxSpeakersPerChunk != defaultMaxSpeakersPerChunk {
		t.Fatalf("max_speakers_per_chunk = %d, want %d", cfg.Pipeline.MaxSpeakersPerChunk, defaultMaxSpeakersPerChunk)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("data_dir not expanded: %s", cfg.Paths.DataDir)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[logging]
format = "JSON"

[billing]
seconds_per_credit = 5

[queue]
subject_prefix = ".custom.tasks."
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved=%s exists=%v", resolved, exists)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Billing.SecondsPerCredit != 5 {
		t.Fatalf("seconds_per_credit = %d, want 5", cfg.Billing.SecondsPerCredit)
	}
	if cfg.Queue.SubjectPrefix != "custom.tasks" {
		t.Fatalf("subject_prefix = %q, want custom.tasks", cfg.Queue.SubjectPrefix)
	}
	if cfg.Queue.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("max_attempts = %d, want default %d", cfg.Queue.MaxAttempts, defaultMaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatal(err)
	}
	cfg.Billing.SecondsPerCredit = 0
	cfg.Pipeline.ClusterEps = 1.5
	cfg.BlobStore.Backend = "s3"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"seconds_per_credit", "cluster_eps", "blobstore.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}
