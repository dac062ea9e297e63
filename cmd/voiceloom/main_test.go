package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voiceloom/internal/config"
	"voiceloom/internal/ledger"
	"voiceloom/internal/store"
	"voiceloom/internal/testsupport"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
work_dir = %q
log_dir = %q

[blobstore]
backend = "fs"
root = %q

[metrics]
enabled = false
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "work"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "blobs"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLIUserCommands(t *testing.T) {
	configPath := writeTestConfig(t)

	out, _, err := runCLI(t, configPath, "users", "create", "alice", "--tier", "pro", "--credits", "25")
	if err != nil {
		t.Fatalf("users create: %v", err)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "pro") {
		t.Fatalf("unexpected create output: %q", out)
	}

	out, _, err = runCLI(t, configPath, "users", "credit", "alice", "15")
	if err != nil {
		t.Fatalf("users credit: %v", err)
	}
	if !strings.Contains(out, "40.00") {
		t.Fatalf("unexpected credit output: %q", out)
	}

	out, _, err = runCLI(t, configPath, "users", "show", "alice")
	if err != nil {
		t.Fatalf("users show: %v", err)
	}
	if !strings.Contains(out, "Tier:      pro") {
		t.Fatalf("unexpected show output: %q", out)
	}

	if _, _, err = runCLI(t, configPath, "users", "create", "bob", "--tier", "royalty"); err == nil {
		t.Fatal("unknown tier was accepted")
	}
}

func TestCLIJobsCommands(t *testing.T) {
	configPath := writeTestConfig(t)
	ctx := context.Background()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	s := testsupport.MustOpenStore(t, cfg)
	testsupport.NewUser(t, s, "carol", store.TierFree, 100)

	led := ledger.New(s, cfg.Billing, nil)
	job, err := led.Reserve(ctx, ledger.ReserveRequest{
		UID:             "carol",
		JobID:           "job-cli-1",
		Kind:            store.KindDubbing,
		SourceLanguage:  "en",
		TargetLanguage:  "es",
		DurationSeconds: 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, configPath, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out, job.ID) || !strings.Contains(out, "queued") {
		t.Fatalf("jobs list output: %q", out)
	}

	out, _, err = runCLI(t, configPath, "jobs", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("jobs list filtered: %v", err)
	}
	if !strings.Contains(out, "No jobs found.") {
		t.Fatalf("expected empty filtered list, got %q", out)
	}

	out, _, err = runCLI(t, configPath, "jobs", "show", job.ID)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	if !strings.Contains(out, "carol") || !strings.Contains(out, "en -> es") {
		t.Fatalf("jobs show output: %q", out)
	}
}

func TestCLISamplesAdd(t *testing.T) {
	configPath := writeTestConfig(t)

	wav := filepath.Join(t.TempDir(), "narrator.wav")
	if err := os.WriteFile(wav, []byte("reference audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, configPath, "samples", "add", "dave", "narrator", wav)
	if err != nil {
		t.Fatalf("samples add: %v", err)
	}
	if !strings.Contains(out, "dave/samples/narrator.wav") {
		t.Fatalf("unexpected output: %q", out)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	staged := filepath.Join(cfg.BlobStore.Root, "dave", "samples", "narrator.wav")
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged sample missing: %v", err)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "voiceloom.toml")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("overwriting without --overwrite succeeded")
	}
}
