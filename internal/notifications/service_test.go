package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"voiceloom/internal/config"
	"voiceloom/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), "job-1", "Example", ""); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Completed = true
	cfg.Notifications.Errors = true

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), "job-1", "Interview Dub", "/blobs/out.mp4?sig=x"); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}

	if captured.title != "Voiceloom - Complete" {
		t.Fatalf("title = %q", captured.title)
	}
	if captured.body != "Generation complete: Interview Dub\nDownload: /blobs/out.mp4?sig=x" {
		t.Fatalf("body = %q", captured.body)
	}
	if captured.tags != "voiceloom,job,completed" {
		t.Fatalf("tags = %q", captured.tags)
	}
	if captured.priority != "high" {
		t.Fatalf("priority = %q", captured.priority)
	}

	if err := svc.NotifyJobFailed(context.Background(), "job-2", "backend returned 503"); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}
	if captured.body != "Job job-2 failed: backend returned 503" {
		t.Fatalf("body = %q", captured.body)
	}
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), "job-1", "x", ""); err != nil {
		t.Fatalf("disabled completed event errored: %v", err)
	}
	if err := svc.NotifyJobFailed(context.Background(), "job-1", "boom"); err != nil {
		t.Fatalf("disabled error event errored: %v", err)
	}
}

func TestNtfyServiceDeduplicatesRepeats(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Errors = true
	cfg.Notifications.DedupWindowSeconds = 60

	svc := notifications.NewService(&cfg)
	for i := 0; i < 3; i++ {
		if err := svc.NotifyJobFailed(context.Background(), "job-1", "same failure"); err != nil {
			t.Fatalf("notification returned error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want 1", got)
	}
}
