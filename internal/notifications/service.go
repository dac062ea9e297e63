package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"voiceloom/internal/config"
)

const userAgent = "Voiceloom-Go/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobID, title, downloadLink string) error
	NotifyJobFailed(ctx context.Context, jobID, reason string) error
	NotifyReservationExpired(ctx context.Context, jobID string, credits float64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		completed:   cfg.Notifications.Completed,
		errors:      cfg.Notifications.Errors,
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:    make(map[string]time.Time),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	completed   bool
	errors      bool
	dedupWindow time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID, title, downloadLink string) error {
	if !n.completed {
		return nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = jobID
	}
	message := fmt.Sprintf("Generation complete: %s", title)
	if downloadLink = strings.TrimSpace(downloadLink); downloadLink != "" {
		message = fmt.Sprintf("%s\nDownload: %s", message, downloadLink)
	}
	data := payload{
		title:    "Voiceloom - Complete",
		message:  message,
		tags:     []string{"voiceloom", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, reason string) error {
	if !n.errors {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Voiceloom - Job Failed",
		message:  fmt.Sprintf("Job %s failed: %s", jobID, reason),
		tags:     []string{"voiceloom", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReservationExpired(ctx context.Context, jobID string, credits float64) error {
	if !n.errors {
		return nil
	}
	data := payload{
		title:   "Voiceloom - Reservation Expired",
		message: fmt.Sprintf("Job %s expired, released %.1f held credits", jobID, credits),
		tags:    []string{"voiceloom", "job", "expired"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Voiceloom - Test",
		message:  "Notification system test",
		tags:     []string{"voiceloom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// suppressed reports whether an identical notification went out inside
// the dedup window. Redelivered tasks fire the same event twice; the user
// only needs it once.
func (n *ntfyService) suppressed(data payload) bool {
	if n.dedupWindow <= 0 {
		return false
	}
	key := data.title + "\x00" + data.message
	now := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if sent, ok := n.lastSent[key]; ok && now.Sub(sent) < n.dedupWindow {
		return true
	}
	n.lastSent[key] = now
	return false
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if n.suppressed(data) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string, string) error    { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error               { return nil }
func (noopService) NotifyReservationExpired(context.Context, string, float64) error     { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
