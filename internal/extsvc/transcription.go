package extsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceloom/internal/config"
	"voiceloom/internal/services"
)

// TranscriptSegment is one diarized utterance with its voice embedding.
type TranscriptSegment struct {
	StartTime float64   `json:"start"`
	EndTime   float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

// Transcript is the completed transcription payload.
type Transcript struct {
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// TranscriptionClient submits audio to the speech-to-text backend and
// polls for the diarized result.
type TranscriptionClient struct {
	baseURL      string
	apiToken     string
	pollInterval time.Duration
	timeout      time.Duration
	minSpeakers  int
	maxSpeakers  int
	httpClient   *http.Client
}

// TranscriptionOption configures a TranscriptionClient.
type TranscriptionOption func(*TranscriptionClient)

// WithTranscriptionHTTPClient overrides the default HTTP client.
func WithTranscriptionHTTPClient(client *http.Client) TranscriptionOption {
	return func(c *TranscriptionClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPollInterval overrides the poll cadence, used by tests.
func WithPollInterval(interval time.Duration) TranscriptionOption {
	return func(c *TranscriptionClient) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewTranscription creates a transcription client from configuration.
func NewTranscription(cfg config.Transcription, opts ...TranscriptionOption) (*TranscriptionClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("transcription base url required")
	}
	pollInterval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	timeout := time.Duration(cfg.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	client := &TranscriptionClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiToken:     strings.TrimSpace(cfg.APIToken),
		pollInterval: pollInterval,
		timeout:      timeout,
		minSpeakers:  cfg.MinSpeakerCount,
		maxSpeakers:  cfg.MaxSpeakerCount,
		httpClient:   &http.Client{Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type submitResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Status   string              `json:"status"`
	Error    string              `json:"error"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// Transcribe uploads mono 16 kHz WAV audio and blocks until the backend
// finishes, the configured timeout expires, or ctx is canceled.
func (c *TranscriptionClient) Transcribe(ctx context.Context, audio io.Reader) (*Transcript, error) {
	id, err := c.submit(ctx, audio)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, id)
}

func (c *TranscriptionClient) submit(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcriptions", audio)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if c.minSpeakers > 0 {
		req.Header.Set("X-Min-Speakers", strconv.Itoa(c.minSpeakers))
	}
	if c.maxSpeakers > 0 {
		req.Header.Set("X-Max-Speakers", strconv.Itoa(c.maxSpeakers))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("transcribing", "submit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", statusError("transcribing", "submit", resp)
	}

	var body submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", services.Wrap(services.ErrDependency, "transcribing", "submit", "decode response", err)
	}
	if body.ID == "" {
		return "", services.Wrap(services.ErrDependency, "transcribing", "submit", "backend returned no transcription id", nil)
	}
	return body.ID, nil
}

func (c *TranscriptionClient) poll(ctx context.Context, id string) (*Transcript, error) {
	deadline := time.Now().Add(c.timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		result, done, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrTimeout, "transcribing", "poll",
				fmt.Sprintf("transcription %s did not finish within %s", id, c.timeout), nil)
		}

		select {
		case <-ctx.Done():
			return nil, services.Wrap(services.ErrTimeout, "transcribing", "poll", "canceled while waiting", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *TranscriptionClient) fetch(ctx context.Context, id string) (*Transcript, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transcriptions/"+id, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, transportError("transcribing", "poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, statusError("transcribing", "poll", resp)
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, services.Wrap(services.ErrDependency, "transcribing", "poll", "decode response", err)
	}

	switch body.Status {
	case "completed":
		if len(body.Segments) == 0 {
			return nil, false, services.Wrap(services.ErrValidation, "transcribing", "poll",
				"audio produced no speech segments", nil)
		}
		return &Transcript{Language: body.Language, Segments: body.Segments}, true, nil
	case "failed":
		return nil, false, services.Wrap(services.ErrDependency, "transcribing", "poll",
			"backend reported failure: "+body.Error, nil)
	default:
		return nil, false, nil
	}
}
