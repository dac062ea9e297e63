package extsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voiceloom/internal/config"
)

// VoiceSample carries reference audio for one speaker in a synthesis
// request. Audio is WAV bytes, base64-encoded on the wire.
type VoiceSample struct {
	Speaker string `json:"speaker"`
	Audio   []byte `json:"audio"`
}

// SynthesizeRequest describes one chunk of dialogue to synthesize. The
// script uses chunk-local speaker numbering matching the order of Voices.
type SynthesizeRequest struct {
	Script   string        `json:"script"`
	Language string        `json:"language"`
	Voices   []VoiceSample `json:"voices"`
}

// InferenceClient talks to the speech-synthesis backend.
type InferenceClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// InferenceOption configures an InferenceClient.
type InferenceOption func(*InferenceClient)

// WithInferenceHTTPClient overrides the default HTTP client.
func WithInferenceHTTPClient(client *http.Client) InferenceOption {
	return func(c *InferenceClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewInference creates a synthesis client from configuration.
func NewInference(cfg config.Inference, opts ...InferenceOption) (*InferenceClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("inference base url required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	client := &InferenceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   strings.TrimSpace(cfg.APIToken),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Synthesize renders one chunk's dialogue and returns the WAV bytes.
func (c *InferenceClient) Synthesize(ctx context.Context, reqBody SynthesizeRequest) ([]byte, error) {
	if strings.TrimSpace(reqBody.Script) == "" {
		return nil, errors.New("script must not be empty")
	}
	if len(reqBody.Voices) == 0 {
		return nil, errors.New("at least one voice sample required")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("cloning", "synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("cloning", "synthesize", resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("cloning", "synthesize", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis backend returned empty audio")
	}
	return audio, nil
}
