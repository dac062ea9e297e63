package extsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"voiceloom/internal/config"
	"voiceloom/internal/services"
)

// TranslationClient talks to the machine-translation backend.
type TranslationClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// TranslationOption configures a TranslationClient.
type TranslationOption func(*TranslationClient)

// WithTranslationHTTPClient overrides the default HTTP client.
func WithTranslationHTTPClient(client *http.Client) TranslationOption {
	return func(c *TranslationClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewTranslation creates a translation client from configuration.
func NewTranslation(cfg config.Translation, opts ...TranslationOption) (*TranslationClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("translation base url required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	client := &TranslationClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   strings.TrimSpace(cfg.APIToken),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type translateRequest struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Texts  []string `json:"texts"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
}

// Translate converts texts from source to target language, preserving
// order and count.
func (c *TranslationClient) Translate(ctx context.Context, source, target string, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(translateRequest{Source: source, Target: target, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("translating", "translate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("translating", "translate", resp)
	}

	var body translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, services.Wrap(services.ErrDependency, "translating", "translate", "decode response", err)
	}
	if len(body.Translations) != len(texts) {
		return nil, services.Wrap(services.ErrDependency, "translating", "translate",
			fmt.Sprintf("backend returned %d translations for %d texts", len(body.Translations), len(texts)), nil)
	}
	// Some backends entity-encode punctuation in their output.
	for i, text := range body.Translations {
		body.Translations[i] = html.UnescapeString(text)
	}
	return body.Translations, nil
}
