// Package tts turns finalized debate turns into per-segment MP3 audio and an
// ordered manifest.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Voice selects and tunes a provider voice.
type Voice struct {
	ID              string  `json:"id"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
	Style           float64 `json:"style,omitempty"`
}

// Provider synthesizes speech.
type Provider interface {
	Name() string
	// DefaultVoice returns the voice for an agent key, falling back on
	// voice gender for keys the provider has no mapping for.
	DefaultVoice(agentKey, gender string) Voice
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// ProviderError is a non-2xx answer from a TTS API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// NewProvider builds the provider named by name ("elevenlabs" or "openai").
// It returns nil when apiKey is empty, meaning audio is disabled.
func NewProvider(name, apiKey string, httpClient *http.Client) (Provider, error) {
	if apiKey == "" {
		return nil, nil
	}
	switch strings.ToLower(name) {
	case "", "elevenlabs":
		return NewElevenLabs(apiKey, httpClient), nil
	case "openai":
		return NewOpenAI(apiKey, httpClient), nil
	}
	return nil, fmt.Errorf("tts: unknown provider %q", name)
}

func postAudio(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tts: %w", &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: string(data)})
	}
	if err != nil {
		return nil, fmt.Errorf("tts: reading %s audio: %w", provider, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts: %s returned no audio", provider)
	}
	return data, nil
}
