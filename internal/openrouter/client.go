package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxRetries = 3

	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

var (
	// ErrEmptyCompletion is returned when a stream ends without any content.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrTruncatedStream is returned when the connection closes before the
	// gateway marks the completion finished.
	ErrTruncatedStream = errors.New("stream ended before completion")
)

// Client is an OpenRouter API client.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	appTitle    string
	logger      *slog.Logger
	backoffFunc func(attempt int) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another gateway (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// NewClient creates a new Client with the default OpenRouter base URL.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		appTitle:    "Committee",
		logger:      slog.Default(),
		backoffFunc: defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// NewClientWithBaseURL creates a new Client with a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return NewClient(apiKey, WithBaseURL(baseURL))
}

// ChatCompletion sends a chat completion request with retry for transient failures.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	resp, err := c.postChat(ctx, ChatRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	return &chatResp, nil
}

// StreamChatCompletion streams a completion, calling onToken for every
// content delta in arrival order, and returns the concatenated text.
// Transient failures are retried only before the stream is established;
// once a token has been delivered an error ends the call.
func (c *Client) StreamChatCompletion(ctx context.Context, model string, messages []Message, onToken func(string)) (string, error) {
	temp := defaultTemperature
	resp, err := c.postChat(ctx, ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   defaultMaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	var full strings.Builder
	finished := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// blank separators and ": OPENROUTER PROCESSING" keep-alives
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			finished = true
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("openrouter: skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return full.String(), fmt.Errorf("openrouter: stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if token := choice.Delta.Content; token != "" {
			full.WriteString(token)
			if onToken != nil {
				onToken(token)
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finished = true
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return full.String(), fmt.Errorf("openrouter: %w", ctxErr)
		}
		return full.String(), fmt.Errorf("openrouter: reading stream: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return full.String(), fmt.Errorf("openrouter: %w", err)
	}
	if !finished {
		return full.String(), fmt.Errorf("openrouter: %w", ErrTruncatedStream)
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", fmt.Errorf("openrouter: %w", ErrEmptyCompletion)
	}
	return full.String(), nil
}

func (c *Client) postChat(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		if reqBody.Stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		return c.httpClient.Do(req)
	})
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", c.appTitle)
}

func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func (c *Client) doWithRetry(ctx context.Context, do func(context.Context) (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffFunc(attempt - 1)
			c.logger.Debug("openrouter: retrying request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := do(ctx)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}

		if !isRetryable(resp.StatusCode) {
			return nil, apiErr
		}

		// Retry-After is waited on top of the backoff
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
					raDelay := time.Duration(secs) * time.Second
					// zero backoff means tests; skip the header wait too
					if raDelay > 0 && c.backoffFunc(0) > 0 {
						select {
						case <-ctx.Done():
							return nil, ctx.Err()
						case <-time.After(raDelay):
						}
					}
				}
			}
		}

		lastErr = apiErr
	}
	return nil, lastErr
}

// ListModels retrieves available models from OpenRouter.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openrouter: %w", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	var modelsResp ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("openrouter: %w", err)
	}
	return modelsResp.Data, nil
}
