package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify method and path
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}

		// Verify headers
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization header 'Bearer test-key', got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Title") != "Committee" {
			t.Errorf("expected X-Title 'Committee', got %q", r.Header.Get("X-Title"))
		}

		// Verify request body
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("failed to unmarshal request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model 'test-model', got %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.Stream {
			t.Error("non-streaming call must not set stream")
		}

		// Return response
		resp := ChatResponse{
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: "hi there"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	resp, err := client.ChatCompletion(context.Background(), "test-model", []Message{
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("expected 'hi there', got %q", resp.Choices[0].Message.Content)
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/models" {
			t.Errorf("expected /models, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Authorization header 'Bearer test-key', got %q", r.Header.Get("Authorization"))
		}

		resp := ModelsResponse{
			Data: []Model{
				{ID: "model-1", Name: "Model One", Pricing: &Pricing{Prompt: "0", Completion: "0"}},
				{ID: "model-2", Name: "Model Two", Pricing: nil},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "model-1" {
		t.Errorf("expected 'model-1', got %q", models[0].ID)
	}
	if models[1].Pricing != nil {
		t.Errorf("expected nil pricing for model-2, got %+v", models[1].Pricing)
	}
}

func TestChatCompletionErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	client.backoffFunc = noDelay
	_, err := client.ChatCompletion(context.Background(), "test-model", []Message{
		{Role: "user", Content: "hello"},
	})
	if err == nil {
		t.Fatal("expected error for 500 status, got nil")
	}
}

func TestListModelsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("unauthorized"))
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	_, err := client.ListModels(context.Background())
	if err == nil {
		t.Fatal("expected error for 401 status, got nil")
	}
}

func TestNewClientSetsDefaultBaseURL(t *testing.T) {
	client := NewClient("my-key")
	if client.baseURL != defaultBaseURL {
		t.Errorf("expected default base URL, got %q", client.baseURL)
	}
	if client.apiKey != "my-key" {
		t.Errorf("expected apiKey 'my-key', got %q", client.apiKey)
	}
}

func noDelay(attempt int) time.Duration { return 0 }

func successResponse() ChatResponse {
	return ChatResponse{
		Choices: []Choice{
			{Message: Message{Role: "assistant", Content: "ok"}},
		},
	}
}

func TestChatCompletionRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		status    int
		wantErr   bool
		wantCalls int32
	}{
		{name: "429 then success", failures: 2, status: http.StatusTooManyRequests, wantCalls: 3},
		{name: "500 then success", failures: 1, status: http.StatusInternalServerError, wantCalls: 2},
		{name: "429 exhausts retries", failures: 100, status: http.StatusTooManyRequests, wantErr: true, wantCalls: 4},
		{name: "400 is not retried", failures: 100, status: http.StatusBadRequest, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var count atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := count.Add(1)
				if n <= tt.failures {
					w.Header().Set("Retry-After", "1")
					w.WriteHeader(tt.status)
					fmt.Fprint(w, "failure")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(successResponse())
			}))
			defer server.Close()

			client := NewClientWithBaseURL("test-key", server.URL)
			client.backoffFunc = noDelay

			resp, err := client.ChatCompletion(context.Background(), "test-model", []Message{
				{Role: "user", Content: "hello"},
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
					t.Errorf("expected APIError with status %d, got %v", tt.status, err)
				}
			} else {
				if err != nil {
					t.Fatalf("expected success after retries, got error: %v", err)
				}
				if resp.Choices[0].Message.Content != "ok" {
					t.Errorf("expected 'ok', got %q", resp.Choices[0].Message.Content)
				}
			}
			if got := count.Load(); got != tt.wantCalls {
				t.Errorf("expected %d total requests, got %d", tt.wantCalls, got)
			}
		})
	}
}

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to unmarshal request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}
		if req.MaxTokens != 2048 || req.Temperature == nil || *req.Temperature != 0.7 {
			t.Errorf("unexpected sampling params: max_tokens=%d temperature=%v", req.MaxTokens, req.Temperature)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "%s\n\n", ev)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func deltaEvent(s string) string {
	b, _ := json.Marshal(StreamChunk{Choices: []StreamChoice{{Delta: Delta{Content: s}}}})
	return "data: " + string(b)
}

func TestStreamChatCompletionDeliversTokensInOrder(t *testing.T) {
	server := sseServer(t,
		": OPENROUTER PROCESSING",
		deltaEvent("Hello"),
		deltaEvent(", "),
		`data: {"choices":[]}`,
		"data: not-json",
		deltaEvent("world"),
		"data: [DONE]",
		deltaEvent("ignored"),
	)
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	var tokens []string
	full, err := client.StreamChatCompletion(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}},
		func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "Hello, world" {
		t.Errorf("full = %q", full)
	}
	if strings.Join(tokens, "|") != "Hello|, |world" {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestStreamChatCompletionEmptyIsError(t *testing.T) {
	server := sseServer(t, deltaEvent("  "), "data: [DONE]")
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	_, err := client.StreamChatCompletion(context.Background(), "m", nil, nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestStreamChatCompletionTruncatedIsError(t *testing.T) {
	server := sseServer(t, deltaEvent("I think we should"))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	full, err := client.StreamChatCompletion(context.Background(), "m", nil, nil)
	if !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("expected ErrTruncatedStream, got %v (text %q)", err, full)
	}
}

func TestStreamChatCompletionFinishReasonEndsStream(t *testing.T) {
	stop := "stop"
	b, _ := json.Marshal(StreamChunk{Choices: []StreamChoice{{Delta: Delta{Content: "done."}, FinishReason: &stop}}})
	server := sseServer(t, deltaEvent("All "), "data: "+string(b))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	full, err := client.StreamChatCompletion(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "All done." {
		t.Errorf("full = %q", full)
	}
}

func TestStreamChatCompletionInBandError(t *testing.T) {
	server := sseServer(t, deltaEvent("partial"), `data: {"error":{"code":502,"message":"provider down"}}`)
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	full, err := client.StreamChatCompletion(context.Background(), "m", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if full != "partial" {
		t.Errorf("partial text = %q", full)
	}
}

func TestStreamChatCompletionCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\n", deltaEvent("first"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClientWithBaseURL("test-key", server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.StreamChatCompletion(ctx, "m", nil, func(string) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamChatCompletionRetriesBeforeFirstToken(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if count.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n\ndata: [DONE]\n\n", deltaEvent("ok"))
	}))
	defer server.Close()

	client := NewClientWithBaseURL("test-key", server.URL)
	client.backoffFunc = noDelay
	full, err := client.StreamChatCompletion(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "ok" || count.Load() != 2 {
		t.Errorf("full=%q calls=%d", full, count.Load())
	}
}
