package tts

import (
	"context"
	"net/http"
	"strings"
)

const (
	openAIBaseURL = "https://api.openai.com"
	openAIModel   = "tts-1"
)

var openAIVoices = map[string]string{
	"rationalist": "onyx",
	"advocate":    "nova",
	"contrarian":  "echo",
	"visionary":   "shimmer",
	"pragmatist":  "fable",
	"moderator":   "alloy",
}

// OpenAI synthesizes speech through the OpenAI audio API.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAI creates an OpenAI provider. A nil client uses http.DefaultClient.
func NewOpenAI(apiKey string, client *http.Client) *OpenAI {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAI{apiKey: apiKey, baseURL: openAIBaseURL, client: client}
}

// WithBaseURL points the provider at another host.
func (o *OpenAI) WithBaseURL(u string) *OpenAI {
	o.baseURL = strings.TrimRight(u, "/")
	return o
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) DefaultVoice(agentKey, gender string) Voice {
	if v, ok := openAIVoices[agentKey]; ok {
		return Voice{ID: v}
	}
	if gender == "female" {
		return Voice{ID: "nova"}
	}
	return Voice{ID: "onyx"}
}

type openAIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (o *OpenAI) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	return postAudio(ctx, o.client, "OpenAI TTS",
		o.baseURL+"/v1/audio/speech",
		map[string]string{"Authorization": "Bearer " + o.apiKey},
		openAIRequest{
			Model:          openAIModel,
			Input:          text,
			Voice:          voice.ID,
			ResponseFormat: "mp3",
		})
}
