package tts

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_multilingual_v2"
)

var elevenLabsVoices = map[string]Voice{
	"rationalist": {ID: "onwK4e9ZLuTAKqWW03F9", Stability: 0.7, SimilarityBoost: 0.8, Style: 0.3},
	"advocate":    {ID: "21m00Tcm4TlvDq8ikWAM", Stability: 0.4, SimilarityBoost: 0.7, Style: 0.6},
	"contrarian":  {ID: "ErXwobaYiN019PkySvjV", Stability: 0.3, SimilarityBoost: 0.7, Style: 0.8},
	"visionary":   {ID: "EXAVITQu4vr4xnSDxMaL", Stability: 0.6, SimilarityBoost: 0.8, Style: 0.4},
	"pragmatist":  {ID: "VR6AewLTigWG4xSOukaG", Stability: 0.6, SimilarityBoost: 0.7, Style: 0.3},
	"moderator":   {ID: "2EiwWnXFnvU5JabPnv8n", Stability: 0.7, SimilarityBoost: 0.9, Style: 0.5},
}

// ElevenLabs synthesizes speech through the ElevenLabs API.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewElevenLabs creates an ElevenLabs provider. A nil client uses
// http.DefaultClient.
func NewElevenLabs(apiKey string, client *http.Client) *ElevenLabs {
	if client == nil {
		client = http.DefaultClient
	}
	return &ElevenLabs{apiKey: apiKey, baseURL: elevenLabsBaseURL, client: client}
}

// WithBaseURL points the provider at another host.
func (e *ElevenLabs) WithBaseURL(u string) *ElevenLabs {
	e.baseURL = strings.TrimRight(u, "/")
	return e
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) DefaultVoice(agentKey, gender string) Voice {
	if v, ok := elevenLabsVoices[agentKey]; ok {
		return v
	}
	if gender == "female" {
		return Voice{ID: "21m00Tcm4TlvDq8ikWAM", Stability: 0.5, SimilarityBoost: 0.75, Style: 0.5}
	}
	return Voice{ID: "onwK4e9ZLuTAKqWW03F9", Stability: 0.5, SimilarityBoost: 0.75, Style: 0.5}
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	return postAudio(ctx, e.client, "ElevenLabs",
		e.baseURL+"/v1/text-to-speech/"+url.PathEscape(voice.ID),
		map[string]string{"xi-api-key": e.apiKey},
		elevenLabsRequest{
			Text:    text,
			ModelID: elevenLabsModel,
			VoiceSettings: elevenLabsSettings{
				Stability:       voice.Stability,
				SimilarityBoost: voice.SimilarityBoost,
				Style:           voice.Style,
			},
		})
}
