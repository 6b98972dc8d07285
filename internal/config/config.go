package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lorenzotomasdiez/committee/internal/reveal"
)

const DefaultModel = "anthropic/claude-sonnet-4-5"

// RevealMode selects how the transcript is revealed to the viewer.
type RevealMode string

const (
	RevealAuto   RevealMode = "auto"
	RevealTokens RevealMode = "tokens"
	RevealAudio  RevealMode = "audio"
)

// Reveal resolves the configured reveal mode. Auto paces the transcript
// against audio when audio is available.
func (c *Config) Reveal(audio bool) reveal.Mode {
	switch c.RevealMode {
	case RevealTokens:
		return reveal.TokenStreaming
	case RevealAudio:
		return reveal.AudioSynced
	}
	if audio {
		return reveal.AudioSynced
	}
	return reveal.TokenStreaming
}

type Config struct {
	APIKey      string
	Model       string
	AgentModels map[string]string

	DataDir string
	DBPath  string

	TTSProvider   string
	ElevenLabsKey string
	OpenAIKey     string
	Voices        map[string]string
	TTSRate       float64
	RevealMode    RevealMode
	RevealTick    time.Duration
	ServerAddr    string
	LogLevel      slog.Level
	LogFormat     string
}

// Load reads the configuration from the environment. The OpenRouter key is
// not required here; commands that talk to the LLM call RequireLLM.
func Load() (*Config, error) {
	dataDir := envString("COMMITTEE_DATA_DIR", "data")

	dbPath := envString("COMMITTEE_DB_PATH", filepath.Join(dataDir, "committee.db"))

	agentModels, err := envMap("COMMITTEE_AGENT_MODELS")
	if err != nil {
		return nil, err
	}
	voices, err := envMap("COMMITTEE_VOICES")
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(envString("COMMITTEE_TTS_PROVIDER", "elevenlabs"))
	if provider != "elevenlabs" && provider != "openai" {
		return nil, fmt.Errorf("config: COMMITTEE_TTS_PROVIDER must be elevenlabs or openai, got %q", provider)
	}

	ttsRate, err := envFloat("COMMITTEE_TTS_RATE", 2)
	if err != nil {
		return nil, err
	}
	if ttsRate <= 0 {
		return nil, fmt.Errorf("config: COMMITTEE_TTS_RATE must be > 0, got %v", ttsRate)
	}

	mode := RevealMode(strings.ToLower(envString("COMMITTEE_REVEAL_MODE", string(RevealAuto))))
	switch mode {
	case RevealAuto, RevealTokens, RevealAudio:
	default:
		return nil, fmt.Errorf("config: COMMITTEE_REVEAL_MODE must be auto, tokens or audio, got %q", mode)
	}

	tickMS, err := envInt("COMMITTEE_REVEAL_TICK_MS", 35)
	if err != nil {
		return nil, err
	}
	if tickMS < 1 {
		return nil, fmt.Errorf("config: COMMITTEE_REVEAL_TICK_MS must be >= 1, got %d", tickMS)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(envString("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("config: invalid LOG_LEVEL: %w", err)
	}

	logFormat := strings.ToLower(envString("LOG_FORMAT", "text"))
	if logFormat != "text" && logFormat != "json" {
		return nil, fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", logFormat)
	}

	return &Config{
		APIKey:        os.Getenv("OPENROUTER_API_KEY"),
		Model:         envString("COMMITTEE_MODEL", DefaultModel),
		AgentModels:   agentModels,
		DataDir:       dataDir,
		DBPath:        dbPath,
		TTSProvider:   provider,
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		Voices:        voices,
		TTSRate:       ttsRate,
		RevealMode:    mode,
		RevealTick:    time.Duration(tickMS) * time.Millisecond,
		ServerAddr:    envString("COMMITTEE_ADDR", ":8080"),
		LogLevel:      level,
		LogFormat:     logFormat,
	}, nil
}

// RequireLLM reports an error when no OpenRouter key is configured.
func (c *Config) RequireLLM() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: OPENROUTER_API_KEY is required")
	}
	return nil
}

// TTSKey returns the API key of the selected TTS provider, or "" when audio
// is not configured.
func (c *Config) TTSKey() string {
	if c.TTSProvider == "openai" {
		return c.OpenAIKey
	}
	return c.ElevenLabsKey
}

// DebateDir returns the directory holding a decision's audio and manifest.
func (c *Config) DebateDir(decisionID string) string {
	return filepath.Join(c.DataDir, "debates", decisionID)
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, s, err)
	}
	return v, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, s, err)
	}
	return v, nil
}

// envMap parses "k=v,k2=v2" into a map.
func envMap(key string) (map[string]string, error) {
	out := map[string]string{}
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("config: invalid %s entry %q, want key=value", key, pair)
		}
		out[k] = v
	}
	return out, nil
}
