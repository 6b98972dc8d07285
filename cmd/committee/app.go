package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/config"
	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/models"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
	"github.com/lorenzotomasdiez/committee/internal/output"
	"github.com/lorenzotomasdiez/committee/internal/store"
	"github.com/lorenzotomasdiez/committee/internal/tts"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *agents.Registry
	bus      *events.Bus
	tts      *tts.Pipeline
	llm      *openrouter.Client
	printer  *output.Printer
}

// newApp loads configuration, applies flag overrides and opens the store.
// needLLM fails fast when no OpenRouter key is configured.
func newApp(cmd *cobra.Command, needLLM bool) (*app, error) {
	flags := cmd.Root().PersistentFlags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v, _ := flags.GetString("api-key"); v != "" {
		cfg.APIKey = v
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.Model = v
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
		if os.Getenv("COMMITTEE_DB_PATH") == "" {
			cfg.DBPath = filepath.Join(cfg.DataDir, "committee.db")
		}
	}
	if needLLM {
		if err := cfg.RequireLLM(); err != nil {
			return nil, fmt.Errorf("API key required: set --api-key flag or OPENROUTER_API_KEY env var")
		}
	}

	logger := cfg.NewLogger()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	registry, err := agents.Load(cfg.DataDir, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		bus:      events.NewBus(logger),
		llm:      openrouter.NewClient(cfg.APIKey, openrouter.WithLogger(logger)),
		printer:  output.NewPrinter(cmd.OutOrStdout(), registry),
	}

	var provider tts.Provider
	noAudio, _ := flags.GetBool("no-audio")
	if key := cfg.TTSKey(); key != "" && !noAudio {
		provider, err = tts.NewProvider(cfg.TTSProvider, key, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.tts = tts.New(tts.Config{
		Provider:      provider,
		Registry:      registry,
		Voices:        cfg.Voices,
		DataDir:       cfg.DataDir,
		Store:         st,
		Publisher:     a.bus,
		RatePerSecond: cfg.TTSRate,
		Logger:        logger,
	})
	return a, nil
}

func (a *app) engine() *debate.Engine {
	return debate.NewEngine(debate.Config{
		Store:     a.store,
		LLM:       a.llm,
		Registry:  a.registry,
		Models:    models.NewResolver(a.cfg.Model, a.cfg.AgentModels),
		TTS:       a.tts,
		Publisher: a.bus,
		DataDir:   a.cfg.DataDir,
		Logger:    a.logger,
	})
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}
