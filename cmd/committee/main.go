package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "committee",
		Short:         "Personal decision committee backed by LLM personas",
		Long:          "Runs a committee of personas that debate a decision over OpenRouter, synthesizes a recommendation, and narrates the debate with text-to-speech.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("api-key", "", "OpenRouter API key (overrides OPENROUTER_API_KEY env var)")
	root.PersistentFlags().String("model", "", "Default model for every agent (overrides COMMITTEE_MODEL)")
	root.PersistentFlags().String("data-dir", "data", "Directory holding the database, profiles, agents and audio")
	root.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")
	root.PersistentFlags().Bool("no-audio", false, "Disable text-to-speech even when a provider key is set")

	root.AddCommand(newDecisionCmd())
	root.AddCommand(newDebateCmd())
	root.AddCommand(newCancelCmd())
	root.AddCommand(newAudioCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newModelsCmd())
	root.AddCommand(newServeCmd())
	return root
}
