package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/agents"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List or add committee members",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List committee members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			a.printer.PrintAgents(a.registry.All())
			return nil
		},
	})
	cmd.AddCommand(newAgentsAddCmd())
	return cmd
}

func newAgentsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add a custom debater to <data-dir>/agents.yaml",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentsAdd,
	}
	cmd.Flags().String("label", "", "Display name (required)")
	cmd.Flags().String("prompt", "", "System prompt")
	cmd.Flags().String("prompt-file", "", "Read the system prompt from a file")
	cmd.Flags().String("emoji", "", "Emoji shown next to the label")
	cmd.Flags().String("color", "", "Hex color, e.g. #10B981")
	cmd.Flags().String("voice", "male", "Voice gender: male or female")
	cmd.MarkFlagRequired("label")
	return cmd
}

func runAgentsAdd(cmd *cobra.Command, args []string) error {
	label, _ := cmd.Flags().GetString("label")
	prompt, _ := cmd.Flags().GetString("prompt")
	promptFile, _ := cmd.Flags().GetString("prompt-file")
	emoji, _ := cmd.Flags().GetString("emoji")
	color, _ := cmd.Flags().GetString("color")
	voice, _ := cmd.Flags().GetString("voice")

	if promptFile != "" {
		b, err := os.ReadFile(promptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		prompt = string(b)
	}

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	added, err := a.registry.Add(agents.Agent{
		Key:         args[0],
		Label:       label,
		Prompt:      prompt,
		Emoji:       emoji,
		Color:       color,
		VoiceGender: voice,
	})
	if err != nil {
		return err
	}
	a.printer.PrintAgents([]agents.Agent{added})
	return nil
}
