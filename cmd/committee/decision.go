package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

func newDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Create and inspect decisions",
	}
	cmd.AddCommand(
		newDecisionNewCmd(),
		newDecisionShowCmd(),
		newDecisionListCmd(),
		newDecisionSummaryCmd(),
		newDecisionDecideCmd(),
		newDecisionReviewCmd(),
		newDecisionReopenCmd(),
	)
	return cmd
}

func newDecisionNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create a decision, optionally with conversation context",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDecisionNew,
	}
	cmd.Flags().StringArrayP("message", "m", nil, "Context message from you (repeatable)")
	return cmd
}

func runDecisionNew(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	messages, _ := cmd.Flags().GetStringArray("message")

	ctx := cmd.Context()
	convID := uuid.NewString()
	dec, err := a.store.CreateDecision(ctx, title, convID)
	if err != nil {
		return fmt.Errorf("creating decision: %w", err)
	}
	for _, m := range messages {
		if _, err := a.store.AddMessage(ctx, convID, "user", m); err != nil {
			return fmt.Errorf("adding message: %w", err)
		}
	}
	a.printer.PrintDecision(dec)
	return nil
}

func newDecisionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a decision, its recommendation and its debate transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecisionShow,
	}
	cmd.Flags().Bool("brief", false, "Also print the brief the committee received")
	return cmd
}

func runDecisionShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	dec, err := a.store.GetDecision(ctx, args[0])
	if err != nil {
		return err
	}
	a.printer.PrintDecision(dec)

	if brief, _ := cmd.Flags().GetBool("brief"); brief && dec.DebateBrief != "" {
		a.printer.Banner("Brief")
		fmt.Fprintln(cmd.OutOrStdout(), dec.DebateBrief)
	}

	turns, err := a.store.LoadTurns(ctx, dec.ID)
	if err != nil {
		return err
	}
	if len(turns) > 0 {
		a.printer.PrintTranscript(turns)
	}
	if s := dec.Summary(); s.Recommendation != nil || s.DebateSummary != nil {
		a.printer.Banner("Recommendation")
		a.printer.PrintSummary(s)
	}
	return nil
}

func newDecisionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ds, err := a.store.ListDecisions(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.PrintDecisions(ds)
			return nil
		},
	}
}

func newDecisionSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Merge a JSON summary update (options, variables, pros/cons) into a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading summary: %w", err)
			}
			var update domain.Summary
			if err := json.Unmarshal(raw, &update); err != nil {
				return fmt.Errorf("parsing summary: %w", err)
			}

			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			dec, err := a.store.MergeDecisionSummary(cmd.Context(), args[0], &update)
			if err != nil {
				return err
			}
			a.printer.PrintDecision(dec)
			a.printer.PrintSummary(dec.Summary())
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "JSON file with the summary update")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newDecisionDecideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Record the option you chose",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, _ := cmd.Flags().GetString("choice")
			reasoning, _ := cmd.Flags().GetString("reasoning")
			fields := &domain.StatusFields{UserChoice: &choice}
			if cmd.Flags().Changed("reasoning") {
				fields.UserChoiceReasoning = &reasoning
			}
			return setDecisionStatus(cmd, args[0], domain.StatusDecided, fields)
		},
	}
	cmd.Flags().String("choice", "", "The option you chose")
	cmd.Flags().String("reasoning", "", "Why you chose it")
	cmd.MarkFlagRequired("choice")
	return cmd
}

func newDecisionReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Record how a decided choice turned out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, _ := cmd.Flags().GetString("outcome")
			return setDecisionStatus(cmd, args[0], domain.StatusReviewed, &domain.StatusFields{Outcome: &outcome})
		},
	}
	cmd.Flags().String("outcome", "", "What happened after the decision")
	cmd.MarkFlagRequired("outcome")
	return cmd
}

func newDecisionReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Move a decided or reviewed decision back to exploring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setDecisionStatus(cmd, args[0], domain.StatusExploring, nil)
		},
	}
}

func setDecisionStatus(cmd *cobra.Command, id string, status domain.Status, fields *domain.StatusFields) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.store.UpdateDecisionStatus(ctx, id, status, fields); err != nil {
		return err
	}
	dec, err := a.store.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	a.printer.PrintDecision(dec)
	return nil
}
