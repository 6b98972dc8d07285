package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/output"
	"github.com/lorenzotomasdiez/committee/internal/session"
)

func newDebateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debate <decision-id>",
		Short: "Run the committee debate on a decision",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebate,
	}
	cmd.Flags().Bool("quick", false, "Quick mode: opening statements then the moderator")
	cmd.Flags().StringSlice("agents", nil, "Debater keys to seat (default: every debater)")
	cmd.Flags().String("output-dir", "", "Also export transcript.json, report.md and debate.log under this directory")
	cmd.Flags().String("name", "", "Override output folder name (default: auto-slug from title)")
	return cmd
}

func runDebate(cmd *cobra.Command, args []string) error {
	quick, _ := cmd.Flags().GetBool("quick")
	agentKeys, _ := cmd.Flags().GetStringSlice("agents")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	name, _ := cmd.Flags().GetString("name")

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Ctrl+C cancels the run; the decision reverts to its previous status.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dec, err := a.store.GetDecision(ctx, args[0])
	if err != nil {
		return err
	}
	debaters, err := a.registry.Debaters(agentKeys)
	if err != nil {
		return err
	}
	keys := make([]string, len(debaters))
	for i, d := range debaters {
		keys[i] = d.Key
	}

	var writer *output.Writer
	if outputDir != "" {
		slug := name
		if slug == "" {
			slug = output.GenerateSlug(dec.Title)
		}
		dir, err := output.CreateOutputDir(outputDir, slug)
		if err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		writer = output.NewWriter(dir)
	}
	logLine := func(msg string) {
		if writer != nil {
			writer.Log(msg)
		}
	}

	a.printer.Started(dec, keys, quick)
	if a.tts.Enabled() {
		sub := a.bus.Subscribe(dec.ID)
		defer sub.Close()
		go logAudio(sub, logLine)
	}

	view, settled := openView(a, dec.ID)
	engine := a.engine()
	engine.OnTurn = func(turn domain.DebateTurn) {
		logLine(fmt.Sprintf("[%s] %s: %s", debate.RoundHeader(turn.Round, turn.Exchange), a.registry.Label(turn.Agent), turn.Content))
	}

	res, err := engine.Run(ctx, dec.ID, debate.Options{QuickMode: quick, Agents: keys})
	// a run refused before it started publishes nothing to wait for
	if !errors.Is(err, debate.ErrDebateActive) && !errors.Is(err, domain.ErrInvalidTransition) {
		select {
		case <-settled:
		case <-cmd.Context().Done():
		case <-time.After(viewSettleTimeout):
			a.logger.Warn("transcript view did not settle", "decision_id", dec.ID)
		}
	}
	view.Close()
	a.printer.EndStream()
	if errors.Is(err, debate.ErrCancelled) {
		logLine("debate cancelled")
		fmt.Fprintln(cmd.OutOrStdout(), "\nDebate cancelled.")
		return nil
	}
	if err != nil {
		a.printer.PrintError(err.Error())
		logLine("debate failed: " + err.Error())
		return fmt.Errorf("debate: %w", err)
	}

	a.printer.Banner("Recommendation")
	a.printer.PrintSummary(res.Summary)
	if res.Manifest != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nAudio: %d segments. Replay with: committee replay %s\n", len(res.Manifest.Segments), dec.ID)
	}

	if writer == nil {
		return nil
	}
	if err := exportRun(context.WithoutCancel(ctx), a, writer, dec.ID, res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nDebate complete. Output saved to: %s\n", writer.Dir())
	return nil
}

// viewSettleTimeout bounds the wait for the transcript view to catch up
// once the engine has returned.
const viewSettleTimeout = 5 * time.Second

// openView renders the run through a session view paced by the configured
// reveal mode. The returned channel closes once the finished run is fully
// revealed.
func openView(a *app, decisionID string) (*session.View, <-chan struct{}) {
	settled := make(chan struct{})
	var once sync.Once
	view := session.Open(a.bus, decisionID, session.Options{
		Mode:   a.cfg.Reveal(a.tts.Enabled()),
		Tick:   a.cfg.RevealTick,
		Logger: a.logger,
		OnUpdate: func(s session.Snapshot) {
			a.printer.Reveal(s.Transcript, s.Live)
			if s.Settled {
				once.Do(func() { close(settled) })
			}
		},
	})
	return view, settled
}

func exportRun(ctx context.Context, a *app, writer *output.Writer, decisionID string, res *debate.Result) error {
	dec, err := a.store.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	turns, err := a.store.LoadTurns(ctx, decisionID)
	if err != nil {
		return err
	}
	t := &output.Transcript{Decision: dec, RunID: res.RunID, Turns: turns, Summary: res.Summary, Manifest: res.Manifest}
	if err := writer.WriteJSON(t); err != nil {
		return fmt.Errorf("writing JSON: %w", err)
	}
	if err := writer.WriteMarkdown(t, a.registry.Label); err != nil {
		return fmt.Errorf("writing markdown: %w", err)
	}
	if err := writer.WriteLog(); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	return nil
}

func logAudio(sub *events.Subscription, logLine func(string)) {
	for ev := range sub.C {
		switch p := ev.Payload.(type) {
		case events.SegmentReady:
			logLine(fmt.Sprintf("audio segment %d ready (%s, %dms)", p.Segment.Index, p.Segment.Agent, p.Segment.DurationMS))
		case events.SegmentFailed:
			logLine(fmt.Sprintf("audio segment %d failed (%s): %s", p.Index, p.Agent, p.Error))
		}
	}
}
