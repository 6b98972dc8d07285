package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/events"
)

func newAudioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audio <decision-id>",
		Short: "Synthesize (or re-synthesize) the audio of a decision's debate",
		Args:  cobra.ExactArgs(1),
		RunE:  runAudio,
	}
}

func runAudio(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if !a.tts.Enabled() {
		return fmt.Errorf("audio is not configured: set ELEVENLABS_API_KEY or OPENAI_API_KEY")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dec, err := a.store.GetDecision(ctx, args[0])
	if err != nil {
		return err
	}

	sub := a.bus.Subscribe(dec.ID)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub.C {
			switch p := ev.Payload.(type) {
			case events.Progress:
				a.printer.PrintProgress(p.Current, p.Total)
			case events.SegmentFailed:
				a.logger.Warn("audio segment failed", "index", p.Index, "agent", p.Agent, "error", p.Error)
			}
		}
	}()

	start := time.Now()
	m, err := a.tts.GenerateForDecision(ctx, dec.ID)
	sub.Close()
	wg.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("audio generation interrupted: %w", context.Cause(ctx))
		}
		return err
	}

	total := time.Duration(m.TotalDurationMS) * time.Millisecond
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d segments (%s of audio) in %s into %s\n",
		len(m.Segments), total.Round(time.Second), time.Since(start).Round(time.Millisecond), a.tts.AudioDir(dec.ID))
	return nil
}
