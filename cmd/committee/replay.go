package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorenzotomasdiez/committee/internal/playback"
)

var replaySpeeds = []float64{0.75, 1, 1.25, 1.5, 2}

const replayHelp = "controls: <enter> play/pause, n next, b previous, + faster, - slower, s <sec> seek in segment, g <sec> seek, j <n> jump to segment, q quit"

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <decision-id>",
		Short: "Replay a decision's debate audio from its manifest",
		Long:  "Replays the debate as one continuous timeline. Without --player the replay is silent and only keeps time; with --player every segment is handed to an external audio player.\n\n" + replayHelp,
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().Float64("speed", 1, "Playback speed (0.75, 1, 1.25, 1.5 or 2)")
	cmd.Flags().Duration("from", 0, "Start offset on the debate timeline, e.g. 1m30s")
	cmd.Flags().String("player", os.Getenv("COMMITTEE_PLAYER"), "Player command; {file}, {offset} and {speed} are substituted")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	speed, _ := cmd.Flags().GetFloat64("speed")
	from, _ := cmd.Flags().GetDuration("from")
	playerCmd, _ := cmd.Flags().GetString("player")

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	id := args[0]
	m, err := a.store.LoadManifest(ctx, id)
	if err != nil {
		return fmt.Errorf("no audio for %s (run `committee audio %s` first): %w", id, id, err)
	}

	loop := playback.NewLoop()
	defer loop.Close()

	var sink playback.Sink = playback.NewClockSink(loop)
	if playerCmd != "" {
		cs, err := playback.NewCommandSink(loop, playerCmd, a.logger)
		if err != nil {
			return err
		}
		sink = cs
	}
	player := playback.NewPlayer(sink, loop, a.logger)

	out := cmd.OutOrStdout()
	show := func() {
		st := player.Status()
		a.printer.PrintPlayer(st, m, time.Duration(st.PositionMS)*time.Millisecond)
	}

	done := make(chan struct{})
	var once sync.Once
	started := false
	player.OnChange(func(st playback.PlayerStatus) {
		show()
		if st.Playing {
			started = true
		}
		if started && !st.Playing && st.PositionMS >= st.DurationMS {
			once.Do(func() { close(done) })
		}
	})

	var startErr error
	loop.Call(func() {
		if startErr = player.Load(m, a.tts.AudioDir(id)); startErr != nil {
			return
		}
		if startErr = player.SetSpeed(speed); startErr != nil {
			return
		}
		if from > 0 {
			if startErr = player.SeekGlobal(from.Milliseconds()); startErr != nil {
				return
			}
		}
		startErr = player.PlayPause()
	})
	if startErr != nil {
		return startErr
	}
	fmt.Fprintln(out, replayHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	finish := func(msg string) error {
		loop.Call(player.Close)
		fmt.Fprintf(out, "\n%s\n", msg)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return finish("Replay stopped.")
		case <-done:
			return finish("Replay finished.")
		case <-ticker.C:
			loop.Call(show)
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if line == "q" {
				return finish("Replay stopped.")
			}
			var err error
			loop.Call(func() { err = control(player, line) })
			if err != nil {
				a.printer.PrintError(err.Error())
			}
		}
	}
}

// control applies one replay command line to the player.
func control(p *playback.Player, line string) error {
	verb, arg, _ := strings.Cut(line, " ")
	switch verb {
	case "", "p":
		return p.PlayPause()
	case "n":
		return p.Next()
	case "b":
		return p.Previous()
	case "+", "-":
		return p.SetSpeed(stepSpeed(p.Status().Speed, verb == "+"))
	case "s", "g":
		secs, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return fmt.Errorf("seek needs seconds: %q", arg)
		}
		ms := int64(secs * 1000)
		if verb == "s" {
			return p.SeekTo(ms)
		}
		return p.SeekGlobal(ms)
	case "j":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return fmt.Errorf("jump needs a segment number: %q", arg)
		}
		return p.SkipToSegment(n - 1)
	}
	return fmt.Errorf("unknown command %q; %s", line, replayHelp)
}

// stepSpeed returns the neighbouring supported speed, clamped at the ends.
func stepSpeed(cur float64, up bool) float64 {
	i := 0
	for j, s := range replaySpeeds {
		if s <= cur {
			i = j
		}
	}
	if up && i < len(replaySpeeds)-1 {
		i++
	} else if !up && i > 0 && replaySpeeds[i] >= cur {
		i--
	}
	return replaySpeeds[i]
}
