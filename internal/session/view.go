// Package session binds the live audio queue and the reveal synchronizer to
// the event stream of the decision being viewed.
package session

import (
	"log/slog"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/playback"
	"github.com/lorenzotomasdiez/committee/internal/reveal"
)

// Phase is where the viewed debate run stands.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
	PhaseFailed    Phase = "failed"
)

// Subscriber hands out per-decision event subscriptions.
type Subscriber interface {
	Subscribe(decisionID string) *events.Subscription
}

// Options configures a View.
type Options struct {
	Mode reveal.Mode
	Tick time.Duration
	// Scheduler drives the queue and reveal timers. Nil uses the view's
	// own loop.
	Scheduler playback.Scheduler
	// Sink builds the audio output. Nil uses a silent ClockSink.
	Sink     func(playback.Scheduler) playback.Sink
	Logger   *slog.Logger
	OnUpdate func(Snapshot)
}

// Snapshot is the renderable state of a View.
type Snapshot struct {
	DecisionID string                `json:"decision_id"`
	Phase      Phase                 `json:"phase"`
	Error      string                `json:"error,omitempty"`
	Transcript []reveal.Entry        `json:"transcript"`
	Live       []reveal.Live         `json:"live"`
	Queue      playback.QueueStatus  `json:"queue"`
	Progress   events.Progress       `json:"progress"`
	Summary    *domain.Summary       `json:"summary,omitempty"`
	Manifest   *domain.AudioManifest `json:"manifest,omitempty"`
	// Settled is set once a finished run has nothing left to reveal.
	Settled bool `json:"settled"`
}

// View owns every piece of live state for one viewed decision. All state
// changes happen on its loop goroutine.
type View struct {
	bus      Subscriber
	logger   *slog.Logger
	onUpdate func(Snapshot)

	loop  *playback.Loop
	sched playback.Scheduler
	queue *playback.Queue
	sync  *reveal.Synchronizer

	decisionID string
	sub        *events.Subscription
	gen        int
	epoch      int

	phase     Phase
	err       string
	progress  events.Progress
	summary   *domain.Summary
	manifest  *domain.AudioManifest
	stopTick  func() bool
	stopFlush func() bool
}

// Open creates a view subscribed to decisionID.
func Open(bus Subscriber, decisionID string, opts Options) *View {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		bus:      bus,
		logger:   logger.With("component", "session"),
		onUpdate: opts.OnUpdate,
		loop:     playback.NewLoop(),
		phase:    PhaseIdle,
	}
	v.sched = opts.Scheduler
	if v.sched == nil {
		v.sched = v.loop
	}
	var sink playback.Sink
	if opts.Sink != nil {
		sink = opts.Sink(v.sched)
	} else {
		sink = playback.NewClockSink(v.sched)
	}
	v.queue = playback.NewQueue(sink, v.sched, v.logger)
	v.queue.OnChange(v.queueChanged)
	v.sync = reveal.New(opts.Mode, opts.Tick)

	v.loop.Call(func() { v.attach(decisionID) })
	return v
}

// DecisionID returns the decision being viewed.
func (v *View) DecisionID() string {
	var id string
	v.loop.Call(func() { id = v.decisionID })
	return id
}

// Switch moves the view to another decision, dropping all live state.
func (v *View) Switch(decisionID string) {
	v.loop.Call(func() {
		v.detach()
		v.resetLive()
		v.phase = PhaseIdle
		v.err = ""
		v.summary = nil
		v.manifest = nil
		v.attach(decisionID)
		v.notify()
	})
}

// Seed commits already persisted turns to the transcript, for a decision
// whose debate ran before the view opened.
func (v *View) Seed(turns []domain.DebateTurn) {
	v.loop.Call(func() {
		for _, t := range turns {
			v.sync.Response(t.Slot(), t.Content)
		}
		v.sync.FlushPending()
		v.notify()
	})
}

// Snapshot returns the current state.
func (v *View) Snapshot() Snapshot {
	var s Snapshot
	v.loop.Call(func() { s = v.snapshot() })
	return s
}

// TogglePause pauses or resumes live audio.
func (v *View) TogglePause() { v.loop.Call(v.queue.TogglePause) }

// Stop halts live audio until the next run.
func (v *View) Stop() { v.loop.Call(v.queue.Stop) }

// Skip moves live audio to the next segment.
func (v *View) Skip() { v.loop.Call(v.queue.Skip) }

// Close unsubscribes and stops the loop.
func (v *View) Close() {
	v.loop.Call(func() {
		v.detach()
		v.queue.Stop()
		v.cancelTimers()
	})
	v.loop.Close()
}

func (v *View) attach(decisionID string) {
	v.gen++
	v.decisionID = decisionID
	v.sub = v.bus.Subscribe(decisionID)
	go v.pump(v.sub, v.gen)
}

func (v *View) detach() {
	if v.sub != nil {
		v.sub.Close()
		v.sub = nil
	}
	v.gen++
}

func (v *View) pump(sub *events.Subscription, gen int) {
	for ev := range sub.C {
		v.loop.Post(func() {
			if gen == v.gen {
				v.handle(ev)
			}
		})
	}
}

func (v *View) handle(ev events.Event) {
	if ev.DecisionID != v.decisionID {
		return
	}
	switch p := ev.Payload.(type) {
	case events.Started:
		v.resetLive()
		v.phase = PhaseRunning
		v.err = ""
		v.manifest = nil
		v.logger.Debug("debate started", "decision_id", ev.DecisionID, "run_id", p.RunID)
	case events.Token:
		v.sync.Token(p.Slot(), p.Token)
	case events.Response:
		v.sync.Response(p.Slot(), p.Content)
	case events.SummaryUpdated:
		v.summary = p.Summary
	case events.SegmentReady:
		v.queue.SegmentReady(p.Segment, p.AudioDir)
	case events.SegmentFailed:
		v.logger.Warn("segment audio failed", "decision_id", ev.DecisionID, "index", p.Index, "agent", p.Agent, "error", p.Error)
	case events.Progress:
		v.progress = p
	case events.AudioComplete:
		v.manifest = p.Manifest
	}

	switch ev.Type {
	case events.DebateComplete:
		v.runEnded(PhaseCompleted, "")
	case events.DebateCancelled:
		v.runEnded(PhaseCancelled, "")
	case events.DebateError:
		msg := ""
		if f, ok := ev.Payload.(events.Failure); ok {
			msg = f.Error
		}
		v.runEnded(PhaseFailed, msg)
	}

	v.ensureTicking()
	v.notify()
}

func (v *View) runEnded(phase Phase, msg string) {
	v.phase = phase
	v.err = msg
	grace := v.sync.RunEnded()
	if v.stopFlush != nil {
		v.stopFlush()
	}
	if grace <= 0 {
		v.stopFlush = nil
		v.sync.FlushPending()
		return
	}
	epoch := v.epoch
	v.stopFlush = v.sched.AfterFunc(grace, func() {
		if epoch != v.epoch {
			return
		}
		v.stopFlush = nil
		if n := v.sync.FlushPending(); n > 0 {
			v.logger.Debug("flushed turns without audio", "decision_id", v.decisionID, "count", n)
		}
		v.notify()
	})
}

func (v *View) queueChanged(c playback.QueueChange) {
	if c.Started != nil {
		v.sync.SegmentStarted(*c.Started)
	}
	v.sync.SetPlaying(c.Status.Playing)
	v.ensureTicking()
	v.notify()
}

func (v *View) ensureTicking() {
	if v.stopTick != nil || !v.sync.Revealing() {
		return
	}
	epoch := v.epoch
	v.stopTick = v.sched.AfterFunc(v.sync.TickInterval(), func() {
		if epoch != v.epoch {
			return
		}
		v.stopTick = nil
		changed := v.sync.Step()
		v.ensureTicking()
		if changed {
			v.notify()
		}
	})
}

func (v *View) resetLive() {
	v.cancelTimers()
	v.epoch++
	v.sync.Reset()
	v.queue.Reset()
	v.progress = events.Progress{}
}

func (v *View) cancelTimers() {
	if v.stopTick != nil {
		v.stopTick()
		v.stopTick = nil
	}
	if v.stopFlush != nil {
		v.stopFlush()
		v.stopFlush = nil
	}
}

func (v *View) snapshot() Snapshot {
	return Snapshot{
		DecisionID: v.decisionID,
		Phase:      v.phase,
		Error:      v.err,
		Settled:    v.settled(),
		Transcript: v.sync.Transcript(),
		Live:       v.sync.Live(),
		Queue:      v.queue.Status(),
		Progress:   v.progress,
		Summary:    v.summary,
		Manifest:   v.manifest,
	}
}

func (v *View) settled() bool {
	switch v.phase {
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return v.stopFlush == nil && !v.sync.Revealing() && v.sync.Pending() == 0
	}
	return false
}

func (v *View) notify() {
	if v.onUpdate != nil {
		v.onUpdate(v.snapshot())
	}
}
