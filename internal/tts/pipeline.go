package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
)

// bytesPerSecond approximates a 128 kbps constant-bitrate MP3.
const bytesPerSecond = 16000

// ManifestFile is the on-disk mirror of a decision's manifest.
const ManifestFile = "manifest.json"

var (
	// ErrDisabled is returned when no provider is configured.
	ErrDisabled = errors.New("audio generation is not configured")
	// ErrNoSegments is returned when every segment failed.
	ErrNoSegments = errors.New("no audio segments were generated")
)

// Store is the persistence the pipeline needs.
type Store interface {
	LoadTurns(ctx context.Context, decisionID string) ([]domain.DebateTurn, error)
	SaveManifest(ctx context.Context, m *domain.AudioManifest) error
	DeleteManifest(ctx context.Context, decisionID string) error
}

// Config wires a Pipeline.
type Config struct {
	Provider  Provider
	Registry  *agents.Registry
	Voices    map[string]string
	DataDir   string
	Store     Store
	Publisher events.Publisher
	// RatePerSecond bounds provider calls; zero means unlimited.
	RatePerSecond float64
	Logger        *slog.Logger
}

// Pipeline synthesizes debate turns, one at a time, into MP3 files under
// <DataDir>/debates/<decision>/.
type Pipeline struct {
	provider Provider
	registry *agents.Registry
	voices   map[string]string
	dataDir  string
	store    Store
	bus      events.Publisher
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		provider: cfg.Provider,
		registry: cfg.Registry,
		voices:   cfg.Voices,
		dataDir:  cfg.DataDir,
		store:    cfg.Store,
		bus:      cfg.Publisher,
		logger:   cfg.Logger,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if cfg.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	if p.registry == nil {
		p.registry = agents.NewRegistry()
	}
	if p.bus == nil {
		p.bus = events.Discard
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Enabled reports whether a provider is configured.
func (p *Pipeline) Enabled() bool {
	return p != nil && p.provider != nil
}

// AudioDir returns the directory holding a decision's audio.
func (p *Pipeline) AudioDir(decisionID string) string {
	return filepath.Join(p.dataDir, "debates", decisionID)
}

// SegmentFileName returns the file name of the segment at index.
func SegmentFileName(index int, agent string, round int) string {
	return fmt.Sprintf("%03d_%s_r%d.mp3", index+1, agent, round)
}

// EstimateDuration derives a duration in milliseconds from an MP3 size.
func EstimateDuration(size int64) int64 {
	return size * 1000 / bytesPerSecond
}

func (p *Pipeline) voiceFor(agentKey string) Voice {
	gender := "male"
	if a, ok := p.registry.Get(agentKey); ok && a.VoiceGender != "" {
		gender = a.VoiceGender
	}
	v := p.provider.DefaultVoice(agentKey, gender)
	if id, ok := p.voices[agentKey]; ok && id != "" {
		v.ID = id
	}
	return v
}

// GenerateForTurn synthesizes one turn as the segment at index.
func (p *Pipeline) GenerateForTurn(ctx context.Context, decisionID string, index int, turn domain.DebateTurn) (domain.AudioSegment, error) {
	if !p.Enabled() {
		return domain.AudioSegment{}, fmt.Errorf("tts: %w", ErrDisabled)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.AudioSegment{}, fmt.Errorf("tts: %w", err)
	}

	dir := p.AudioDir(decisionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.AudioSegment{}, fmt.Errorf("tts: create audio dir: %w", err)
	}

	audio, err := p.provider.Synthesize(ctx, SpokenText(turn.Content), p.voiceFor(turn.Agent))
	if err != nil {
		return domain.AudioSegment{}, err
	}

	name := SegmentFileName(index, turn.Agent, turn.Round)
	if err := os.WriteFile(filepath.Join(dir, name), audio, 0o644); err != nil {
		return domain.AudioSegment{}, fmt.Errorf("tts: write audio file: %w", err)
	}

	return domain.AudioSegment{
		Index:      index,
		Agent:      turn.Agent,
		Round:      turn.Round,
		Exchange:   turn.Exchange,
		Text:       turn.Content,
		AudioFile:  name,
		DurationMS: EstimateDuration(int64(len(audio))),
	}, nil
}

// GenerateForDecision synthesizes every turn of the decision's current run
// and replaces its manifest. Failed segments are reported and skipped; the
// call fails only when none succeed.
func (p *Pipeline) GenerateForDecision(ctx context.Context, decisionID string) (*domain.AudioManifest, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("tts: %w", ErrDisabled)
	}
	turns, err := p.store.LoadTurns(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("tts: decision %s has no debate turns", decisionID)
	}

	if err := p.clearAudio(ctx, decisionID); err != nil {
		return nil, err
	}

	var segments []domain.AudioSegment
	for i, turn := range turns {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
		seg, err := p.GenerateForTurn(ctx, decisionID, i, turn)
		if err != nil {
			p.logger.Warn("tts: segment failed", "decision_id", decisionID, "index", i, "agent", turn.Agent, "error", err)
			p.bus.Publish(events.Event{
				Type:       events.AudioGenerationError,
				DecisionID: decisionID,
				Payload:    events.SegmentFailed{Index: i, Agent: turn.Agent, Error: err.Error()},
			})
		} else {
			segments = append(segments, seg)
		}
		p.bus.Publish(events.Event{
			Type:       events.AudioGenerationProgress,
			DecisionID: decisionID,
			Payload:    events.Progress{Current: i + 1, Total: len(turns), Agent: turn.Agent},
		})
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("tts: %w", ErrNoSegments)
	}
	return p.finalize(ctx, decisionID, segments)
}

// clearAudio drops a decision's previous audio: the stored manifest, its
// disk mirror and every segment file.
func (p *Pipeline) clearAudio(ctx context.Context, decisionID string) error {
	if err := p.store.DeleteManifest(ctx, decisionID); err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	dir := p.AudioDir(decisionID)
	matches, err := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	for _, m := range append(matches, filepath.Join(dir, ManifestFile)) {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("tts: remove stale audio: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, decisionID string, segments []domain.AudioSegment) (*domain.AudioManifest, error) {
	m := domain.BuildManifest(decisionID, segments)
	if err := p.store.SaveManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tts: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.AudioDir(decisionID), ManifestFile), b, 0o644); err != nil {
		p.logger.Warn("tts: could not mirror manifest to disk", "decision_id", decisionID, "error", err)
	}

	p.bus.Publish(events.Event{
		Type:       events.AudioGenerationComplete,
		DecisionID: decisionID,
		Payload:    events.AudioComplete{Manifest: m},
	})
	p.logger.Info("tts: manifest saved", "decision_id", decisionID, "segments", len(m.Segments), "total_ms", m.TotalDurationMS)
	return m, nil
}

// LiveRun synthesizes turns as a debate produces them. Enqueue never blocks;
// a single worker processes segments in index order.
type LiveRun struct {
	p          *Pipeline
	ctx        context.Context
	decisionID string

	mu       sync.Mutex
	queue    []liveItem
	next     int
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	finished sync.Once
	result   *domain.AudioManifest
	err      error

	segments  []domain.AudioSegment
	processed int
}

type liveItem struct {
	index int
	turn  domain.DebateTurn
}

// StartLive begins a live run for a decision. It returns nil when the
// pipeline is disabled; a nil *LiveRun accepts Enqueue and Finish as no-ops.
func (p *Pipeline) StartLive(ctx context.Context, decisionID string) *LiveRun {
	if !p.Enabled() {
		return nil
	}
	if err := p.clearAudio(ctx, decisionID); err != nil {
		p.logger.Warn("tts: could not clear previous audio", "decision_id", decisionID, "error", err)
	}
	r := &LiveRun{
		p:          p,
		ctx:        ctx,
		decisionID: decisionID,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go r.work()
	return r
}

// Enqueue assigns the next global segment index to turn and schedules it.
// It returns the assigned index, or -1 when the run is nil or finished.
func (r *LiveRun) Enqueue(turn domain.DebateTurn) int {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return -1
	}
	idx := r.next
	r.next++
	r.queue = append(r.queue, liveItem{index: idx, turn: turn})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return idx
}

func (r *LiveRun) pop() (liveItem, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) > 0 {
		item := r.queue[0]
		r.queue = r.queue[1:]
		return item, true, false
	}
	return liveItem{}, false, r.closed
}

func (r *LiveRun) work() {
	defer close(r.done)
	for {
		item, ok, closed := r.pop()
		if !ok {
			if closed {
				return
			}
			<-r.wake
			continue
		}
		r.process(item)
	}
}

func (r *LiveRun) process(item liveItem) {
	p := r.p
	seg, err := p.GenerateForTurn(r.ctx, r.decisionID, item.index, item.turn)

	r.mu.Lock()
	r.processed++
	current, total := r.processed, r.next
	if err == nil {
		r.segments = append(r.segments, seg)
	}
	r.mu.Unlock()

	if err != nil {
		p.logger.Warn("tts: live segment failed", "decision_id", r.decisionID, "index", item.index, "agent", item.turn.Agent, "error", err)
		p.bus.Publish(events.Event{
			Type:       events.SegmentAudioError,
			DecisionID: r.decisionID,
			Payload:    events.SegmentFailed{Index: item.index, Agent: item.turn.Agent, Error: err.Error()},
		})
	} else {
		p.bus.Publish(events.Event{
			Type:       events.SegmentAudioReady,
			DecisionID: r.decisionID,
			Payload:    events.SegmentReady{Segment: seg, AudioDir: p.AudioDir(r.decisionID)},
		})
	}
	p.bus.Publish(events.Event{
		Type:       events.AudioGenerationProgress,
		DecisionID: r.decisionID,
		Payload:    events.Progress{Current: current, Total: total, Agent: item.turn.Agent},
	})
}

// Finish stops accepting turns, waits for queued segments, and saves the
// manifest of the successful ones. It is safe to call more than once; later
// calls return the first result. A run with nothing enqueued returns nil.
func (r *LiveRun) Finish() (*domain.AudioManifest, error) {
	if r == nil {
		return nil, nil
	}
	r.finished.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		select {
		case r.wake <- struct{}{}:
		default:
		}
		<-r.done

		r.mu.Lock()
		segments, enqueued := r.segments, r.next
		r.mu.Unlock()

		switch {
		case enqueued == 0:
		case len(segments) == 0:
			r.err = fmt.Errorf("tts: %w", ErrNoSegments)
		default:
			r.result, r.err = r.p.finalize(context.WithoutCancel(r.ctx), r.decisionID, segments)
		}
	})
	return r.result, r.err
}
