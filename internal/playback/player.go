package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// Speeds lists the playback rates a Player accepts.
var Speeds = []float64{0.75, 1, 1.25, 1.5, 2}

// restartThreshold is how far into a segment Previous restarts it instead
// of moving back.
const restartThreshold = 2 * time.Second

var (
	ErrEmptyManifest = errors.New("playback: manifest has no segments")
	ErrInvalidSpeed  = errors.New("playback: unsupported speed")
	ErrNoSegment     = errors.New("playback: segment out of range")
	ErrNotLoaded     = errors.New("playback: no manifest loaded")
)

// PlayerStatus is a snapshot of the replay player.
type PlayerStatus struct {
	Index      int     `json:"index"`
	Playing    bool    `json:"playing"`
	PositionMS int64   `json:"position_ms"`
	DurationMS int64   `json:"duration_ms"`
	Speed      float64 `json:"speed"`
}

// Player replays a persisted manifest as one continuous timeline. Like
// Queue, it must be driven from a single goroutine.
type Player struct {
	sink     Sink
	sched    Scheduler
	logger   *slog.Logger
	onChange func(PlayerStatus)

	manifest *domain.AudioManifest
	audioDir string

	cur       int
	offset    time.Duration
	playing   bool
	loaded    bool
	finished  bool
	speed     float64
	inGap     bool
	gapStart  time.Time
	gapDone   time.Duration
	cancelGap func() bool
	gen       int
}

// NewPlayer creates a player with nothing loaded.
func NewPlayer(sink Sink, sched Scheduler, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{sink: sink, sched: sched, logger: logger, speed: 1}
}

// OnChange registers the state callback.
func (p *Player) OnChange(f func(PlayerStatus)) { p.onChange = f }

// Load replaces the current manifest and parks the player, paused, at the
// start of the first segment.
func (p *Player) Load(m *domain.AudioManifest, audioDir string) error {
	if m == nil || len(m.Segments) == 0 {
		return ErrEmptyManifest
	}
	p.reset()
	p.manifest = m
	p.audioDir = audioDir
	p.emit()
	return nil
}

// PlayPause toggles playback. Playing after the end restarts from the top.
// Pausing between segments holds the position inside the gap.
func (p *Player) PlayPause() error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	if p.playing {
		p.playing = false
		if p.inGap {
			p.holdGap()
			p.emit()
			return nil
		}
		if p.loaded {
			p.sink.Pause()
		}
		p.emit()
		return nil
	}

	if p.finished {
		p.jump(0, 0)
	}
	p.playing = true
	if p.inGap {
		p.armGap()
		p.emit()
		return nil
	}
	if p.loaded {
		p.sink.Resume()
		p.emit()
		return nil
	}
	p.startCurrent()
	return nil
}

// SeekTo moves to ms within the current segment.
func (p *Player) SeekTo(ms int64) error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	seg := p.manifest.Segments[p.cur]
	ms = min(max(ms, 0), seg.DurationMS)
	p.jump(p.cur, time.Duration(ms)*time.Millisecond)
	return nil
}

// SeekGlobal moves to an offset on the whole manifest timeline. Offsets in
// a gap land at the start of the following segment.
func (p *Player) SeekGlobal(ms int64) error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	i := p.manifest.SegmentAt(ms)
	seg := p.manifest.Segments[i]
	within := min(max(ms-seg.StartMS, 0), seg.DurationMS)
	p.jump(i, time.Duration(within)*time.Millisecond)
	return nil
}

// SkipToSegment moves to the start of segment i.
func (p *Player) SkipToSegment(i int) error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	if i < 0 || i >= len(p.manifest.Segments) {
		return fmt.Errorf("%w: %d", ErrNoSegment, i)
	}
	p.jump(i, 0)
	return nil
}

// SetSpeed changes the playback rate.
func (p *Player) SetSpeed(x float64) error {
	if !slices.Contains(Speeds, x) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, x)
	}
	if p.inGap && p.cancelGap != nil {
		p.holdGap()
		p.speed = x
		p.armGap()
	}
	p.speed = x
	if p.loaded {
		p.sink.SetSpeed(x)
	}
	p.emit()
	return nil
}

// Next moves to the following segment; on the last one it does nothing.
func (p *Player) Next() error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	if p.cur+1 < len(p.manifest.Segments) {
		p.jump(p.cur+1, 0)
	}
	return nil
}

// Previous restarts the current segment when more than two seconds of it
// have played, otherwise moves to the one before.
func (p *Player) Previous() error {
	if p.manifest == nil {
		return ErrNotLoaded
	}
	if p.within() > restartThreshold || p.cur == 0 {
		p.jump(p.cur, 0)
		return nil
	}
	p.jump(p.cur-1, 0)
	return nil
}

// Position returns the global timeline position in milliseconds.
func (p *Player) Position() int64 {
	if p.manifest == nil {
		return 0
	}
	if p.finished {
		return p.manifest.TotalDurationMS
	}
	seg := p.manifest.Segments[p.cur]
	if p.inGap {
		end := seg.StartMS + seg.DurationMS
		limit := p.manifest.Segments[p.cur+1].StartMS
		return min(end+p.gapElapsed().Milliseconds(), limit)
	}
	return seg.StartMS + p.within().Milliseconds()
}

// Status returns the current state.
func (p *Player) Status() PlayerStatus {
	st := PlayerStatus{Index: p.cur, Playing: p.playing, Speed: p.speed, PositionMS: p.Position()}
	if p.manifest != nil {
		st.DurationMS = p.manifest.TotalDurationMS
	}
	return st
}

// Close stops playback and unloads the manifest.
func (p *Player) Close() {
	p.reset()
	p.manifest = nil
	p.audioDir = ""
}

func (p *Player) reset() {
	p.gen++
	p.stopGap()
	if p.loaded {
		p.sink.Stop()
	}
	p.cur = 0
	p.offset = 0
	p.playing = false
	p.loaded = false
	p.finished = false
}

func (p *Player) within() time.Duration {
	if p.loaded {
		return p.sink.Position()
	}
	return p.offset
}

func (p *Player) jump(i int, offset time.Duration) {
	p.gen++
	p.stopGap()
	if p.loaded {
		p.sink.Stop()
		p.loaded = false
	}
	p.finished = false
	p.cur = i
	p.offset = offset
	if p.playing {
		p.startCurrent()
		return
	}
	p.emit()
}

func (p *Player) startCurrent() {
	seg := p.manifest.Segments[p.cur]
	gen := p.gen
	path := filepath.Join(p.audioDir, seg.AudioFile)
	if err := p.sink.Start(path, seg.Duration(), p.offset, p.speed, func() { p.ended(gen) }); err != nil {
		p.logger.Warn("replay segment playback failed", "index", seg.Index, "file", seg.AudioFile, "error", err)
		p.playing = false
		p.loaded = false
		p.emit()
		return
	}
	p.loaded = true
	p.emit()
}

func (p *Player) ended(gen int) {
	if gen != p.gen || !p.loaded {
		return
	}
	p.loaded = false
	p.offset = 0

	if p.cur+1 >= len(p.manifest.Segments) {
		p.playing = false
		p.finished = true
		p.emit()
		return
	}

	p.inGap = true
	p.gapDone = 0
	p.armGap()
	p.emit()
}

// armGap schedules the move to the next segment once the unelapsed part of
// the current gap has played.
func (p *Player) armGap() {
	gap := domain.Gap(p.manifest.Segments[p.cur], p.manifest.Segments[p.cur+1])
	gen := p.gen
	p.gapStart = p.sched.Now()
	p.cancelGap = p.sched.AfterFunc(time.Duration(float64(gap-p.gapDone)/p.speed), func() {
		if gen != p.gen {
			return
		}
		p.cancelGap = nil
		p.inGap = false
		p.gapDone = 0
		p.cur++
		p.offset = 0
		if p.playing {
			p.startCurrent()
			return
		}
		p.emit()
	})
}

// holdGap freezes the gap clock, keeping the player inside the gap.
func (p *Player) holdGap() {
	p.gapDone = p.gapElapsed()
	if p.cancelGap != nil {
		p.cancelGap()
		p.cancelGap = nil
	}
}

// gapElapsed is the timeline time spent in the current gap.
func (p *Player) gapElapsed() time.Duration {
	d := p.gapDone
	if p.cancelGap != nil {
		d += time.Duration(float64(p.sched.Now().Sub(p.gapStart)) * p.speed)
	}
	return d
}

func (p *Player) stopGap() {
	if p.cancelGap != nil {
		p.cancelGap()
		p.cancelGap = nil
	}
	p.inGap = false
	p.gapDone = 0
}

func (p *Player) emit() {
	if p.onChange != nil {
		p.onChange(p.Status())
	}
}
