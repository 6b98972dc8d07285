package playback

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// QueueStatus is a snapshot of the live queue.
type QueueStatus struct {
	// Next is the index that plays next, or is playing now.
	Next       int  `json:"next_index"`
	Playing    bool `json:"is_playing"`
	UserPaused bool `json:"user_paused"`
	Ready      int  `json:"ready"`
}

// QueueChange is delivered to the OnChange callback after every state
// transition. Started is set when a segment has just begun playing.
type QueueChange struct {
	Status  QueueStatus
	Started *domain.AudioSegment
}

type readySegment struct {
	segment domain.AudioSegment
	path    string
}

// Queue plays live segments strictly in index order as they become ready.
// It is not safe for concurrent use; drive it from the Loop that owns its
// Sink's Scheduler.
type Queue struct {
	sink     Sink
	sched    Scheduler
	logger   *slog.Logger
	onChange func(QueueChange)

	next       int
	ready      map[int]readySegment
	playing    bool
	userPaused bool
	loaded     bool
	current    *domain.AudioSegment
	cancelGap  func() bool
	gen        int

	// last finished segment and when it ended, for the inter-speaker gap.
	last    *domain.AudioSegment
	endedAt time.Time
}

// NewQueue creates an empty queue.
func NewQueue(sink Sink, sched Scheduler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sink:   sink,
		sched:  sched,
		logger: logger,
		ready:  make(map[int]readySegment),
	}
}

// OnChange registers the state callback.
func (q *Queue) OnChange(f func(QueueChange)) { q.onChange = f }

// Status returns the current state.
func (q *Queue) Status() QueueStatus {
	return QueueStatus{
		Next:       q.next,
		Playing:    q.playing,
		UserPaused: q.userPaused,
		Ready:      len(q.ready),
	}
}

// SegmentReady records a synthesized segment. Segments may arrive in any
// order; one whose index has already been played past is ignored.
func (q *Queue) SegmentReady(seg domain.AudioSegment, audioDir string) {
	if seg.Index < q.next {
		return
	}
	q.ready[seg.Index] = readySegment{segment: seg, path: filepath.Join(audioDir, seg.AudioFile)}
	if seg.Index == q.next && !q.playing && !q.userPaused && !q.loaded {
		q.playAfterGap()
		return
	}
	q.emit(nil)
}

// TogglePause pauses playback, or resumes it: the loaded segment continues
// or, if none is loaded, the next index plays when ready.
func (q *Queue) TogglePause() {
	if !q.userPaused {
		q.userPaused = true
		q.stopGap()
		if q.playing {
			q.sink.Pause()
			q.playing = false
		}
		q.emit(nil)
		return
	}

	q.userPaused = false
	if q.loaded {
		q.sink.Resume()
		q.playing = true
		q.emit(nil)
		return
	}
	q.tryPlay()
}

// Stop tears down the current source and holds the queue paused until it
// is resumed or reset.
func (q *Queue) Stop() {
	q.stopGap()
	q.unload()
	q.userPaused = true
	q.emit(nil)
}

// Skip abandons the current index and moves to the next one.
func (q *Queue) Skip() {
	q.stopGap()
	q.unload()
	delete(q.ready, q.next)
	q.next++
	if q.userPaused {
		q.emit(nil)
		return
	}
	q.tryPlay()
}

// Reset returns the queue to its initial state for a fresh run.
func (q *Queue) Reset() {
	q.gen++
	q.stopGap()
	q.unload()
	q.next = 0
	q.ready = make(map[int]readySegment)
	q.userPaused = false
	q.last = nil
	q.emit(nil)
}

func (q *Queue) tryPlay() {
	rs, ok := q.ready[q.next]
	if !ok {
		q.emit(nil)
		return
	}
	gen := q.gen
	seg := rs.segment
	err := q.sink.Start(rs.path, seg.Duration(), 0, 1, func() { q.ended(gen) })
	if err != nil {
		q.logger.Warn("live segment playback failed", "index", seg.Index, "agent", seg.Agent, "error", err)
		q.playing = false
		q.loaded = false
		q.current = nil
		q.emit(nil)
		return
	}
	q.playing = true
	q.loaded = true
	q.current = &seg
	q.emit(&seg)
}

func (q *Queue) ended(gen int) {
	if gen != q.gen || !q.loaded {
		return
	}
	q.last = q.current
	q.endedAt = q.sched.Now()
	q.playing = false
	q.loaded = false
	q.current = nil
	delete(q.ready, q.next)
	q.next++
	q.playAfterGap()
}

// playAfterGap plays the next index once the gap after the last finished
// segment has passed. The gap is measured from when that segment ended and
// is recomputed when the next segment arrives, so a late segment from a new
// round still gets the round gap.
func (q *Queue) playAfterGap() {
	q.stopGap()
	if q.last == nil {
		q.tryPlay()
		return
	}
	delay := domain.SpeakerGap
	if rs, ok := q.ready[q.next]; ok {
		delay = domain.Gap(*q.last, rs.segment)
	}
	wait := delay - q.sched.Now().Sub(q.endedAt)
	if wait <= 0 {
		q.tryPlay()
		return
	}
	gen := q.gen
	q.cancelGap = q.sched.AfterFunc(wait, func() {
		if gen != q.gen {
			return
		}
		q.cancelGap = nil
		if !q.userPaused && !q.loaded {
			q.tryPlay()
		}
	})
	q.emit(nil)
}

func (q *Queue) unload() {
	if q.loaded {
		q.sink.Stop()
	}
	q.playing = false
	q.loaded = false
	q.current = nil
}

func (q *Queue) stopGap() {
	if q.cancelGap != nil {
		q.cancelGap()
		q.cancelGap = nil
	}
}

func (q *Queue) emit(started *domain.AudioSegment) {
	if q.onChange != nil {
		q.onChange(QueueChange{Status: q.Status(), Started: started})
	}
}
