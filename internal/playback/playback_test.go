package playback

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

func segment(index, round int, agent string, durMS int64) domain.AudioSegment {
	return domain.AudioSegment{
		Index:      index,
		Agent:      agent,
		Round:      round,
		Exchange:   1,
		Text:       agent + " speaks",
		AudioFile:  agent + ".mp3",
		DurationMS: durMS,
	}
}

func writeAudio(t *testing.T, dir string, segs ...domain.AudioSegment) {
	t.Helper()
	for _, s := range segs {
		if err := os.WriteFile(filepath.Join(dir, s.AudioFile), []byte("mp3"), 0o644); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
}

type queueHarness struct {
	sched   *ManualScheduler
	queue   *Queue
	dir     string
	started []int
}

func newQueueHarness(t *testing.T) *queueHarness {
	t.Helper()
	h := &queueHarness{sched: NewManualScheduler(), dir: t.TempDir()}
	h.queue = NewQueue(NewClockSink(h.sched), h.sched, nil)
	h.queue.OnChange(func(c QueueChange) {
		if c.Started != nil {
			h.started = append(h.started, c.Started.Index)
		}
	})
	return h
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueue_PlaysInIndexOrderRegardlessOfArrival(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	s1 := segment(1, 1, "advocate", 1000)
	s2 := segment(2, 2, "contrarian", 1000)
	writeAudio(t, h.dir, s0, s1, s2)

	h.queue.SegmentReady(s2, h.dir)
	h.queue.SegmentReady(s1, h.dir)
	if len(h.started) != 0 {
		t.Fatalf("started %v before index 0 was ready", h.started)
	}

	h.queue.SegmentReady(s0, h.dir)
	if !equalInts(h.started, []int{0}) {
		t.Fatalf("started = %v, want [0]", h.started)
	}

	h.sched.Advance(1000 * time.Millisecond)
	h.sched.Advance(499 * time.Millisecond)
	if !equalInts(h.started, []int{0}) {
		t.Fatalf("segment 1 started inside the speaker gap: %v", h.started)
	}
	h.sched.Advance(time.Millisecond)
	if !equalInts(h.started, []int{0, 1}) {
		t.Fatalf("started = %v, want [0 1]", h.started)
	}

	h.sched.Advance(1000 * time.Millisecond)
	h.sched.Advance(999 * time.Millisecond)
	if len(h.started) != 2 {
		t.Fatalf("round change should wait a full second, started %v", h.started)
	}
	h.sched.Advance(time.Millisecond)
	if !equalInts(h.started, []int{0, 1, 2}) {
		t.Fatalf("started = %v, want [0 1 2]", h.started)
	}
}

func TestQueue_LateSegmentPlaysOnArrival(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	s1 := segment(1, 1, "advocate", 1000)
	writeAudio(t, h.dir, s0, s1)

	h.queue.SegmentReady(s0, h.dir)
	h.sched.Advance(5 * time.Second)
	st := h.queue.Status()
	if st.Playing || st.Next != 1 {
		t.Fatalf("status = %+v, want idle at 1", st)
	}

	h.queue.SegmentReady(s1, h.dir)
	if !equalInts(h.started, []int{0, 1}) {
		t.Fatalf("started = %v, want [0 1]", h.started)
	}
}

func TestQueue_RoundGapAppliesToSegmentArrivingDuringGap(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	s1 := segment(1, 2, "advocate", 1000)
	writeAudio(t, h.dir, s0, s1)

	h.queue.SegmentReady(s0, h.dir)
	h.sched.Advance(1200 * time.Millisecond)
	h.queue.SegmentReady(s1, h.dir)

	h.sched.Advance(700 * time.Millisecond)
	if len(h.started) != 1 {
		t.Fatalf("new round started before the round gap: %v", h.started)
	}
	h.sched.Advance(100 * time.Millisecond)
	if !equalInts(h.started, []int{0, 1}) {
		t.Fatalf("started = %v, want [0 1] one round gap after the first ended", h.started)
	}
}

func TestQueue_PauseSuppressesAutoAdvance(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	s1 := segment(1, 1, "advocate", 1000)
	writeAudio(t, h.dir, s0, s1)

	h.queue.SegmentReady(s0, h.dir)
	h.sched.Advance(300 * time.Millisecond)
	h.queue.TogglePause()
	h.queue.SegmentReady(s1, h.dir)
	h.sched.Advance(10 * time.Second)

	if len(h.started) != 1 {
		t.Fatalf("paused queue advanced: %v", h.started)
	}
	if st := h.queue.Status(); st.Playing || !st.UserPaused {
		t.Fatalf("status = %+v", st)
	}

	h.queue.TogglePause()
	h.sched.Advance(700 * time.Millisecond)
	h.sched.Advance(500 * time.Millisecond)
	if !equalInts(h.started, []int{0, 1}) {
		t.Fatalf("started = %v, want [0 1]", h.started)
	}
}

func TestQueue_StopHoldsUntilReset(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	writeAudio(t, h.dir, s0)

	h.queue.SegmentReady(s0, h.dir)
	h.queue.Stop()
	st := h.queue.Status()
	if st.Playing || !st.UserPaused {
		t.Fatalf("after stop status = %+v", st)
	}
	h.sched.Advance(5 * time.Second)
	if len(h.started) != 1 {
		t.Fatalf("stopped queue advanced: %v", h.started)
	}

	h.queue.Reset()
	st = h.queue.Status()
	if st.Next != 0 || st.Ready != 0 || st.UserPaused || st.Playing {
		t.Fatalf("after reset status = %+v", st)
	}
	h.queue.SegmentReady(s0, h.dir)
	if !equalInts(h.started, []int{0, 0}) {
		t.Fatalf("started = %v, want replay of 0 after reset", h.started)
	}
}

func TestQueue_PlaybackFailureIdlesUntilSkip(t *testing.T) {
	h := newQueueHarness(t)
	missing := segment(0, 1, "rationalist", 1000)
	s1 := segment(1, 1, "advocate", 1000)
	writeAudio(t, h.dir, s1)

	h.queue.SegmentReady(missing, h.dir)
	h.queue.SegmentReady(s1, h.dir)
	if len(h.started) != 0 {
		t.Fatalf("started = %v", h.started)
	}
	if st := h.queue.Status(); st.Playing || st.Next != 0 {
		t.Fatalf("status = %+v", st)
	}

	h.queue.Skip()
	if !equalInts(h.started, []int{1}) {
		t.Fatalf("started = %v, want [1]", h.started)
	}
}

func TestQueue_ResetDiscardsStaleCallbacks(t *testing.T) {
	h := newQueueHarness(t)
	s0 := segment(0, 1, "rationalist", 1000)
	writeAudio(t, h.dir, s0)

	h.queue.SegmentReady(s0, h.dir)
	h.sched.Advance(1000 * time.Millisecond)
	h.queue.Reset()
	h.sched.Advance(time.Second)

	if st := h.queue.Status(); st.Next != 0 {
		t.Fatalf("stale gap callback moved the queue: %+v", st)
	}
}

func newPlayerHarness(t *testing.T) (*Player, *ManualScheduler) {
	t.Helper()
	dir := t.TempDir()
	segs := []domain.AudioSegment{
		segment(0, 1, "rationalist", 1000),
		segment(1, 1, "advocate", 3000),
		segment(2, 2, "contrarian", 1000),
	}
	writeAudio(t, dir, segs...)
	m := domain.BuildManifest("d1", segs)

	sched := NewManualScheduler()
	p := NewPlayer(NewClockSink(sched), sched, nil)
	if err := p.Load(m, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p, sched
}

func TestPlayer_AutoAdvanceAppliesGaps(t *testing.T) {
	p, sched := newPlayerHarness(t)
	if err := p.PlayPause(); err != nil {
		t.Fatalf("PlayPause: %v", err)
	}

	sched.Advance(1000 * time.Millisecond)
	if got := p.Position(); got != 1000 {
		t.Errorf("position at end of first segment = %d, want 1000", got)
	}
	sched.Advance(250 * time.Millisecond)
	if got := p.Position(); got != 1250 {
		t.Errorf("position inside gap = %d, want 1250", got)
	}
	sched.Advance(250 * time.Millisecond)
	if st := p.Status(); st.Index != 1 || st.PositionMS != 1500 {
		t.Errorf("status after gap = %+v", st)
	}

	sched.Advance(3000 * time.Millisecond)
	sched.Advance(1000 * time.Millisecond)
	if st := p.Status(); st.Index != 2 || st.PositionMS != 5500 {
		t.Errorf("status after round gap = %+v", st)
	}

	sched.Advance(1000 * time.Millisecond)
	st := p.Status()
	if st.Playing || st.PositionMS != 6500 || st.DurationMS != 6500 {
		t.Errorf("status at end = %+v", st)
	}
}

func TestPlayer_SeekGlobal(t *testing.T) {
	p, _ := newPlayerHarness(t)

	if err := p.SeekGlobal(2000); err != nil {
		t.Fatalf("SeekGlobal: %v", err)
	}
	if st := p.Status(); st.Index != 1 || st.PositionMS != 2000 {
		t.Errorf("status = %+v", st)
	}

	_ = p.SeekGlobal(1200)
	if st := p.Status(); st.Index != 1 || st.PositionMS != 1500 {
		t.Errorf("seek into gap: status = %+v", st)
	}

	_ = p.SeekTo(99999)
	if got := p.Position(); got != 4500 {
		t.Errorf("SeekTo clamps to segment end: got %d", got)
	}
}

func TestPlayer_PreviousRestartsAfterTwoSeconds(t *testing.T) {
	p, sched := newPlayerHarness(t)
	_ = p.SkipToSegment(1)
	_ = p.PlayPause()

	sched.Advance(2500 * time.Millisecond)
	_ = p.Previous()
	if st := p.Status(); st.Index != 1 || st.PositionMS != 1500 {
		t.Fatalf("restart: status = %+v", st)
	}

	sched.Advance(1000 * time.Millisecond)
	_ = p.Previous()
	if st := p.Status(); st.Index != 0 || !st.Playing {
		t.Fatalf("previous: status = %+v", st)
	}

	_ = p.Next()
	_ = p.Next()
	_ = p.Next()
	if st := p.Status(); st.Index != 2 {
		t.Fatalf("next past end: status = %+v", st)
	}
}

func TestPlayer_SpeedScalesSegmentsAndGaps(t *testing.T) {
	p, sched := newPlayerHarness(t)
	if err := p.SetSpeed(3); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("SetSpeed(3) error = %v", err)
	}
	if err := p.SetSpeed(2); err != nil {
		t.Fatalf("SetSpeed(2): %v", err)
	}
	_ = p.PlayPause()

	sched.Advance(500 * time.Millisecond)
	sched.Advance(250 * time.Millisecond)
	if st := p.Status(); st.Index != 1 || st.Speed != 2 {
		t.Fatalf("status = %+v", st)
	}
}

func TestPlayer_PauseAndResume(t *testing.T) {
	p, sched := newPlayerHarness(t)
	_ = p.PlayPause()
	sched.Advance(400 * time.Millisecond)
	_ = p.PlayPause()
	sched.Advance(5 * time.Second)
	if st := p.Status(); st.Playing || st.PositionMS != 400 {
		t.Fatalf("paused status = %+v", st)
	}
	_ = p.PlayPause()
	sched.Advance(600 * time.Millisecond)
	if got := p.Position(); got != 1000 {
		t.Fatalf("position = %d, want 1000", got)
	}
}

func TestPlayer_PauseInsideGapHoldsPosition(t *testing.T) {
	p, sched := newPlayerHarness(t)
	_ = p.PlayPause()
	sched.Advance(1200 * time.Millisecond)
	_ = p.PlayPause()

	sched.Advance(5 * time.Second)
	if st := p.Status(); st.Playing || st.Index != 0 || st.PositionMS != 1200 {
		t.Fatalf("paused in gap: status = %+v", st)
	}

	_ = p.PlayPause()
	sched.Advance(200 * time.Millisecond)
	if st := p.Status(); st.Index != 0 || st.PositionMS != 1400 {
		t.Fatalf("resumed gap: status = %+v", st)
	}
	sched.Advance(100 * time.Millisecond)
	if st := p.Status(); st.Index != 1 || !st.Playing || st.PositionMS != 1500 {
		t.Fatalf("after gap: status = %+v", st)
	}
}

func TestPlayer_Errors(t *testing.T) {
	sched := NewManualScheduler()
	p := NewPlayer(NewClockSink(sched), sched, nil)

	if err := p.PlayPause(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("PlayPause unloaded = %v", err)
	}
	if err := p.Load(&domain.AudioManifest{DecisionID: "d1"}, t.TempDir()); !errors.Is(err, ErrEmptyManifest) {
		t.Errorf("Load empty = %v", err)
	}

	m := domain.BuildManifest("d1", []domain.AudioSegment{segment(0, 1, "gone", 1000)})
	if err := p.Load(m, t.TempDir()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.SkipToSegment(5); !errors.Is(err, ErrNoSegment) {
		t.Errorf("SkipToSegment(5) = %v", err)
	}
	_ = p.PlayPause()
	if st := p.Status(); st.Playing {
		t.Errorf("missing file should leave the player stopped, got %+v", st)
	}

	p.Close()
	if got := p.Position(); got != 0 {
		t.Errorf("position after close = %d", got)
	}
}

func TestLoop_SerializesWork(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var mu sync.Mutex
	var order []int
	for i := range 5 {
		l.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	l.Call(func() {})

	mu.Lock()
	defer mu.Unlock()
	if !equalInts(order, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("order = %v", order)
	}
}

func TestLoop_AfterFuncStop(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	fired := make(chan struct{}, 2)
	stop := l.AfterFunc(time.Hour, func() { fired <- struct{}{} })
	if !stop() {
		t.Fatal("stop of pending timer should report true")
	}
	l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_PostAfterClose(t *testing.T) {
	l := NewLoop()
	l.Close()
	if l.Post(func() {}) {
		t.Fatal("Post after Close should fail")
	}
	l.Close()
}
