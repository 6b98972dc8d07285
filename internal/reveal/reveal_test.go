package reveal

import (
	"strings"
	"testing"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

func slot(round, exchange int, agent string) domain.Slot {
	return domain.Slot{Round: round, Exchange: exchange, Agent: agent}
}

func seg(index int, sl domain.Slot, text string, durMS int64) domain.AudioSegment {
	return domain.AudioSegment{
		Index:      index,
		Agent:      sl.Agent,
		Round:      sl.Round,
		Exchange:   sl.Exchange,
		Text:       text,
		DurationMS: durMS,
	}
}

func agents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Agent
	}
	return out
}

func TestRate(t *testing.T) {
	tests := []struct {
		name  string
		chars int
		dur   time.Duration
		tick  time.Duration
		want  int
	}{
		{"two second segment", 200, 2000 * time.Millisecond, 35 * time.Millisecond, 4},
		{"short segment clamps to minimum", 90, 100 * time.Millisecond, 30 * time.Millisecond, 3},
		{"never below one", 3, 10 * time.Second, 35 * time.Millisecond, 1},
		{"empty text", 0, time.Second, 35 * time.Millisecond, 1},
		{"zero tick uses default", 200, 2000 * time.Millisecond, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rate(tt.chars, tt.dur, tt.tick); got != tt.want {
				t.Errorf("Rate(%d, %v, %v) = %d, want %d", tt.chars, tt.dur, tt.tick, got, tt.want)
			}
		})
	}
}

func TestTokenStreaming(t *testing.T) {
	s := New(TokenStreaming, 0)
	a := slot(1, 1, "rationalist")

	s.Token(a, "Take ")
	s.Token(a, "the job")
	if got := s.Displayed(a); got != "Take the job" {
		t.Fatalf("Displayed = %q", got)
	}
	live := s.Live()
	if len(live) != 1 || live[0].Agent != "rationalist" {
		t.Fatalf("Live = %+v", live)
	}

	s.Response(a, "Take the job.")
	if got := s.Displayed(a); got != "" {
		t.Errorf("committed slot still displayed: %q", got)
	}
	tr := s.Transcript()
	if len(tr) != 1 || tr[0].Content != "Take the job." {
		t.Fatalf("Transcript = %+v", tr)
	}

	s.Response(a, "duplicate")
	if n := len(s.Transcript()); n != 1 {
		t.Fatalf("duplicate response committed again, transcript has %d", n)
	}
}

func TestAudioSynced_RevealMatchesFinalText(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	a := slot(1, 1, "rationalist")
	final := strings.Repeat("x", 199) + "!"

	s.Token(a, "hidden")
	if got := s.Displayed(a); got != "" {
		t.Fatalf("tokens must stay hidden in audio mode, got %q", got)
	}
	s.Response(a, final)
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}

	s.SegmentStarted(seg(0, a, "spoken version", 2000))
	if s.Pending() != 0 {
		t.Fatalf("segment start should consume the pending turn")
	}

	ticks := 0
	for s.Revealing() {
		s.Step()
		ticks++
		if ticks == 1 {
			if got := s.Displayed(a); got != final[:4] {
				t.Fatalf("after one tick Displayed = %q", got)
			}
		}
		if ticks > 100 {
			t.Fatal("reveal did not finish")
		}
	}
	if ticks > 58 {
		t.Errorf("reveal took %d ticks, want at most 58", ticks)
	}
	tr := s.Transcript()
	if len(tr) != 1 || tr[0].Content != final {
		t.Fatalf("transcript = %+v", tr)
	}
}

func TestAudioSynced_PausedAudioHoldsReveal(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	a := slot(1, 1, "advocate")
	s.Response(a, "Follow your heart on this one.")
	s.SegmentStarted(seg(0, a, "", 1000))
	s.Step()
	shown := s.Displayed(a)

	s.SetPlaying(false)
	for range 10 {
		if s.Step() {
			t.Fatal("Step advanced while paused")
		}
	}
	if got := s.Displayed(a); got != shown {
		t.Fatalf("Displayed changed while paused: %q -> %q", shown, got)
	}

	s.SetPlaying(true)
	s.Step()
	if got := s.Displayed(a); len(got) <= len(shown) {
		t.Fatalf("reveal did not resume: %q", got)
	}
}

func TestAudioSynced_SegmentBeforeResponse(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	a := slot(2, 1, "contrarian")

	s.SegmentStarted(seg(3, a, "Spoken text", 900))
	for range 100 {
		s.Step()
	}
	if got := s.Displayed(a); got != "Spoken text" {
		t.Fatalf("Displayed = %q", got)
	}
	if len(s.Transcript()) != 0 {
		t.Fatal("reveal committed without the finalized text")
	}

	s.Response(a, "**Spoken** text")
	tr := s.Transcript()
	if len(tr) != 1 || tr[0].Content != "**Spoken** text" {
		t.Fatalf("transcript = %+v", tr)
	}
}

func TestAudioSynced_NextSegmentCompletesPrevious(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	a := slot(1, 1, "rationalist")
	b := slot(1, 1, "advocate")
	s.Response(a, "first")
	s.Response(b, "second")

	s.SegmentStarted(seg(0, a, "", 5000))
	s.SegmentStarted(seg(1, b, "", 5000))

	tr := s.Transcript()
	if len(tr) != 1 || tr[0].Agent != "rationalist" {
		t.Fatalf("transcript = %+v", tr)
	}
}

func TestFlushPending_NoContentLost(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	r1a := slot(1, 1, "rationalist")
	r1b := slot(1, 1, "advocate")
	r2a := slot(2, 1, "rationalist")
	mod := slot(domain.ModeratorRound, 0, domain.ModeratorKey)

	if got := s.RunEnded(); got != 0 {
		t.Errorf("grace without audio = %v, want 0", got)
	}

	s.Response(r1a, "one")
	s.Response(r1b, "two")
	s.Response(r2a, "three")
	s.Response(mod, "synthesis")
	s.SegmentStarted(seg(0, r1a, "", 2000))
	s.Step()

	if got := s.RunEnded(); got != AudioGrace {
		t.Errorf("grace with audio = %v, want %v", got, AudioGrace)
	}
	if n := s.FlushPending(); n != 4 {
		t.Fatalf("FlushPending committed %d, want 4", n)
	}

	got := agents(s.Transcript())
	want := []string{"rationalist", "advocate", "rationalist", "moderator"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transcript order = %v, want %v", got, want)
		}
	}
	if s.Transcript()[0].Content != "one" {
		t.Errorf("active reveal flushed with %q, want finalized text", s.Transcript()[0].Content)
	}
	if s.Pending() != 0 || s.Revealing() {
		t.Error("buffers not empty after flush")
	}
}

func TestTranscriptOrderIndependentOfCommitOrder(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	late := slot(1, 1, "rationalist")
	early := slot(2, 1, "advocate")

	s.Response(late, "round one")
	s.Response(early, "round two")
	s.SegmentStarted(seg(1, early, "", 900))
	for s.Revealing() {
		s.Step()
	}
	s.FlushPending()

	got := agents(s.Transcript())
	if len(got) != 2 || got[0] != "rationalist" || got[1] != "advocate" {
		t.Fatalf("transcript order = %v", got)
	}
}

func TestReset(t *testing.T) {
	s := New(AudioSynced, 35*time.Millisecond)
	a := slot(1, 1, "rationalist")
	s.Token(a, "x")
	s.Response(a, "done")
	s.SegmentStarted(seg(0, slot(1, 1, "advocate"), "y", 1000))
	s.FlushPending()

	s.Reset()
	if len(s.Transcript()) != 0 || s.Pending() != 0 || s.Revealing() || s.Committed(a) {
		t.Fatal("state survived Reset")
	}
	if got := s.RunEnded(); got != 0 {
		t.Errorf("audio observation survived Reset: grace %v", got)
	}

	s.Response(a, "again")
	if s.Pending() != 1 {
		t.Fatal("slot not accepted after Reset")
	}
}
