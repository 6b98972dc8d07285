// Package reveal decides what transcript text is visible while a debate is
// streaming, either token by token or paced against live audio playback.
package reveal

import (
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// Mode selects how in-progress turns are shown.
type Mode int

const (
	// TokenStreaming shows tokens as they arrive.
	TokenStreaming Mode = iota
	// AudioSynced hides a turn until its audio starts and then types it out
	// at the pace of the segment.
	AudioSynced
)

func (m Mode) String() string {
	if m == AudioSynced {
		return "audio"
	}
	return "tokens"
}

const (
	// DefaultTick is the interval between reveal steps.
	DefaultTick = 35 * time.Millisecond
	// MinRevealDuration bounds how fast a short segment is typed out.
	MinRevealDuration = 900 * time.Millisecond
	// AudioGrace is how long pending turns wait for their audio after a run
	// ends when audio was playing during it.
	AudioGrace = 1500 * time.Millisecond
)

// Rate returns the number of characters revealed per tick for a text of
// totalChars spoken over d.
func Rate(totalChars int, d, tick time.Duration) int {
	if totalChars <= 0 {
		return 1
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	ticks := float64(max(d, MinRevealDuration)) / float64(tick)
	rate := int(math.Ceil(float64(totalChars) / ticks))
	return max(rate, 1)
}

// Entry is a turn in the permanent transcript.
type Entry struct {
	Round    int    `json:"round_number"`
	Exchange int    `json:"exchange_number"`
	Agent    string `json:"agent"`
	Content  string `json:"content"`
	seq      int
}

// Slot returns the entry's schedule slot.
func (e Entry) Slot() domain.Slot {
	return domain.Slot{Round: e.Round, Exchange: e.Exchange, Agent: e.Agent}
}

// Live is an in-progress turn and the text currently shown for it.
type Live struct {
	domain.Slot
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
}

type pendingTurn struct {
	content string
	seq     int
}

type revealing struct {
	text     []rune
	shown    int
	rate     int
	final    string
	hasFinal bool
	seq      int
}

// Synchronizer merges token, finalized-turn and audio-start signals into the
// displayed transcript. It is single-owner state: all methods must be
// called from the same goroutine.
type Synchronizer struct {
	mode Mode
	tick time.Duration

	seq       int
	streaming map[domain.Slot]*strings.Builder
	streamSeq map[domain.Slot]int
	pending   map[domain.Slot]pendingTurn
	active    map[domain.Slot]*revealing
	committed map[domain.Slot]bool

	keys    []domain.RoundKey
	entries map[domain.RoundKey][]Entry

	playing   bool
	audioSeen bool
}

// New creates an empty synchronizer.
func New(mode Mode, tick time.Duration) *Synchronizer {
	if tick <= 0 {
		tick = DefaultTick
	}
	s := &Synchronizer{mode: mode, tick: tick}
	s.Reset()
	return s
}

// Mode returns the reveal mode.
func (s *Synchronizer) Mode() Mode { return s.mode }

// TickInterval returns the reveal interval.
func (s *Synchronizer) TickInterval() time.Duration { return s.tick }

// SetMode switches mode. Buffered streaming text is kept.
func (s *Synchronizer) SetMode(m Mode) { s.mode = m }

// Reset drops every buffer, reveal and transcript entry.
func (s *Synchronizer) Reset() {
	s.seq = 0
	s.streaming = make(map[domain.Slot]*strings.Builder)
	s.streamSeq = make(map[domain.Slot]int)
	s.pending = make(map[domain.Slot]pendingTurn)
	s.active = make(map[domain.Slot]*revealing)
	s.committed = make(map[domain.Slot]bool)
	s.keys = nil
	s.entries = make(map[domain.RoundKey][]Entry)
	s.playing = false
	s.audioSeen = false
}

// Token records a streamed token. Tokens are only displayed in
// TokenStreaming mode.
func (s *Synchronizer) Token(slot domain.Slot, token string) {
	if s.committed[slot] {
		return
	}
	b, ok := s.streaming[slot]
	if !ok {
		b = &strings.Builder{}
		s.streaming[slot] = b
		s.seq++
		s.streamSeq[slot] = s.seq
	}
	b.WriteString(token)
}

// Response records a finalized turn.
func (s *Synchronizer) Response(slot domain.Slot, content string) {
	if s.committed[slot] {
		return
	}
	seq, ok := s.streamSeq[slot]
	if !ok {
		s.seq++
		seq = s.seq
	}
	delete(s.streaming, slot)
	delete(s.streamSeq, slot)

	if r, ok := s.active[slot]; ok {
		r.final = content
		r.hasFinal = true
		if r.shown >= len(r.text) {
			s.finishReveal(slot)
		}
		return
	}
	if s.mode == TokenStreaming {
		s.commit(slot, content, seq)
		return
	}
	s.pending[slot] = pendingTurn{content: content, seq: seq}
}

// SegmentStarted starts revealing the turn whose audio just began. Any
// reveal still in progress completes immediately.
func (s *Synchronizer) SegmentStarted(seg domain.AudioSegment) {
	s.audioSeen = true
	s.playing = true
	slot := seg.Slot()
	if s.mode != AudioSynced || s.committed[slot] {
		return
	}
	for other := range s.active {
		if other != slot {
			s.completeNow(other)
		}
	}
	if _, ok := s.active[slot]; ok {
		return
	}

	r := &revealing{text: []rune(seg.Text)}
	if p, ok := s.pending[slot]; ok {
		r.text = []rune(p.content)
		r.final = p.content
		r.hasFinal = true
		r.seq = p.seq
		delete(s.pending, slot)
	} else {
		s.seq++
		r.seq = s.seq
	}
	r.rate = Rate(len(r.text), seg.Duration(), s.tick)
	s.active[slot] = r
}

// SetPlaying reports whether live audio is audible. Reveals only advance
// while it is.
func (s *Synchronizer) SetPlaying(playing bool) { s.playing = playing }

// Revealing reports whether any reveal is in progress.
func (s *Synchronizer) Revealing() bool { return len(s.active) > 0 }

// Step advances every active reveal by one tick and reports whether any
// visible text changed.
func (s *Synchronizer) Step() bool {
	if !s.playing || len(s.active) == 0 {
		return false
	}
	changed := false
	for _, slot := range s.activeSlots() {
		r := s.active[slot]
		if r.shown < len(r.text) {
			r.shown = min(r.shown+r.rate, len(r.text))
			changed = true
		}
		if r.shown >= len(r.text) && r.hasFinal {
			s.finishReveal(slot)
			changed = true
		}
	}
	return changed
}

// RunEnded returns how long to wait before FlushPending once a run has
// completed, been cancelled or failed.
func (s *Synchronizer) RunEnded() time.Duration {
	if s.audioSeen {
		return AudioGrace
	}
	return 0
}

// FlushPending commits every finalized turn that is still hidden, in
// (round, exchange, arrival) order, and completes active reveals. Partial
// token buffers are dropped. It returns the number of turns committed.
func (s *Synchronizer) FlushPending() int {
	type item struct {
		slot    domain.Slot
		content string
		seq     int
	}
	var items []item
	for slot, p := range s.pending {
		items = append(items, item{slot, p.content, p.seq})
	}
	for slot, r := range s.active {
		content := r.final
		if !r.hasFinal {
			content = string(r.text)
		}
		items = append(items, item{slot, content, r.seq})
	}
	sort.Slice(items, func(i, j int) bool {
		a := domain.RoundKey{Round: items[i].slot.Round, Exchange: items[i].slot.Exchange}
		b := domain.RoundKey{Round: items[j].slot.Round, Exchange: items[j].slot.Exchange}
		if a != b {
			return a.Less(b)
		}
		return items[i].seq < items[j].seq
	})

	n := 0
	for _, it := range items {
		if s.commit(it.slot, it.content, it.seq) {
			n++
		}
	}
	s.pending = make(map[domain.Slot]pendingTurn)
	s.active = make(map[domain.Slot]*revealing)
	s.streaming = make(map[domain.Slot]*strings.Builder)
	s.streamSeq = make(map[domain.Slot]int)
	return n
}

// Pending returns the number of finalized turns not yet visible.
func (s *Synchronizer) Pending() int { return len(s.pending) }

// Displayed returns the in-progress text shown for slot, or "" when the
// slot is hidden or already in the transcript.
func (s *Synchronizer) Displayed(slot domain.Slot) string {
	if s.committed[slot] {
		return ""
	}
	if r, ok := s.active[slot]; ok {
		return string(r.text[:r.shown])
	}
	if s.mode == TokenStreaming {
		if b, ok := s.streaming[slot]; ok {
			return b.String()
		}
	}
	return ""
}

// Live returns every in-progress turn with visible text, in schedule order.
func (s *Synchronizer) Live() []Live {
	var out []Live
	for _, slot := range s.activeSlots() {
		r := s.active[slot]
		out = append(out, Live{Slot: slot, Text: string(r.text[:r.shown]), Complete: r.shown >= len(r.text)})
	}
	if s.mode == TokenStreaming {
		slots := make([]domain.Slot, 0, len(s.streaming))
		for slot := range s.streaming {
			slots = append(slots, slot)
		}
		slices.SortFunc(slots, func(a, b domain.Slot) int { return s.streamSeq[a] - s.streamSeq[b] })
		for _, slot := range slots {
			out = append(out, Live{Slot: slot, Text: s.streaming[slot].String()})
		}
	}
	return out
}

// Transcript returns the committed turns ordered by (round, exchange) and
// arrival within a round.
func (s *Synchronizer) Transcript() []Entry {
	var out []Entry
	for _, k := range s.keys {
		out = append(out, s.entries[k]...)
	}
	return out
}

// Committed reports whether slot is already in the transcript.
func (s *Synchronizer) Committed(slot domain.Slot) bool { return s.committed[slot] }

func (s *Synchronizer) completeNow(slot domain.Slot) {
	r := s.active[slot]
	r.shown = len(r.text)
	if r.hasFinal {
		s.finishReveal(slot)
	}
}

func (s *Synchronizer) finishReveal(slot domain.Slot) {
	r := s.active[slot]
	delete(s.active, slot)
	s.commit(slot, r.final, r.seq)
}

func (s *Synchronizer) commit(slot domain.Slot, content string, seq int) bool {
	if s.committed[slot] {
		return false
	}
	s.committed[slot] = true
	delete(s.pending, slot)

	key := domain.RoundKey{Round: slot.Round, Exchange: slot.Exchange}
	list, ok := s.entries[key]
	if !ok {
		i := sort.Search(len(s.keys), func(i int) bool { return !s.keys[i].Less(key) })
		s.keys = slices.Insert(s.keys, i, key)
	}
	e := Entry{Round: slot.Round, Exchange: slot.Exchange, Agent: slot.Agent, Content: content, seq: seq}
	i := sort.Search(len(list), func(i int) bool { return list[i].seq > seq })
	s.entries[key] = slices.Insert(list, i, e)
	return true
}

func (s *Synchronizer) activeSlots() []domain.Slot {
	slots := make([]domain.Slot, 0, len(s.active))
	for slot := range s.active {
		slots = append(slots, slot)
	}
	slices.SortFunc(slots, func(a, b domain.Slot) int { return s.active[a].seq - s.active[b].seq })
	return slots
}
