package domain

import (
	"sort"
	"time"
)

const (
	// SpeakerGap separates consecutive segments of the same round.
	SpeakerGap = 500 * time.Millisecond
	// RoundGap separates segments whose rounds differ.
	RoundGap = 1000 * time.Millisecond
)

// AudioSegment is the synthesized speech for one DebateTurn.
type AudioSegment struct {
	Index      int    `json:"index"`
	Agent      string `json:"agent"`
	Round      int    `json:"round"`
	Exchange   int    `json:"exchange"`
	Text       string `json:"text"`
	AudioFile  string `json:"audio_file"`
	DurationMS int64  `json:"duration_ms"`
	StartMS    int64  `json:"start_ms"`
}

// Slot returns the schedule slot the segment was generated from.
func (s AudioSegment) Slot() Slot {
	return Slot{Round: s.Round, Exchange: s.Exchange, Agent: s.Agent}
}

// Duration returns the segment length.
func (s AudioSegment) Duration() time.Duration {
	return time.Duration(s.DurationMS) * time.Millisecond
}

// AudioManifest is the ordered, persisted description of a debate's audio.
type AudioManifest struct {
	DecisionID      string         `json:"decision_id"`
	Segments        []AudioSegment `json:"segments"`
	TotalDurationMS int64          `json:"total_duration_ms"`
}

// Gap returns the silence inserted between two consecutive segments.
func Gap(prev, next AudioSegment) time.Duration {
	if prev.Round == next.Round {
		return SpeakerGap
	}
	return RoundGap
}

// BuildManifest orders segments by index and computes their start offsets.
// The input slice is not modified.
func BuildManifest(decisionID string, segments []AudioSegment) *AudioManifest {
	out := make([]AudioSegment, len(segments))
	copy(out, segments)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	var total int64
	for i := range out {
		if i == 0 {
			out[i].StartMS = 0
		} else {
			prev := out[i-1]
			out[i].StartMS = prev.StartMS + prev.DurationMS + Gap(prev, out[i]).Milliseconds()
		}
		total = out[i].StartMS + out[i].DurationMS
	}
	return &AudioManifest{
		DecisionID:      decisionID,
		Segments:        out,
		TotalDurationMS: total,
	}
}

// SegmentAt returns the position in Segments of the segment playing at the
// global offset ms. Offsets inside a gap resolve to the following segment.
func (m *AudioManifest) SegmentAt(ms int64) int {
	if m == nil || len(m.Segments) == 0 {
		return -1
	}
	for i, seg := range m.Segments {
		if ms < seg.StartMS+seg.DurationMS {
			return i
		}
	}
	return len(m.Segments) - 1
}
