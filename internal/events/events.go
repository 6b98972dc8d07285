// Package events carries debate and audio progress from producers to live
// consumers.
package events

import "github.com/lorenzotomasdiez/committee/internal/domain"

// Type names an event kind.
type Type string

const (
	DebateStarted           Type = "debate-started"
	DebateAgentToken        Type = "debate-agent-token"
	DebateAgentResponse     Type = "debate-agent-response"
	DebateRoundComplete     Type = "debate-round-complete"
	DebateComplete          Type = "debate-complete"
	DebateError             Type = "debate-error"
	DebateCancelled         Type = "debate-cancelled"
	DecisionSummaryUpdated  Type = "decision-summary-updated"
	SegmentAudioReady       Type = "debate-segment-audio-ready"
	SegmentAudioError       Type = "debate-segment-audio-error"
	AudioGenerationProgress Type = "audio-generation-progress"
	AudioGenerationComplete Type = "audio-generation-complete"
	AudioGenerationError    Type = "audio-generation-error"
)

// Event is one notification about a decision.
type Event struct {
	Type       Type   `json:"type"`
	DecisionID string `json:"decision_id"`
	Payload    any    `json:"payload,omitempty"`
}

// Started marks the beginning of a debate run.
type Started struct {
	RunID     string   `json:"run_id"`
	QuickMode bool     `json:"quick_mode"`
	Agents    []string `json:"agents"`
}

// Token is one streamed fragment of an agent's turn.
type Token struct {
	Round    int    `json:"round_number"`
	Exchange int    `json:"exchange_number"`
	Agent    string `json:"agent"`
	Token    string `json:"token"`
}

// Slot returns the slot the token belongs to.
func (t Token) Slot() domain.Slot {
	return domain.Slot{Round: t.Round, Exchange: t.Exchange, Agent: t.Agent}
}

// Response is a finalized agent turn.
type Response struct {
	Round    int    `json:"round_number"`
	Exchange int    `json:"exchange_number"`
	Agent    string `json:"agent"`
	Content  string `json:"content"`
}

// Slot returns the slot the response fills.
func (r Response) Slot() domain.Slot {
	return domain.Slot{Round: r.Round, Exchange: r.Exchange, Agent: r.Agent}
}

// RoundComplete reports that every agent of a (round, exchange) has spoken.
type RoundComplete struct {
	Round    int `json:"round_number"`
	Exchange int `json:"exchange_number"`
}

// Failure carries a human-readable error.
type Failure struct {
	Error string `json:"error"`
}

// SummaryUpdated carries the merged decision summary.
type SummaryUpdated struct {
	Summary *domain.Summary `json:"summary"`
	Status  domain.Status   `json:"status"`
}

// SegmentReady reports that one audio segment can be played.
type SegmentReady struct {
	Segment  domain.AudioSegment `json:"segment"`
	AudioDir string              `json:"audio_dir"`
}

// SegmentFailed reports a segment whose synthesis failed.
type SegmentFailed struct {
	Index int    `json:"segment_index"`
	Agent string `json:"agent"`
	Error string `json:"error"`
}

// Progress counts synthesized segments. Agent spoke the segment just
// processed.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Agent   string `json:"agent"`
}

// AudioComplete carries the final manifest.
type AudioComplete struct {
	Manifest *domain.AudioManifest `json:"manifest"`
}
