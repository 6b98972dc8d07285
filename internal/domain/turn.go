package domain

import (
	"sort"
	"time"
)

const (
	// ModeratorRound is the reserved round number of the moderator's synthesis.
	ModeratorRound = 99
	// ModeratorKey is the agent key that always speaks in ModeratorRound.
	ModeratorKey = "moderator"
)

// DebateTurn is one finalized agent statement. Turns are append-only.
type DebateTurn struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	RunID      string    `json:"run_id,omitempty"`
	Round      int       `json:"round_number"`
	Exchange   int       `json:"exchange_number"`
	Agent      string    `json:"agent"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Slot identifies the (round, exchange, agent) position a turn fills.
type Slot struct {
	Round    int    `json:"round_number"`
	Exchange int    `json:"exchange_number"`
	Agent    string `json:"agent"`
}

// Slot returns the turn's schedule slot.
func (t DebateTurn) Slot() Slot {
	return Slot{Round: t.Round, Exchange: t.Exchange, Agent: t.Agent}
}

// RoundKey orders groups of turns within a transcript.
type RoundKey struct {
	Round    int
	Exchange int
}

// Less orders round keys by round then exchange.
func (k RoundKey) Less(o RoundKey) bool {
	if k.Round != o.Round {
		return k.Round < o.Round
	}
	return k.Exchange < o.Exchange
}

// SortTurns orders turns by (round, exchange) keeping insertion order for ties.
func SortTurns(turns []DebateTurn) {
	sort.SliceStable(turns, func(i, j int) bool {
		a := RoundKey{turns[i].Round, turns[i].Exchange}
		b := RoundKey{turns[j].Round, turns[j].Exchange}
		return a.Less(b)
	})
}

// DebateRun is one execution of the debate schedule for a decision.
type DebateRun struct {
	ID          string     `json:"id"`
	DecisionID  string     `json:"decision_id"`
	QuickMode   bool       `json:"quick_mode"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}
