// Package domain holds the committee's persisted data model.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle status of a Decision.
type Status string

const (
	StatusExploring   Status = "exploring"
	StatusAnalyzing   Status = "analyzing"
	StatusDebating    Status = "debating"
	StatusRecommended Status = "recommended"
	StatusDecided     Status = "decided"
	StatusReviewed    Status = "reviewed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusExploring:   {StatusAnalyzing, StatusDebating},
	StatusAnalyzing:   {StatusDebating, StatusExploring},
	StatusDebating:    {StatusRecommended, StatusExploring, StatusAnalyzing},
	StatusRecommended: {StatusDecided, StatusDebating},
	StatusDecided:     {StatusReviewed, StatusExploring},
	StatusReviewed:    {StatusExploring},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a decision may move from s to next.
// Leaving debating back to the status it was entered from is always allowed
// so a cancelled or failed debate can revert.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return s == StatusDebating && next.Valid()
}

// CheckTransition returns ErrInvalidTransition when s cannot move to next.
func (s Status) CheckTransition(next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// Decision is one choice the user is reasoning through.
type Decision struct {
	ID                  string     `json:"id"`
	ConversationID      string     `json:"conversation_id"`
	Title               string     `json:"title"`
	Status              Status     `json:"status"`
	SummaryJSON         string     `json:"summary_json,omitempty"`
	UserChoice          string     `json:"user_choice,omitempty"`
	UserChoiceReasoning string     `json:"user_choice_reasoning,omitempty"`
	Outcome             string     `json:"outcome,omitempty"`
	OutcomeDate         *time.Time `json:"outcome_date,omitempty"`
	DebateBrief         string     `json:"debate_brief,omitempty"`
	DebateStartedAt     *time.Time `json:"debate_started_at,omitempty"`
	DebateCompletedAt   *time.Time `json:"debate_completed_at,omitempty"`
	CurrentRunID        string     `json:"current_run_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Summary parses the decision's structured summary. A missing or corrupt
// summary yields an empty one.
func (d *Decision) Summary() *Summary {
	s, _ := ParseSummary(d.SummaryJSON)
	return s
}

// StatusFields carries the optional columns written alongside a status change.
type StatusFields struct {
	UserChoice          *string
	UserChoiceReasoning *string
	Outcome             *string
}

// Message is one entry of the conversation a decision was born in.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
