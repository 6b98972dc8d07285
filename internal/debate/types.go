package debate

import (
	"context"
	"errors"

	"github.com/lorenzotomasdiez/committee/internal/debate/consensus"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/openrouter"
)

var (
	// ErrDebateActive is returned when a decision already has a running debate.
	ErrDebateActive = errors.New("a debate is already running for this decision")
	// ErrCancelled is returned by a run stopped through Cancel.
	ErrCancelled = errors.New("debate cancelled")
)

// LLMClient interface so we can mock the OpenRouter client.
type LLMClient interface {
	StreamChatCompletion(ctx context.Context, model string, messages []openrouter.Message, onToken func(string)) (string, error)
	ChatCompletion(ctx context.Context, model string, messages []openrouter.Message) (*openrouter.ChatResponse, error)
}

// Store is the persistence the engine needs.
type Store interface {
	GetDecision(ctx context.Context, id string) (*domain.Decision, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	UpdateDecisionStatus(ctx context.Context, id string, status domain.Status, fields *domain.StatusFields) error
	UpdateDecisionSummary(ctx context.Context, id, summaryJSON string) error
	BeginRun(ctx context.Context, decisionID string, quick bool, brief string) (*domain.DebateRun, error)
	FinishRun(ctx context.Context, decisionID, runID string) error
	SaveTurn(ctx context.Context, decisionID string, round, exchange int, agent, content string) (*domain.DebateTurn, error)
}

// Options selects how a debate runs.
type Options struct {
	// QuickMode runs only the opening round before the moderator.
	QuickMode bool
	// Agents lists debater keys; empty means every debater.
	Agents []string
}

// Step is one (round, exchange) slot of the schedule.
type Step struct {
	Round    int
	Exchange int
}

// Moderator reports whether the step is the moderator's synthesis.
func (s Step) Moderator() bool {
	return s.Round == domain.ModeratorRound
}

// Result holds the complete output of a debate run.
type Result struct {
	RunID     string
	Turns     []domain.DebateTurn
	Moderator *domain.DebateTurn
	Synthesis *consensus.Synthesis
	Summary   *domain.Summary
	// Manifest is nil when audio is disabled or nothing was synthesized.
	Manifest *domain.AudioManifest
}
