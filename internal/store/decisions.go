package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

const decisionColumns = `id, conversation_id, title, status, summary_json, user_choice,
	user_choice_reasoning, outcome, outcome_date, debate_brief, debate_started_at,
	debate_completed_at, current_run_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var status string
	var summary, choice, reasoning, outcome, brief, runID sql.NullString
	var outcomeDate, started, completed sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&d.ID, &d.ConversationID, &d.Title, &status, &summary, &choice,
		&reasoning, &outcome, &outcomeDate, &brief, &started,
		&completed, &runID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	d.SummaryJSON = summary.String
	d.UserChoice = choice.String
	d.UserChoiceReasoning = reasoning.String
	d.Outcome = outcome.String
	d.OutcomeDate = nullTime(outcomeDate)
	d.DebateBrief = brief.String
	d.DebateStartedAt = nullTime(started)
	d.DebateCompletedAt = nullTime(completed)
	d.CurrentRunID = runID.String
	d.CreatedAt = fromMilli(createdAt)
	d.UpdatedAt = fromMilli(updatedAt)
	return &d, nil
}

// CreateDecision inserts a decision in the exploring status. A new
// conversation id is generated when conversationID is empty.
func (s *Store) CreateDecision(ctx context.Context, title, conversationID string) (*domain.Decision, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	now := s.nowMilli()
	d := &domain.Decision{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Title:          title,
		Status:         domain.StatusExploring,
		CreatedAt:      fromMilli(now),
		UpdatedAt:      fromMilli(now),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, conversation_id, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ConversationID, d.Title, string(d.Status), now, now)
	if err != nil {
		return nil, fmt.Errorf("store: insert decision: %w", err)
	}
	return d, nil
}

// GetDecision returns the decision with id or ErrNotFound.
func (s *Store) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns every decision, most recently updated first.
func (s *Store) ListDecisions(ctx context.Context) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDecisionStatus moves a decision to status, writing the optional
// user choice and outcome fields alongside. Transitions are validated.
func (s *Store) UpdateDecisionStatus(ctx context.Context, id string, status domain.Status, fields *domain.StatusFields) error {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	if err := d.Status.CheckTransition(status); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	now := s.nowMilli()
	query := `UPDATE decisions SET status = ?, updated_at = ?`
	args := []any{string(status), now}
	if fields != nil {
		if fields.UserChoice != nil {
			query += `, user_choice = ?`
			args = append(args, nullString(*fields.UserChoice))
		}
		if fields.UserChoiceReasoning != nil {
			query += `, user_choice_reasoning = ?`
			args = append(args, nullString(*fields.UserChoiceReasoning))
		}
		if fields.Outcome != nil {
			query += `, outcome = ?, outcome_date = ?`
			args = append(args, nullString(*fields.Outcome), now)
		}
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	return nil
}

// UpdateDecisionSummary replaces the decision's summary JSON.
func (s *Store) UpdateDecisionSummary(ctx context.Context, id, summaryJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET summary_json = ?, updated_at = ? WHERE id = ?`,
		summaryJSON, s.nowMilli(), id)
	if err != nil {
		return fmt.Errorf("store: update summary: %w", err)
	}
	return requireRow(res, "decision", id)
}

// MergeDecisionSummary folds update into the decision's summary. A decision
// still exploring or analyzing moves to debating once the merged summary
// has options and variables. The updated decision is returned.
func (s *Store) MergeDecisionSummary(ctx context.Context, id string, update *domain.Summary) (*domain.Decision, error) {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := d.Summary()
	summary.Merge(update)
	if err := s.UpdateDecisionSummary(ctx, id, summary.JSON()); err != nil {
		return nil, err
	}
	if (d.Status == domain.StatusExploring || d.Status == domain.StatusAnalyzing) && domain.ReadyForDebate(summary) {
		if err := s.UpdateDecisionStatus(ctx, id, domain.StatusDebating, nil); err != nil {
			return nil, err
		}
	}
	return s.GetDecision(ctx, id)
}

// DeleteDecision removes a decision with its runs, turns and manifest.
func (s *Store) DeleteDecision(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete decision: %w", err)
	}
	return requireRow(res, "decision", id)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	now := s.nowMilli()
	m.CreatedAt = fromMilli(now)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, now)
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.CreatedAt = fromMilli(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
