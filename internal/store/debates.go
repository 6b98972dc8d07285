package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lorenzotomasdiez/committee/internal/domain"
)

// BeginRun starts a new debate run for a decision: the previous run, if any,
// is archived, the brief is recorded and the decision points at the new run.
func (s *Store) BeginRun(ctx context.Context, decisionID string, quick bool, brief string) (*domain.DebateRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.nowMilli()
	var prev sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT current_run_id FROM decisions WHERE id = ?`, decisionID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: decision %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: read current run: %w", err)
	}
	if prev.Valid && prev.String != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE debate_runs SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, now, prev.String); err != nil {
			return nil, fmt.Errorf("store: archive run: %w", err)
		}
	}

	run := &domain.DebateRun{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		QuickMode:  quick,
		StartedAt:  fromMilli(now),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO debate_runs (id, decision_id, quick_mode, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, decisionID, quick, now); err != nil {
		return nil, fmt.Errorf("store: insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE decisions SET current_run_id = ?, debate_brief = ?, debate_started_at = ?,
		 debate_completed_at = NULL, updated_at = ? WHERE id = ?`,
		run.ID, brief, now, now, decisionID); err != nil {
		return nil, fmt.Errorf("store: point decision at run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit run: %w", err)
	}
	s.logger.Debug("store: debate run started", "decision_id", decisionID, "run_id", run.ID, "archived", prev.String)
	return run, nil
}

// FinishRun marks a run and its decision's debate as completed.
func (s *Store) FinishRun(ctx context.Context, decisionID, runID string) error {
	now := s.nowMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE debate_runs SET completed_at = ? WHERE id = ? AND decision_id = ?`, now, runID, decisionID)
	if err != nil {
		return fmt.Errorf("store: complete run: %w", err)
	}
	if err := requireRow(res, "run", runID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE decisions SET debate_completed_at = ?, updated_at = ? WHERE id = ?`, now, now, decisionID); err != nil {
		return fmt.Errorf("store: complete debate: %w", err)
	}
	return tx.Commit()
}

// ListRuns returns a decision's runs, oldest first.
func (s *Store) ListRuns(ctx context.Context, decisionID string) ([]domain.DebateRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, quick_mode, started_at, completed_at, archived_at
		 FROM debate_runs WHERE decision_id = ? ORDER BY started_at, rowid`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.DebateRun
	for rows.Next() {
		var r domain.DebateRun
		var started int64
		var completed, archived sql.NullInt64
		if err := rows.Scan(&r.ID, &r.DecisionID, &r.QuickMode, &started, &completed, &archived); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.StartedAt = fromMilli(started)
		r.CompletedAt = nullTime(completed)
		r.ArchivedAt = nullTime(archived)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveTurn appends a finalized turn to the decision's current run.
func (s *Store) SaveTurn(ctx context.Context, decisionID string, round, exchange int, agent, content string) (*domain.DebateTurn, error) {
	var runID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT current_run_id FROM decisions WHERE id = ?`, decisionID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: decision %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: read current run: %w", err)
	}
	if !runID.Valid || runID.String == "" {
		return nil, fmt.Errorf("store: decision %s: %w", decisionID, ErrNoActiveRun)
	}

	now := s.nowMilli()
	t := &domain.DebateTurn{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		RunID:      runID.String,
		Round:      round,
		Exchange:   exchange,
		Agent:      agent,
		Content:    content,
		CreatedAt:  fromMilli(now),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO debate_turns (id, decision_id, run_id, round_number, exchange_number, agent, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DecisionID, t.RunID, t.Round, t.Exchange, t.Agent, t.Content, now)
	if err != nil {
		return nil, fmt.Errorf("store: insert turn: %w", err)
	}
	return t, nil
}

// LoadTurns returns the turns of the decision's current run ordered by
// (round, exchange, insertion order).
func (s *Store) LoadTurns(ctx context.Context, decisionID string) ([]domain.DebateTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.decision_id, t.run_id, t.round_number, t.exchange_number, t.agent, t.content, t.created_at
		 FROM debate_turns t JOIN decisions d ON d.current_run_id = t.run_id
		 WHERE d.id = ?
		 ORDER BY t.round_number, t.exchange_number, t.rowid`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("store: load turns: %w", err)
	}
	defer rows.Close()

	var out []domain.DebateTurn
	for rows.Next() {
		var t domain.DebateTurn
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.DecisionID, &t.RunID, &t.Round, &t.Exchange, &t.Agent, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		t.CreatedAt = fromMilli(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveManifest stores a decision's audio manifest, replacing any previous
// one.
func (s *Store) SaveManifest(ctx context.Context, m *domain.AudioManifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: encode manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO debate_audio (decision_id, manifest_json, total_duration_ms, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(decision_id) DO UPDATE SET
			manifest_json = excluded.manifest_json,
			total_duration_ms = excluded.total_duration_ms,
			updated_at = excluded.updated_at`,
		m.DecisionID, string(b), m.TotalDurationMS, s.nowMilli())
	if err != nil {
		return fmt.Errorf("store: save manifest: %w", err)
	}
	return nil
}

// DeleteManifest removes the decision's manifest. Deleting a missing
// manifest is not an error.
func (s *Store) DeleteManifest(ctx context.Context, decisionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM debate_audio WHERE decision_id = ?`, decisionID); err != nil {
		return fmt.Errorf("store: delete manifest: %w", err)
	}
	return nil
}

// LoadManifest returns the decision's manifest or ErrNotFound.
func (s *Store) LoadManifest(ctx context.Context, decisionID string) (*domain.AudioManifest, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT manifest_json FROM debate_audio WHERE decision_id = ?`, decisionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: manifest for %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load manifest: %w", err)
	}
	var m domain.AudioManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("store: decode manifest: %w", err)
	}
	return &m, nil
}
