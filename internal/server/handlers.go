package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/store"
)

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createDecisionRequest struct {
	Title          string           `json:"title"`
	ConversationID string           `json:"conversation_id"`
	Messages       []messageRequest `json:"messages"`
}

type statusRequest struct {
	Status              domain.Status `json:"status"`
	UserChoice          *string       `json:"user_choice"`
	UserChoiceReasoning *string       `json:"user_choice_reasoning"`
	Outcome             *string       `json:"outcome"`
}

type startDebateRequest struct {
	QuickMode bool     `json:"quick_mode"`
	Agents    []string `json:"agents"`
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, debate.ErrDebateActive), errors.Is(err, domain.ErrInvalidTransition):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, agents.ErrUnknownAgent), errors.Is(err, agents.ErrNoDebaters):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("server: request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("server: health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"status": "ok", "audio": s.tts.Enabled()})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.store.ListDecisions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if ds == nil {
		ds = []domain.Decision{}
	}
	JSON(w, http.StatusOK, ds)
}

func (s *Server) createDecision(w http.ResponseWriter, r *http.Request) {
	var req createDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			Error(w, http.StatusBadRequest, "message role must be user or assistant")
			return
		}
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	ctx := r.Context()
	dec, err := s.store.CreateDecision(ctx, req.Title, req.ConversationID)
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, m := range req.Messages {
		if _, err := s.store.AddMessage(ctx, req.ConversationID, m.Role, m.Content); err != nil {
			s.fail(w, err)
			return
		}
	}
	s.logger.Info("server: decision created", "decision_id", dec.ID, "messages", len(req.Messages))
	JSON(w, http.StatusCreated, dec)
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	dec, err := s.store.GetDecision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"decision": dec,
		"summary":  dec.Summary(),
		"debating": s.engine != nil && s.engine.Active(dec.ID),
	})
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		Error(w, http.StatusBadRequest, "unknown status")
		return
	}
	id := chi.URLParam(r, "id")
	if s.engine != nil && s.engine.Active(id) {
		Error(w, http.StatusConflict, "debate in progress")
		return
	}

	ctx := r.Context()
	fields := &domain.StatusFields{
		UserChoice:          req.UserChoice,
		UserChoiceReasoning: req.UserChoiceReasoning,
		Outcome:             req.Outcome,
	}
	if err := s.store.UpdateDecisionStatus(ctx, id, req.Status, fields); err != nil {
		s.fail(w, err)
		return
	}
	dec, err := s.store.GetDecision(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.publishSummary(dec)
	s.logger.Info("server: status updated", "decision_id", id, "status", dec.Status)
	JSON(w, http.StatusOK, dec)
}

func (s *Server) mergeSummary(w http.ResponseWriter, r *http.Request) {
	var update domain.Summary
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	if s.engine != nil && s.engine.Active(id) {
		Error(w, http.StatusConflict, "debate in progress")
		return
	}
	dec, err := s.store.MergeDecisionSummary(r.Context(), id, &update)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.publishSummary(dec)
	JSON(w, http.StatusOK, map[string]any{"decision": dec, "summary": dec.Summary()})
}

func (s *Server) publishSummary(dec *domain.Decision) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:       events.DecisionSummaryUpdated,
		DecisionID: dec.ID,
		Payload:    events.SummaryUpdated{Summary: dec.Summary(), Status: dec.Status},
	})
}

func (s *Server) startDebate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		Error(w, http.StatusServiceUnavailable, "debates are not configured")
		return
	}
	var req startDebateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.engine.Start(r.Context(), id, debate.Options{QuickMode: req.QuickMode, Agents: req.Agents}); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("server: debate started", "decision_id", id, "quick_mode", req.QuickMode)
	JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) cancelDebate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil || !s.engine.Cancel(chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "no debate running")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.LoadTurns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if turns == nil {
		turns = []domain.DebateTurn{}
	}
	JSON(w, http.StatusOK, turns)
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.LoadManifest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, m)
}

func (s *Server) generateAudio(w http.ResponseWriter, r *http.Request) {
	if !s.tts.Enabled() {
		Error(w, http.StatusServiceUnavailable, "audio is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDecision(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if s.engine != nil && s.engine.Active(id) {
		Error(w, http.StatusConflict, "debate in progress")
		return
	}
	if _, busy := s.generating.LoadOrStore(id, struct{}{}); busy {
		Error(w, http.StatusConflict, "audio generation in progress")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.generating.Delete(id)
		m, err := s.tts.GenerateForDecision(ctx, id)
		if err != nil {
			s.logger.Error("server: audio generation failed", "decision_id", id, "error", err)
			return
		}
		s.logger.Info("server: audio generated", "decision_id", id, "segments", len(m.Segments))
	}()
	JSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
}

func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	id, file := chi.URLParam(r, "id"), chi.URLParam(r, "file")
	if !cleanName(id) || !cleanName(file) || filepath.Ext(file) != ".mp3" {
		Error(w, http.StatusBadRequest, "invalid audio path")
		return
	}
	if s.tts == nil {
		Error(w, http.StatusNotFound, "audio is not configured")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, filepath.Join(s.tts.AudioDir(id), file))
}

func cleanName(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s && !strings.ContainsAny(s, `/\`)
}
