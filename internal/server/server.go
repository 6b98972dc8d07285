// Package server exposes decisions, debates and their audio over HTTP, and
// streams live debate events over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/debate"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/tts"
)

// Store is the persistence the HTTP handlers need.
type Store interface {
	CreateDecision(ctx context.Context, title, conversationID string) (*domain.Decision, error)
	GetDecision(ctx context.Context, id string) (*domain.Decision, error)
	ListDecisions(ctx context.Context) ([]domain.Decision, error)
	UpdateDecisionStatus(ctx context.Context, id string, status domain.Status, fields *domain.StatusFields) error
	MergeDecisionSummary(ctx context.Context, id string, update *domain.Summary) (*domain.Decision, error)
	AddMessage(ctx context.Context, conversationID, role, content string) (*domain.Message, error)
	LoadTurns(ctx context.Context, decisionID string) ([]domain.DebateTurn, error)
	LoadManifest(ctx context.Context, decisionID string) (*domain.AudioManifest, error)
	Ping(ctx context.Context) error
}

// Config wires a Server.
type Config struct {
	Store    Store
	Engine   *debate.Engine
	TTS      *tts.Pipeline
	Registry *agents.Registry
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	store    Store
	engine   *debate.Engine
	tts      *tts.Pipeline
	registry *agents.Registry
	bus      *events.Bus
	logger   *slog.Logger

	// generating tracks decisions with a post-hoc audio job in flight.
	generating sync.Map
	jobs       sync.WaitGroup
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		store:    cfg.Store,
		engine:   cfg.Engine,
		tts:      cfg.TTS,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
	}
	if s.registry == nil {
		s.registry = agents.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/agents", s.listAgents)
		r.Get("/decisions", s.listDecisions)
		r.Post("/decisions", s.createDecision)
		r.Route("/decisions/{id}", func(r chi.Router) {
			r.Get("/", s.getDecision)
			r.Patch("/status", s.updateStatus)
			r.Patch("/summary", s.mergeSummary)
			r.Post("/debate", s.startDebate)
			r.Delete("/debate", s.cancelDebate)
			r.Get("/turns", s.listTurns)
			r.Get("/audio", s.getManifest)
			r.Post("/audio", s.generateAudio)
			r.Get("/events", s.streamEvents)
		})
	})
	r.Get("/audio/{id}/{file}", s.serveAudio)
	return r
}

// Wait blocks until background audio jobs started by the server finish.
func (s *Server) Wait() { s.jobs.Wait() }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
