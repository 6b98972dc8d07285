// Package debate runs the committee debate: every selected member speaks in
// turn through the opening, exchange and final rounds, then the moderator
// synthesizes a recommendation.
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/lorenzotomasdiez/committee/internal/agents"
	"github.com/lorenzotomasdiez/committee/internal/debate/consensus"
	"github.com/lorenzotomasdiez/committee/internal/domain"
	"github.com/lorenzotomasdiez/committee/internal/events"
	"github.com/lorenzotomasdiez/committee/internal/models"
	"github.com/lorenzotomasdiez/committee/internal/tts"
)

// Config wires an Engine.
type Config struct {
	Store     Store
	LLM       LLMClient
	Registry  *agents.Registry
	Models    *models.Resolver
	TTS       *tts.Pipeline
	Publisher events.Publisher
	// DataDir holds the profile/ directory read into the brief.
	DataDir string
	Logger  *slog.Logger
}

// Engine orchestrates committee debates, at most one per decision.
type Engine struct {
	store    Store
	llm      LLMClient
	registry *agents.Registry
	models   *models.Resolver
	tts      *tts.Pipeline
	bus      events.Publisher
	dataDir  string
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*run

	OnToken func(decisionID string, step Step, agent, token string)
	OnTurn  func(turn domain.DebateTurn)
}

type run struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

type plan struct {
	decision *domain.Decision
	debaters []agents.Agent
	revertTo domain.Status
	opts     Options
}

// NewEngine creates a new debate engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:    cfg.Store,
		llm:      cfg.LLM,
		registry: cfg.Registry,
		models:   cfg.Models,
		tts:      cfg.TTS,
		bus:      cfg.Publisher,
		dataDir:  cfg.DataDir,
		logger:   cfg.Logger,
		active:   make(map[string]*run),
	}
	if e.registry == nil {
		e.registry = agents.NewRegistry()
	}
	if e.models == nil {
		e.models = models.NewResolver("", nil)
	}
	if e.bus == nil {
		e.bus = events.Discard
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Start validates and launches a debate in the background. The run outlives
// ctx; stop it with Cancel.
func (e *Engine) Start(ctx context.Context, decisionID string, opts Options) error {
	p, err := e.prepare(ctx, decisionID, opts)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r, err := e.register(decisionID, cancel)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		defer e.release(decisionID, r)
		if _, err := e.execute(runCtx, r, p); err != nil {
			e.logger.Info("debate: run ended early", "decision_id", decisionID, "error", err)
		}
	}()
	return nil
}

// Run executes a debate and blocks until it and its audio have finished.
func (e *Engine) Run(ctx context.Context, decisionID string, opts Options) (*Result, error) {
	p, err := e.prepare(ctx, decisionID, opts)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	r, err := e.register(decisionID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	defer e.release(decisionID, r)
	return e.execute(runCtx, r, p)
}

// Cancel stops the decision's running debate. It reports false when nothing
// is running.
func (e *Engine) Cancel(decisionID string) bool {
	e.mu.Lock()
	r, ok := e.active[decisionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.cancelled.Store(true)
	r.cancel()
	return true
}

// Active reports whether the decision has a running debate.
func (e *Engine) Active(decisionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[decisionID]
	return ok
}

// Wait blocks until the decision's running debate, if any, has finished.
func (e *Engine) Wait(decisionID string) {
	e.mu.Lock()
	r, ok := e.active[decisionID]
	e.mu.Unlock()
	if ok {
		<-r.done
	}
}

func (e *Engine) register(decisionID string, cancel context.CancelFunc) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[decisionID]; ok {
		return nil, fmt.Errorf("debate: %w", ErrDebateActive)
	}
	r := &run{cancel: cancel, done: make(chan struct{})}
	e.active[decisionID] = r
	return r, nil
}

func (e *Engine) release(decisionID string, r *run) {
	e.mu.Lock()
	if e.active[decisionID] == r {
		delete(e.active, decisionID)
	}
	e.mu.Unlock()
	r.cancel()
	close(r.done)
}

func (e *Engine) prepare(ctx context.Context, decisionID string, opts Options) (*plan, error) {
	if e.Active(decisionID) {
		return nil, fmt.Errorf("debate: %w", ErrDebateActive)
	}
	dec, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	debaters, err := e.registry.Debaters(opts.Agents)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	if err := dec.Status.CheckTransition(domain.StatusDebating); err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	revert := dec.Status
	if revert == domain.StatusDebating {
		revert = domain.StatusAnalyzing
	}
	return &plan{decision: dec, debaters: debaters, revertTo: revert, opts: opts}, nil
}

func (e *Engine) execute(ctx context.Context, r *run, p *plan) (*Result, error) {
	id := p.decision.ID
	var live *tts.LiveRun

	res, err := e.debate(ctx, r, p, &live)

	manifest, audioErr := live.Finish()
	if audioErr != nil {
		e.logger.Warn("debate: live audio incomplete", "decision_id", id, "error", audioErr)
		e.bus.Publish(events.Event{Type: events.AudioGenerationError, DecisionID: id, Payload: events.Failure{Error: audioErr.Error()}})
	}
	if res != nil {
		res.Manifest = manifest
	}

	if err == nil {
		return res, nil
	}

	cleanup := context.WithoutCancel(ctx)
	if serr := e.store.UpdateDecisionStatus(cleanup, id, p.revertTo, nil); serr != nil {
		e.logger.Error("debate: could not revert status", "decision_id", id, "status", p.revertTo, "error", serr)
	}
	if r.cancelled.Load() || errors.Is(err, context.Canceled) {
		e.logger.Info("debate: cancelled", "decision_id", id)
		e.bus.Publish(events.Event{Type: events.DebateCancelled, DecisionID: id})
		return res, fmt.Errorf("debate: %w", ErrCancelled)
	}
	e.logger.Error("debate: run failed", "decision_id", id, "error", err)
	e.bus.Publish(events.Event{Type: events.DebateError, DecisionID: id, Payload: events.Failure{Error: err.Error()}})
	return res, err
}

func (e *Engine) debate(ctx context.Context, r *run, p *plan, live **tts.LiveRun) (*Result, error) {
	dec := p.decision
	id := dec.ID

	messages, err := e.store.ListMessages(ctx, dec.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	profiles, err := ReadProfiles(filepath.Join(e.dataDir, "profile"))
	if err != nil {
		e.logger.Warn("debate: profiles unavailable", "error", err)
	}
	brief := CompileBrief(dec, messages, profiles)

	if err := e.store.UpdateDecisionStatus(ctx, id, domain.StatusDebating, nil); err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	dr, err := e.store.BeginRun(ctx, id, p.opts.QuickMode, brief)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}

	keys := make([]string, len(p.debaters))
	for i, a := range p.debaters {
		keys[i] = a.Key
	}
	e.bus.Publish(events.Event{
		Type:       events.DebateStarted,
		DecisionID: id,
		Payload:    events.Started{RunID: dr.ID, QuickMode: p.opts.QuickMode, Agents: keys},
	})
	e.logger.Info("debate: started", "decision_id", id, "run_id", dr.ID, "quick", p.opts.QuickMode, "agents", keys)

	*live = e.tts.StartLive(context.WithoutCancel(ctx), id)
	res := &Result{RunID: dr.ID}

	for _, step := range Schedule(p.opts.QuickMode) {
		if step.Moderator() {
			break
		}
		for _, a := range p.debaters {
			system := e.registry.SystemPrompt(a.Key, p.debaters)
			prompt := RoundPrompt(step, brief, FormatTranscript(res.Turns, e.registry.Label))
			text, err := e.speak(ctx, r, id, step, a, system, prompt)
			if err != nil {
				return res, err
			}
			turn, err := e.commit(ctx, id, step, a.Key, tts.SpokenText(text))
			if err != nil {
				return res, err
			}
			(*live).Enqueue(*turn)
			res.Turns = append(res.Turns, *turn)
		}
		e.bus.Publish(events.Event{Type: events.DebateRoundComplete, DecisionID: id, Payload: events.RoundComplete{Round: step.Round, Exchange: step.Exchange}})
	}

	step := Step{Round: domain.ModeratorRound, Exchange: 1}
	mod := e.registry.Moderator()
	raw, err := e.speak(ctx, r, id, step, mod, e.registry.SystemPrompt(mod.Key, p.debaters),
		ModeratorPrompt(brief, FormatTranscript(res.Turns, e.registry.Label)))
	if err != nil {
		return res, err
	}
	syn := e.synthesize(ctx, raw, res.Turns, p.debaters)
	if r.cancelled.Load() {
		return res, ErrCancelled
	}
	turn, err := e.commit(ctx, id, step, mod.Key, syn.Text)
	if err != nil {
		return res, err
	}
	(*live).Enqueue(*turn)
	e.bus.Publish(events.Event{Type: events.DebateRoundComplete, DecisionID: id, Payload: events.RoundComplete{Round: step.Round, Exchange: step.Exchange}})
	res.Moderator = turn
	res.Synthesis = syn

	summary := dec.Summary()
	summary.Merge(&domain.Summary{Recommendation: syn.Recommendation, DebateSummary: syn.Debate})
	res.Summary = summary
	if err := e.store.UpdateDecisionSummary(ctx, id, summary.JSON()); err != nil {
		return res, fmt.Errorf("debate: %w", err)
	}
	if err := e.store.FinishRun(ctx, id, dr.ID); err != nil {
		return res, fmt.Errorf("debate: %w", err)
	}
	if err := e.store.UpdateDecisionStatus(ctx, id, domain.StatusRecommended, nil); err != nil {
		return res, fmt.Errorf("debate: %w", err)
	}
	e.bus.Publish(events.Event{
		Type:       events.DecisionSummaryUpdated,
		DecisionID: id,
		Payload:    events.SummaryUpdated{Summary: summary, Status: domain.StatusRecommended},
	})
	e.bus.Publish(events.Event{Type: events.DebateComplete, DecisionID: id})
	e.logger.Info("debate: complete", "decision_id", id, "run_id", dr.ID, "turns", len(res.Turns)+1)
	return res, nil
}

// speak streams one agent's turn. Tokens are forwarded until the run is
// cancelled; a cancelled or failed stream yields no text.
func (e *Engine) speak(ctx context.Context, r *run, decisionID string, step Step, a agents.Agent, system, user string) (string, error) {
	if r.cancelled.Load() {
		return "", ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := e.llm.StreamChatCompletion(ctx, e.models.For(a.Key), buildMessages(system, user), func(tok string) {
		if r.cancelled.Load() {
			return
		}
		e.bus.Publish(events.Event{
			Type:       events.DebateAgentToken,
			DecisionID: decisionID,
			Payload:    events.Token{Round: step.Round, Exchange: step.Exchange, Agent: a.Key, Token: tok},
		})
		if e.OnToken != nil {
			e.OnToken(decisionID, step, a.Key, tok)
		}
	})
	if r.cancelled.Load() {
		return "", ErrCancelled
	}
	if err != nil {
		return "", fmt.Errorf("debate: %s failed: %w", a.Label, err)
	}
	return text, nil
}

func (e *Engine) commit(ctx context.Context, decisionID string, step Step, agent, content string) (*domain.DebateTurn, error) {
	turn, err := e.store.SaveTurn(ctx, decisionID, step.Round, step.Exchange, agent, content)
	if err != nil {
		return nil, fmt.Errorf("debate: %w", err)
	}
	e.bus.Publish(events.Event{
		Type:       events.DebateAgentResponse,
		DecisionID: decisionID,
		Payload:    events.Response{Round: step.Round, Exchange: step.Exchange, Agent: agent, Content: content},
	})
	if e.OnTurn != nil {
		e.OnTurn(*turn)
	}
	return turn, nil
}

// synthesize parses the moderator's output. When it carries no readable
// vote tally a judge call recovers one from the transcript.
func (e *Engine) synthesize(ctx context.Context, raw string, turns []domain.DebateTurn, debaters []agents.Agent) *consensus.Synthesis {
	syn := consensus.Parse(raw, turns, debaters)
	if len(syn.Votes) > 0 || len(turns) == 0 {
		return syn
	}
	judge := consensus.NewJudge(e.llm, e.models.For(domain.ModeratorKey))
	votes, err := judge.Votes(ctx, FormatTranscript(turns, e.registry.Label), debaters)
	if err != nil {
		e.logger.Warn("debate: vote recovery failed", "error", err)
		return syn
	}
	if len(votes) > 0 {
		syn.Votes = votes
		syn.Debate.FinalVotes = consensus.FinalVotes(votes, turns, debaters)
	}
	return syn
}
