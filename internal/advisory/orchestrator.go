// Package advisory runs the independent advisory reads and the free-text
// question. Each operation owns its own result slot; a failure or a slow call
// in one never touches another, and no method returns an error.
package advisory

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finadvisor/internal/config"
	"finadvisor/internal/core"
	"finadvisor/internal/fallback"
	"finadvisor/internal/log"
	"finadvisor/internal/pipeline"
)

var (
	OpHealthScore = pipeline.Operation{
		Name: config.OpHealthScore, Method: http.MethodGet, Path: "/agents/financial-health", Auth: true,
	}
	OpOptimization = pipeline.Operation{
		Name: config.OpOptimization, Method: http.MethodGet, Path: "/agents/optimize-spending", Auth: true,
	}
	OpMotivation = pipeline.Operation{
		Name: config.OpMotivation, Method: http.MethodPost, Path: "/agents/learning-motivation", Auth: true,
	}
	OpAdvice = pipeline.Operation{
		Name: config.OpAdvice, Method: http.MethodPost, Path: "/agents/financial-advice", Auth: true,
	}
)

// Caller is the pipeline surface the orchestrator uses.
type Caller interface {
	CallJSON(ctx context.Context, op pipeline.Operation, req pipeline.Request, out any) error
}

// Invalidator ends the session a rejected call was issued under.
type Invalidator interface {
	Invalidate(ctx context.Context, gen uint64) bool
}

// State is the current result of every advisory operation.
type State struct {
	HealthScore  core.AdvisoryResult[core.HealthScore]  `json:"health_score"`
	Optimization core.AdvisoryResult[core.Optimization] `json:"optimization"`
	Motivation   core.AdvisoryResult[core.Motivation]   `json:"motivation"`
	Advice       core.AdvisoryResult[core.Advice]       `json:"advice"`
}

type Orchestrator struct {
	caller   Caller
	sessions Invalidator
	logger   *log.Logger
	now      func() time.Time

	health       slot[core.HealthScore]
	optimization slot[core.Optimization]
	motivation   slot[core.Motivation]
	advice       slot[core.Advice]
}

func New(caller Caller, sessions Invalidator, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Discard()
	}
	return &Orchestrator{
		caller:   caller,
		sessions: sessions,
		logger:   logger.WithComponent(log.ComponentAdvisory),
		now:      time.Now,
	}
}

// FetchHealthScore refreshes the health score.
func (o *Orchestrator) FetchHealthScore(ctx context.Context) core.AdvisoryResult[core.HealthScore] {
	return run(ctx, o, &o.health, OpHealthScore, pipeline.Request{}, fallback.HealthScore)
}

// FetchOptimization refreshes the spending optimization.
func (o *Orchestrator) FetchOptimization(ctx context.Context) core.AdvisoryResult[core.Optimization] {
	return run(ctx, o, &o.optimization, OpOptimization, pipeline.Request{}, fallback.Optimization)
}

// FetchMotivation refreshes the motivation content.
func (o *Orchestrator) FetchMotivation(ctx context.Context) core.AdvisoryResult[core.Motivation] {
	req := pipeline.Request{JSON: map[string]any{"context": map[string]any{}}}
	return run(ctx, o, &o.motivation, OpMotivation, req, fallback.Motivation)
}

// Ask sends a free-text question. A blank question issues no call, leaves the
// state untouched and reports false.
func (o *Orchestrator) Ask(ctx context.Context, question string) (core.AdvisoryResult[core.Advice], bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		return o.advice.load(), false
	}
	req := pipeline.Request{Query: url.Values{"question": {question}}}
	return run(ctx, o, &o.advice, OpAdvice, req, func() core.Advice {
		return fallback.Advice(question)
	}), true
}

// FetchAll refreshes the three reads concurrently and returns the state once all
// of them have settled.
func (o *Orchestrator) FetchAll(ctx context.Context) State {
	var g errgroup.Group
	g.Go(func() error { o.FetchHealthScore(ctx); return nil })
	g.Go(func() error { o.FetchOptimization(ctx); return nil })
	g.Go(func() error { o.FetchMotivation(ctx); return nil })
	_ = g.Wait()
	return o.State()
}

// State returns the latest applied result of every operation.
func (o *Orchestrator) State() State {
	return State{
		HealthScore:  o.health.load(),
		Optimization: o.optimization.load(),
		Motivation:   o.motivation.load(),
		Advice:       o.advice.load(),
	}
}

// Reset drops every result, e.g. after logout. In-flight calls are orphaned
// and their results discarded.
func (o *Orchestrator) Reset() {
	o.health.reset()
	o.optimization.reset()
	o.motivation.reset()
	o.advice.reset()
}

// run issues op and settles the outcome into s. The returned result answers
// this call; State reflects it only if no newer call was issued meanwhile.
func run[T any](ctx context.Context, o *Orchestrator, s *slot[T], op pipeline.Operation, req pipeline.Request, fallbackFn func() T) core.AdvisoryResult[T] {
	seq := s.begin()

	var payload T
	err := o.caller.CallJSON(ctx, op, req, &payload)

	result := core.AdvisoryResult[T]{
		Status:      core.StatusReady,
		Payload:     payload,
		RetrievedAt: o.now(),
		Seq:         seq,
	}
	if err != nil {
		perr := pipeline.AsError(err)
		if perr.Kind == pipeline.Unauthenticated {
			o.sessions.Invalidate(ctx, perr.SessionGen)
		}
		result.Status = core.StatusFallback
		result.Payload = fallbackFn()
		result.Failure = perr.Kind.String()
		o.logger.WarnContext(ctx, "Advisory call degraded to fallback",
			log.FieldOperation, op.Name,
			log.FieldErrorKind, result.Failure,
			log.FieldSequence, seq)
	}

	if !s.settle(seq, result) {
		o.logger.DebugContext(ctx, "Discarded stale advisory result",
			log.FieldOperation, op.Name, log.FieldSequence, seq)
	}
	return result
}

// slot holds one operation's result. seq tags every issued call; only the
// most recently issued one may settle.
type slot[T any] struct {
	mu     sync.Mutex
	seq    uint64
	result core.AdvisoryResult[T]
}

func (s *slot[T]) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.result.Status = core.StatusPending
	s.result.Seq = s.seq
	return s.seq
}

func (s *slot[T]) settle(seq uint64, r core.AdvisoryResult[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		return false
	}
	s.result = r
	return true
}

func (s *slot[T]) load() core.AdvisoryResult[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.result
	if r.Status == "" {
		r.Status = core.StatusPending
	}
	return r
}

func (s *slot[T]) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.result = core.AdvisoryResult[T]{Seq: s.seq}
}
