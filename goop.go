package goop

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/adapters/memory"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/session"
	"github.com/aretw0/goop/pkg/stream"
)

// SessionOptions configures a new session.
type SessionOptions = runtime.SessionOptions

// TurnOptions adjusts a session for a follow-up message.
type TurnOptions = runtime.TurnOptions

// Agent is the high-level entry point for the goop library.
// It wraps the workflow engine and provides a simplified API for consumers.
type Agent struct {
	engine   *runtime.Engine
	sessions *session.Manager
}

type settings struct {
	store      ports.CheckpointStore
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	logger     *slog.Logger
	engineOpts []runtime.Option
}

// Option defines a functional option for configuring the Agent.
type Option func(*settings)

// WithStore persists checkpoints in store. The default is an in-memory store.
func WithStore(store ports.CheckpointStore) Option {
	return func(s *settings) { s.store = store }
}

// WithLocker serializes sessions across processes.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(s *settings) {
		s.locker = locker
		s.lockTTL = ttl
	}
}

// WithPersona sets the system message of new sessions.
func WithPersona(persona string) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, runtime.WithPersona(persona)) }
}

// WithStepLimit bounds the node visits of a single request.
func WithStepLimit(n int) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, runtime.WithStepLimit(n)) }
}

// WithProtectedActions replaces the default set of actions that need review.
func WithProtectedActions(names ...string) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, runtime.WithProtectedActions(names...)) }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, runtime.WithLifecycleHooks(hooks)) }
}

// WithLogger sets a custom structured logger for the agent.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New creates an Agent that reasons with model and acts through catalog.
func New(model ports.ModelBackend, catalog ports.ActionCatalog, opts ...Option) *Agent {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = memory.NewStore()
	}

	var sessionOpts []session.Option
	if s.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(s.locker), session.WithLockTTL(s.lockTTL))
	}
	engineOpts := s.engineOpts
	if s.logger != nil {
		sessionOpts = append(sessionOpts, session.WithLogger(s.logger))
		engineOpts = append(engineOpts, runtime.WithLogger(s.logger))
	}

	sessions := session.NewManager(s.store, sessionOpts...)
	return &Agent{
		engine:   runtime.NewEngine(model, catalog, sessions, engineOpts...),
		sessions: sessions,
	}
}

// Engine returns the underlying workflow engine.
func (a *Agent) Engine() *runtime.Engine {
	return a.engine
}

// Start creates a session and runs it until it ends or suspends.
func (a *Agent) Start(ctx context.Context, sessionID, text string, opts SessionOptions) iter.Seq2[domain.OutputEvent, error] {
	return a.engine.Start(ctx, sessionID, text, opts)
}

// Send appends a human message to an existing session and runs it.
func (a *Agent) Send(ctx context.Context, sessionID, text string) iter.Seq2[domain.OutputEvent, error] {
	return a.engine.Send(ctx, sessionID, text)
}

// SendWith is Send with per-turn options, e.g. switching on auto-approval.
func (a *Agent) SendWith(ctx context.Context, sessionID, text string, opts TurnOptions) iter.Seq2[domain.OutputEvent, error] {
	return a.engine.SendWith(ctx, sessionID, text, opts)
}

// Continue re-runs a session from its last checkpoint.
func (a *Agent) Continue(ctx context.Context, sessionID string) iter.Seq2[domain.OutputEvent, error] {
	return a.engine.Continue(ctx, sessionID)
}

// Resume answers the pending review of a suspended session.
func (a *Agent) Resume(ctx context.Context, sessionID string, res domain.ReviewResolution) iter.Seq2[string, error] {
	return stream.Fragments(a.engine.Resume(ctx, sessionID, res))
}

// Chat sends text to the session, starting it first if it does not exist,
// and returns the rendered model output.
func (a *Agent) Chat(ctx context.Context, sessionID, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var events iter.Seq2[domain.OutputEvent, error]
		_, err := a.engine.Inspect(ctx, sessionID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			events = a.engine.Start(ctx, sessionID, text, SessionOptions{})
		case err != nil:
			yield("", err)
			return
		default:
			events = a.engine.Send(ctx, sessionID, text)
		}
		for frag, err := range stream.Fragments(events) {
			if !yield(frag, err) {
				return
			}
		}
	}
}

// PendingReview returns the review a suspended session is waiting for.
func (a *Agent) PendingReview(ctx context.Context, sessionID string) (*domain.ReviewRequest, error) {
	return a.engine.PendingReview(ctx, sessionID)
}

// Inspect returns the latest checkpoint of a session.
func (a *Agent) Inspect(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return a.engine.Inspect(ctx, sessionID)
}

// Sessions lists the stored session ids.
func (a *Agent) Sessions(ctx context.Context) ([]string, error) {
	return a.engine.Sessions(ctx)
}

// EndSession deletes a session.
func (a *Agent) EndSession(ctx context.Context, sessionID string) error {
	return a.engine.EndSession(ctx, sessionID)
}
