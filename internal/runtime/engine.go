package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/aretw0/goop/internal/logging"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStepLimit bounds node executions per top-level call.
const DefaultStepLimit = 25

// TracerName is the instrumentation scope of engine spans.
const TracerName = "github.com/aretw0/goop"

// errConsumerGone ends a run quietly once the caller stops ranging.
var errConsumerGone = errors.New("output consumer stopped")

// SessionOptions configures a new session.
type SessionOptions struct {
	AutoApprove bool
	// ProtectedActions overrides the engine default when non-nil.
	ProtectedActions []string
}

// TurnOptions adjusts a session for a follow-up message.
type TurnOptions struct {
	// AutoApprove switches the session to auto-approval from this turn on.
	// False keeps the stored setting.
	AutoApprove bool
}

// Engine drives sessions through the reasoning, review and execution nodes.
type Engine struct {
	sessions  *session.Manager
	model     ports.ModelBackend
	catalog   ports.ActionCatalog
	persona   string
	stepLimit int
	protected []string
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithPersona replaces the system message text.
func WithPersona(persona string) Option {
	return func(e *Engine) {
		e.persona = persona
	}
}

// WithStepLimit sets the maximum node executions per call.
func WithStepLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stepLimit = n
		}
	}
}

// WithProtectedActions sets the protected actions of sessions that do not name their own.
func WithProtectedActions(names ...string) Option {
	return func(e *Engine) {
		e.protected = names
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer used for node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an engine. Sessions are persisted through the manager.
func NewEngine(model ports.ModelBackend, catalog ports.ActionCatalog, sessions *session.Manager, opts ...Option) *Engine {
	e := &Engine{
		sessions:  sessions,
		model:     model,
		catalog:   catalog,
		persona:   DefaultPersona,
		stepLimit: DefaultStepLimit,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(TracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runner carries the caller's yield through a run.
type runner struct {
	yield func(domain.OutputEvent, error) bool
	gone  bool
}

func (r *runner) emit(ev domain.OutputEvent) bool {
	if r.gone {
		return false
	}
	if !r.yield(ev, nil) {
		r.gone = true
	}
	return !r.gone
}

// owned returns a sequence that runs body while owning the session.
// A non-nil error is always the last element.
func (e *Engine) owned(ctx context.Context, sessionID string, body func(context.Context, *runner) error) iter.Seq2[domain.OutputEvent, error] {
	return func(yield func(domain.OutputEvent, error) bool) {
		release, err := e.sessions.Acquire(ctx, sessionID)
		if err != nil {
			yield(domain.OutputEvent{}, err)
			return
		}
		defer release()

		r := &runner{yield: yield}
		err = body(ctx, r)
		if err != nil && !r.gone && !errors.Is(err, errConsumerGone) {
			yield(domain.OutputEvent{}, err)
		}
	}
}

// Start creates a session from the first human message and runs it.
func (e *Engine) Start(ctx context.Context, sessionID, text string, opts SessionOptions) iter.Seq2[domain.OutputEvent, error] {
	return e.owned(ctx, sessionID, func(ctx context.Context, r *runner) error {
		if _, err := e.sessions.Load(ctx, sessionID); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, sessionID)
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}

		protected := opts.ProtectedActions
		if protected == nil {
			protected = e.protected
		}
		cp := &domain.Checkpoint{
			SessionID: sessionID,
			State:     domain.NewConversationState(text, opts.AutoApprove, protected),
			Next:      domain.NodeReasoning,
			Status:    domain.StatusActive,
		}
		if err := e.commit(ctx, nil, cp); err != nil {
			return err
		}
		e.logger.Info("Session started", "session_id", sessionID, "auto_approve", opts.AutoApprove)
		return e.run(ctx, r, cp, nil)
	})
}

// Send appends a follow-up human message to a session and runs it.
func (e *Engine) Send(ctx context.Context, sessionID, text string) iter.Seq2[domain.OutputEvent, error] {
	return e.SendWith(ctx, sessionID, text, TurnOptions{})
}

// SendWith is Send with per-turn options.
func (e *Engine) SendWith(ctx context.Context, sessionID, text string, opts TurnOptions) iter.Seq2[domain.OutputEvent, error] {
	return e.owned(ctx, sessionID, func(ctx context.Context, r *runner) error {
		cp, err := e.sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		switch cp.Next {
		case domain.NodeReview:
			return fmt.Errorf("%w: %s", domain.ErrReviewPending, sessionID)
		case domain.NodeExecute:
			return &domain.TransitionError{From: domain.NodeExecute, To: domain.NodeReasoning}
		}

		next := cp.Clone()
		next.State.History = append(next.State.History, domain.HumanMessage(text))
		if opts.AutoApprove {
			next.State.AutoApprove = true
		}
		next.Next = domain.NodeReasoning
		next.Status = domain.StatusActive
		if err := e.commit(ctx, cp, next); err != nil {
			return err
		}
		return e.run(ctx, r, next, nil)
	})
}

// Continue runs a session from its checkpoint, e.g. after a backend failure
// or an exhausted step budget.
func (e *Engine) Continue(ctx context.Context, sessionID string) iter.Seq2[domain.OutputEvent, error] {
	return e.owned(ctx, sessionID, func(ctx context.Context, r *runner) error {
		cp, err := e.sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if cp.PendingReview != nil {
			return fmt.Errorf("%w: %s", domain.ErrReviewPending, sessionID)
		}
		return e.run(ctx, r, cp, nil)
	})
}

// Resume applies a review resolution to a suspended session and runs it.
// An invalid resolution fails before anything changes.
func (e *Engine) Resume(ctx context.Context, sessionID string, res domain.ReviewResolution) iter.Seq2[domain.OutputEvent, error] {
	return e.owned(ctx, sessionID, func(ctx context.Context, r *runner) error {
		cp, err := e.sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if cp.PendingReview == nil || cp.Next != domain.NodeReview {
			return fmt.Errorf("%w: %s", domain.ErrNoPendingReview, sessionID)
		}

		actions, err := e.catalog.Actions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list actions: %w", err)
		}
		next, state, err := Resolve(*cp.PendingReview, cp.State, res, schemaLookup(actions))
		if err != nil {
			return err
		}
		return e.run(ctx, r, cp, &resolution{request: *cp.PendingReview, res: res, next: next, state: state})
	})
}

// PendingReview returns the open review request, or nil if the session is not suspended.
func (e *Engine) PendingReview(ctx context.Context, sessionID string) (*domain.ReviewRequest, error) {
	cp, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return cp.Clone().PendingReview, nil
}

// Inspect returns the session checkpoint.
func (e *Engine) Inspect(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return e.sessions.Load(ctx, sessionID)
}

// Sessions lists stored sessions.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// EndSession releases the session checkpoint.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("Session ended", "session_id", sessionID)
	return nil
}

type resolution struct {
	request domain.ReviewRequest
	res     domain.ReviewResolution
	next    domain.NodeID
	state   domain.ConversationState
}

func schemaLookup(actions []domain.ActionDescriptor) SchemaLookup {
	return func(name string) map[string]any {
		for _, a := range actions {
			if a.Name == name {
				return a.Schema
			}
		}
		return nil
	}
}

// commit writes next as the successor of prev.
func (e *Engine) commit(ctx context.Context, prev, next *domain.Checkpoint) error {
	if prev != nil {
		next.Version = prev.Version + 1
	} else {
		next.Version = 1
	}
	next.UpdatedAt = e.now().UTC()
	if err := e.sessions.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if e.hooks.OnCheckpoint != nil {
		e.hooks.OnCheckpoint(ctx, &domain.CheckpointEvent{
			EventBase:  e.base(next.SessionID),
			Checkpoint: next.Clone(),
			Diff:       domain.Diff(prev, next),
		})
	}
	return nil
}

func (e *Engine) base(sessionID string) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), SessionID: sessionID}
}

// run executes nodes until the graph ends, a review suspends, or an error occurs.
func (e *Engine) run(ctx context.Context, r *runner, cp *domain.Checkpoint, resolved *resolution) error {
	for steps := 0; cp.Next != domain.NodeEnd; steps++ {
		if steps >= e.stepLimit {
			e.logger.Warn("Step limit exceeded", "session_id", cp.SessionID, "limit", e.stepLimit, "next", cp.Next)
			return &domain.StepLimitError{Limit: e.stepLimit, Next: cp.Next}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		next, suspended, err := e.step(ctx, r, cp, resolved)
		if err != nil {
			return err
		}
		if suspended {
			return nil
		}
		resolved = nil
		cp = next
	}
	return nil
}

// step executes the node cp.Next and commits its successor checkpoint.
func (e *Engine) step(ctx context.Context, r *runner, cp *domain.Checkpoint, resolved *resolution) (_ *domain.Checkpoint, suspended bool, err error) {
	node := cp.Next
	ctx, span := e.tracer.Start(ctx, "goop.node."+string(node), trace.WithAttributes(
		attribute.String("goop.session_id", cp.SessionID),
		attribute.String("goop.node", string(node)),
	))
	e.nodeEnter(ctx, cp.SessionID, node)

	var next domain.NodeID
	defer func() {
		if err != nil && !errors.Is(err, errConsumerGone) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("goop.next", string(next)))
		span.End()
		e.nodeLeave(ctx, cp.SessionID, node, next, err)
	}()

	var (
		state  domain.ConversationState
		events []domain.OutputEvent
	)

	switch node {
	case domain.NodeReasoning:
		state, events, err = e.reason(ctx, r, cp)
		if err != nil {
			return nil, false, err
		}
		last := state.History[len(state.History)-1]
		next = Route(last, state.ProtectedActionNames, state.AutoApprove).Node()

	case domain.NodeReview:
		if resolved == nil {
			return nil, true, e.suspend(ctx, r, cp)
		}
		state, next = resolved.state, resolved.next
		e.resolved(ctx, cp.SessionID, resolved)

	case domain.NodeExecute:
		var results []domain.Message
		state, results, err = Execute(ctx, e.catalog, cp.State, e.actionObserver(cp.SessionID))
		if err != nil {
			return nil, false, err
		}
		for i := range results {
			events = append(events, domain.OutputEvent{Kind: domain.OutputActionResult, Node: node, Result: &results[i]})
		}
		next = domain.NodeReasoning

	default:
		return nil, false, fmt.Errorf("%w: unknown node %q", domain.ErrInvalidTransition, node)
	}

	if err := CheckTransition(node, next); err != nil {
		return nil, false, err
	}

	successor := &domain.Checkpoint{
		SessionID: cp.SessionID,
		State:     state,
		Next:      next,
		Status:    domain.StatusActive,
	}
	if next == domain.NodeEnd {
		successor.Status = domain.StatusStopped
		events = append(events, domain.OutputEvent{Kind: domain.OutputStopped, Node: node})
	}
	if err := e.commit(ctx, cp, successor); err != nil {
		return nil, false, err
	}

	for _, ev := range events {
		if !r.emit(ev) {
			return nil, false, errConsumerGone
		}
	}
	return successor, false, nil
}

// reason runs the reasoning node. Streamed fragments are emitted as they
// arrive; a non-streaming backend's message is replayed after the commit.
func (e *Engine) reason(ctx context.Context, r *runner, cp *domain.Checkpoint) (domain.ConversationState, []domain.OutputEvent, error) {
	actions, err := e.catalog.Actions(ctx)
	if err != nil {
		return cp.State, nil, fmt.Errorf("failed to list actions: %w", err)
	}

	streamed := false
	onChunk := func(_ context.Context, ch domain.ModelChunk) error {
		streamed = true
		if !r.emit(chunkEvent(ch)) {
			return errConsumerGone
		}
		return nil
	}

	state, err := Reason(ctx, e.model, actions, e.persona, cp.State, onChunk)
	if err != nil {
		if r.gone {
			return cp.State, nil, errConsumerGone
		}
		e.logger.Error("Reasoning failed", "session_id", cp.SessionID, "err", err)
		return cp.State, nil, err
	}

	var events []domain.OutputEvent
	if !streamed {
		events = messageEvents(state.History[len(state.History)-1])
	}
	return state, events, nil
}

func (e *Engine) suspend(ctx context.Context, r *runner, cp *domain.Checkpoint) error {
	req, err := NextReview(cp.State)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: review reached without a protected call", domain.ErrInvalidToolCallContext)
	}

	suspended := cp.Clone()
	suspended.PendingReview = req
	suspended.Status = domain.StatusSuspended
	if err := e.commit(ctx, cp, suspended); err != nil {
		return err
	}

	e.logger.Info("Awaiting review", "session_id", cp.SessionID, "action", req.ActionCall.Name, "call_id", req.ActionCall.ID)
	if e.hooks.OnSuspend != nil {
		e.hooks.OnSuspend(ctx, &domain.ReviewEvent{EventBase: e.base(cp.SessionID), Request: *req})
	}
	r.emit(domain.OutputEvent{Kind: domain.OutputSuspended, Node: domain.NodeReview, Review: req})
	return nil
}

func (e *Engine) resolved(ctx context.Context, sessionID string, res *resolution) {
	e.logger.Info("Review resolved", "session_id", sessionID, "action", res.res.Action, "call_id", res.request.ActionCall.ID)
	if e.hooks.OnResolve != nil {
		rr := res.res
		e.hooks.OnResolve(ctx, &domain.ReviewEvent{EventBase: e.base(sessionID), Request: res.request, Resolution: &rr})
	}
}

func (e *Engine) nodeEnter(ctx context.Context, sessionID string, node domain.NodeID) {
	e.logger.Debug("Entering node", "session_id", sessionID, "node", node)
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: e.base(sessionID), NodeID: node})
	}
}

func (e *Engine) nodeLeave(ctx context.Context, sessionID string, node, next domain.NodeID, err error) {
	if errors.Is(err, errConsumerGone) {
		err = nil
	}
	e.logger.Debug("Leaving node", "session_id", sessionID, "node", node, "next", next)
	if e.hooks.OnNodeLeave != nil {
		e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{EventBase: e.base(sessionID), NodeID: node, Next: next, Err: err})
	}
}

func (e *Engine) actionObserver(sessionID string) ActionObserver {
	return ActionObserver{
		Before: func(ctx context.Context, call domain.ActionCall) {
			e.logger.Debug("Invoking action", "session_id", sessionID, "action", call.Name, "call_id", call.ID)
			if e.hooks.OnActionCall != nil {
				e.hooks.OnActionCall(ctx, &domain.ActionEvent{EventBase: e.base(sessionID), Call: call})
			}
		},
		After: func(ctx context.Context, call domain.ActionCall, result domain.Message, err error, took time.Duration) {
			if err != nil {
				e.logger.Warn("Action failed", "session_id", sessionID, "action", call.Name, "call_id", call.ID, "err", err)
			}
			if e.hooks.OnActionReturn != nil {
				e.hooks.OnActionReturn(ctx, &domain.ActionEvent{
					EventBase: e.base(sessionID),
					Call:      call,
					Output:    result.Text,
					IsError:   err != nil,
					Duration:  took,
				})
			}
		},
	}
}

func chunkEvent(ch domain.ModelChunk) domain.OutputEvent {
	switch {
	case ch.Chunk != nil:
		c := *ch.Chunk
		return domain.OutputEvent{Kind: domain.OutputActionCallChunk, Node: domain.NodeReasoning, Chunk: &c}
	case ch.Finish != "":
		return domain.OutputEvent{Kind: domain.OutputFinish, Node: domain.NodeReasoning, Reason: ch.Finish}
	default:
		return domain.OutputEvent{Kind: domain.OutputToken, Node: domain.NodeReasoning, Content: ch.Content}
	}
}

// messageEvents replays a complete assistant message as output events.
func messageEvents(msg domain.Message) []domain.OutputEvent {
	var events []domain.OutputEvent
	if msg.Text != "" {
		events = append(events, domain.OutputEvent{Kind: domain.OutputToken, Node: domain.NodeReasoning, Content: msg.Text})
	}
	for i, c := range msg.ActionCalls {
		events = append(events, domain.OutputEvent{
			Kind: domain.OutputActionCallChunk,
			Node: domain.NodeReasoning,
			Chunk: &domain.ActionCallChunk{
				Index:     i,
				CallID:    c.ID,
				Name:      c.Name,
				Arguments: c.ArgumentsJSON(),
			},
		})
	}
	reason := domain.FinishStop
	if msg.HasActions() {
		reason = domain.FinishToolCalls
	}
	return append(events, domain.OutputEvent{Kind: domain.OutputFinish, Node: domain.NodeReasoning, Reason: reason})
}
