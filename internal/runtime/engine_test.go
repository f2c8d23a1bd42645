package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RejectScenario(t *testing.T) {
	model := newModel(propose("msg-1", deleteX))
	actions := newFileActions()
	engine, _ := newEngine(t, model, actions)
	ctx := context.Background()

	events, err := drain(engine.Start(ctx, "s1", "remove /tmp/x", protectDelete))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, domain.OutputSuspended, last.Kind)
	assert.Equal(t, "call-1", last.Review.ActionCall.ID)

	req, err := engine.PendingReview(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, deleteX, req.ActionCall)

	events, err = drain(engine.Resume(ctx, "s1", domain.Reject()))
	require.NoError(t, err)
	assert.Equal(t, domain.OutputStopped, events[len(events)-1].Kind)

	assert.Empty(t, actions.Deleted(), "rejected action must not run")

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	assert.Equal(t, domain.SystemMessage(runtime.DefaultPersona), second[0])
	notice := second[len(second)-1]
	assert.Equal(t, domain.RoleActionResult, notice.Role)
	assert.Equal(t, domain.RejectionNotice, notice.Text)
	assert.Equal(t, "call-1", notice.ActionCallID)

	req, err = engine.PendingReview(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestEngine_EditScenario(t *testing.T) {
	model := newModel(propose("msg-1", deleteX))
	actions := newFileActions()
	engine, _ := newEngine(t, model, actions)
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s1", "remove /tmp/x", protectDelete))
	require.NoError(t, err)

	events, err := drain(engine.Resume(ctx, "s1", domain.Edit(`{"path":"/tmp/y"}`)))
	require.NoError(t, err)

	assert.Equal(t, []string{"/tmp/y"}, actions.Deleted())
	require.Equal(t, domain.OutputActionResult, events[0].Kind)
	assert.Equal(t, "deleted /tmp/y", events[0].Result.Text)

	cp, err := engine.Inspect(ctx, "s1")
	require.NoError(t, err)
	h := cp.State.History
	require.Len(t, h, 4, "edit replaces, it does not append")
	assert.Equal(t, "msg-1", h[1].ID)
	assert.Equal(t, "/tmp/y", h[1].ActionCalls[0].Arguments["path"])
	assert.Equal(t, "call-1", h[2].ActionCallID)
	assert.Equal(t, domain.StatusStopped, cp.Status)
}

func TestEngine_AutoApproveScenario(t *testing.T) {
	model := newModel(propose("msg-1", deleteX))
	actions := newFileActions()
	engine, _ := newEngine(t, model, actions)

	opts := protectDelete
	opts.AutoApprove = true
	events, err := drain(engine.Start(context.Background(), "s1", "remove /tmp/x", opts))
	require.NoError(t, err)

	assert.NotContains(t, kinds(events), domain.OutputSuspended)
	assert.Equal(t, []string{"/tmp/x"}, actions.Deleted())
}

func TestEngine_ResumeEquivalence(t *testing.T) {
	ctx := context.Background()
	script := func() *scriptedModel {
		return newModel(propose("msg-1", deleteX), reply{msg: domain.AssistantMessage("msg-2", "all clean")})
	}

	paused, _ := newEngine(t, script(), newFileActions())
	_, err := drain(paused.Start(ctx, "s", "remove /tmp/x", protectDelete))
	require.NoError(t, err)
	_, err = drain(paused.Resume(ctx, "s", domain.Approve()))
	require.NoError(t, err)

	straight, _ := newEngine(t, script(), newFileActions())
	_, err = drain(straight.Start(ctx, "s", "remove /tmp/x", runtime.SessionOptions{AutoApprove: true, ProtectedActions: []string{"deleteFile"}}))
	require.NoError(t, err)

	a, err := paused.Inspect(ctx, "s")
	require.NoError(t, err)
	b, err := straight.Inspect(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, b.State.History, a.State.History)
}

func TestEngine_CheckpointAfterEveryStep(t *testing.T) {
	read := domain.ActionCall{ID: "r1", Name: "readFile", Arguments: map[string]any{"path": "/a"}}
	model := newModel(propose("msg-1", read))

	var (
		mu          sync.Mutex
		checkpoints []*domain.Checkpoint
		left        []domain.NodeID
	)
	hooks := domain.LifecycleHooks{
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			mu.Lock()
			defer mu.Unlock()
			checkpoints = append(checkpoints, e.Checkpoint)
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			mu.Lock()
			defer mu.Unlock()
			left = append(left, e.NodeID)
		},
	}
	engine, store := newEngine(t, model, newFileActions(), runtime.WithLifecycleHooks(hooks))

	_, err := drain(engine.Start(context.Background(), "s", "read /a", runtime.SessionOptions{}))
	require.NoError(t, err)

	// initial, reasoning, execute, reasoning
	require.Len(t, checkpoints, 4)
	assert.Equal(t, domain.NodeReasoning, checkpoints[0].Next)
	assert.Equal(t, domain.NodeExecute, checkpoints[1].Next)
	assert.Equal(t, domain.NodeReasoning, checkpoints[2].Next)
	assert.Equal(t, domain.NodeEnd, checkpoints[3].Next)
	for i, cp := range checkpoints {
		assert.Equal(t, int64(i+1), cp.Version)
	}
	assert.Equal(t, []domain.NodeID{domain.NodeReasoning, domain.NodeExecute, domain.NodeReasoning}, left)

	stored, err := store.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)
}

func TestEngine_InvalidResolutionKeepsCheckpoint(t *testing.T) {
	engine, store := newEngine(t, newModel(propose("msg-1", deleteX)), newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s1", "remove", protectDelete))
	require.NoError(t, err)
	before, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	_, err = drain(engine.Resume(ctx, "s1", domain.Edit(`{"path": 7}`)))
	require.ErrorIs(t, err, domain.ErrInvalidResolution)

	after, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// The review is still open and can be answered properly.
	_, err = drain(engine.Resume(ctx, "s1", domain.Approve()))
	require.NoError(t, err)
}

func TestEngine_ResumeWithoutPendingReview(t *testing.T) {
	engine, _ := newEngine(t, newModel(), newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s1", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)

	_, err = drain(engine.Resume(ctx, "s1", domain.Approve()))
	assert.ErrorIs(t, err, domain.ErrNoPendingReview)

	_, err = drain(engine.Resume(ctx, "missing", domain.Approve()))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_StartTwice(t *testing.T) {
	engine, _ := newEngine(t, newModel(), newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s1", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)
	_, err = drain(engine.Start(ctx, "s1", "hi again", runtime.SessionOptions{}))
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestEngine_StepLimit(t *testing.T) {
	read := func(id string) reply {
		return propose("m-"+id, domain.ActionCall{ID: id, Name: "readFile", Arguments: map[string]any{"path": "/" + id}})
	}
	model := newModel(read("1"), read("2"), read("3"))
	engine, store := newEngine(t, model, newFileActions(), runtime.WithStepLimit(3))
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "loop", runtime.SessionOptions{}))
	require.ErrorIs(t, err, domain.ErrStepLimitExceeded)
	var limitErr *domain.StepLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Equal(t, domain.NodeExecute, limitErr.Next)

	// reasoning, execute, reasoning ran; the checkpoint points at the next execute.
	cp, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeExecute, cp.Next)
	assert.Equal(t, domain.StatusActive, cp.Status)

	// Continuing gets a fresh budget.
	_, err = drain(engine.Continue(ctx, "s"))
	require.ErrorIs(t, err, domain.ErrStepLimitExceeded)
	_, err = drain(engine.Continue(ctx, "s"))
	require.NoError(t, err)

	cp, err = store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, cp.Status)
}

func TestEngine_BackendUnavailable(t *testing.T) {
	model := newModel(reply{err: errors.New("connection refused")})
	engine, store := newEngine(t, model, newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "hi", runtime.SessionOptions{}))
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	cp, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeReasoning, cp.Next)
	assert.Len(t, cp.State.History, 1)

	// Retrying from the same checkpoint succeeds.
	_, err = drain(engine.Continue(ctx, "s"))
	require.NoError(t, err)
	cp, err = store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, cp.State.History, 2)
}

func TestEngine_SessionBusy(t *testing.T) {
	model := newModel(reply{block: true})
	engine, _ := newEngine(t, model, newFileActions())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := drain(engine.Start(ctx, "s", "hi", runtime.SessionOptions{}))
		done <- err
	}()

	require.Eventually(t, func() bool { return len(model.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	_, err := drain(engine.Continue(context.Background(), "s"))
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.ErrorIs(t, engine.EndSession(context.Background(), "s"), domain.ErrSessionBusy)

	// Other sessions are unaffected.
	_, err = drain(engine.Start(context.Background(), "other", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// Cancellation left the initial checkpoint intact.
	cp, err := engine.Inspect(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeReasoning, cp.Next)
}

func TestEngine_StreamsChunks(t *testing.T) {
	model := newModel(reply{
		msg: domain.AssistantMessage("m1", "Hello there"),
		chunks: []domain.ModelChunk{
			{Content: "Hello "},
			{Content: "there"},
			{Finish: domain.FinishStop},
		},
	})
	engine, _ := newEngine(t, model, newFileActions())

	events, err := drain(engine.Start(context.Background(), "s", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []domain.OutputKind{
		domain.OutputToken, domain.OutputToken, domain.OutputFinish, domain.OutputStopped,
	}, kinds(events))
	assert.Equal(t, "Hello ", events[0].Content)
}

func TestEngine_ReplaysNonStreamingMessage(t *testing.T) {
	model := newModel(reply{msg: domain.AssistantMessage("m1", "Deleting.", deleteX)})
	engine, _ := newEngine(t, model, newFileActions())

	events, err := drain(engine.Start(context.Background(), "s", "hi", protectDelete))
	require.NoError(t, err)
	assert.Equal(t, []domain.OutputKind{
		domain.OutputToken, domain.OutputActionCallChunk, domain.OutputFinish, domain.OutputSuspended,
	}, kinds(events))
	assert.Equal(t, "deleteFile", events[1].Chunk.Name)
	assert.JSONEq(t, `{"path":"/tmp/x"}`, events[1].Chunk.Arguments)
	assert.Equal(t, domain.FinishToolCalls, events[2].Reason)
}

func TestEngine_ConsumerBreakKeepsCheckpoint(t *testing.T) {
	read := domain.ActionCall{ID: "r1", Name: "readFile", Arguments: map[string]any{"path": "/a"}}
	model := newModel(propose("msg-1", read))
	actions := newFileActions()
	engine, store := newEngine(t, model, actions)
	ctx := context.Background()

	for ev, err := range engine.Start(ctx, "s", "read", runtime.SessionOptions{}) {
		require.NoError(t, err)
		if ev.Kind == domain.OutputFinish {
			break
		}
	}

	cp, err := store.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeExecute, cp.Next)

	// The session is released and picks up where it stopped.
	_, err = drain(engine.Continue(ctx, "s"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, actions.read)
}

func TestEngine_SendFollowUp(t *testing.T) {
	model := newModel(reply{msg: domain.AssistantMessage("m1", "hello")}, reply{msg: domain.AssistantMessage("m2", "bye")})
	engine, _ := newEngine(t, model, newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)
	_, err = drain(engine.Send(ctx, "s", "see you"))
	require.NoError(t, err)

	cp, err := engine.Inspect(ctx, "s")
	require.NoError(t, err)
	roles := []domain.Role{}
	for _, m := range cp.State.History {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []domain.Role{domain.RoleHuman, domain.RoleAssistant, domain.RoleHuman, domain.RoleAssistant}, roles)
}

func TestEngine_SendWithAutoApprove(t *testing.T) {
	model := newModel(reply{msg: domain.AssistantMessage("m1", "hello")}, propose("msg-2", deleteX))
	actions := newFileActions()
	engine, _ := newEngine(t, model, actions)
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "hi", protectDelete))
	require.NoError(t, err)

	events, err := drain(engine.SendWith(ctx, "s", "remove /tmp/x", runtime.TurnOptions{AutoApprove: true}))
	require.NoError(t, err)
	assert.NotContains(t, kinds(events), domain.OutputSuspended)
	assert.Equal(t, []string{"/tmp/x"}, actions.Deleted())

	cp, err := engine.Inspect(ctx, "s")
	require.NoError(t, err)
	assert.True(t, cp.State.AutoApprove)
	assert.Equal(t, domain.StatusStopped, cp.Status)
}

func TestEngine_SendWhileSuspended(t *testing.T) {
	engine, _ := newEngine(t, newModel(propose("msg-1", deleteX)), newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "remove", protectDelete))
	require.NoError(t, err)

	_, err = drain(engine.Send(ctx, "s", "never mind"))
	assert.ErrorIs(t, err, domain.ErrReviewPending)
	_, err = drain(engine.Continue(ctx, "s"))
	assert.ErrorIs(t, err, domain.ErrReviewPending)
}

func TestEngine_EndSession(t *testing.T) {
	engine, _ := newEngine(t, newModel(), newFileActions())
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "hi", runtime.SessionOptions{}))
	require.NoError(t, err)

	ids, err := engine.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, ids)

	require.NoError(t, engine.EndSession(ctx, "s"))
	_, err = engine.Inspect(ctx, "s")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_DefaultProtectedActionsAndPersona(t *testing.T) {
	model := newModel(propose("msg-1", deleteX))
	engine, _ := newEngine(t, model, newFileActions(),
		runtime.WithProtectedActions("deleteFile"),
		runtime.WithPersona("Be careful."),
	)

	events, err := drain(engine.Start(context.Background(), "s", "remove", runtime.SessionOptions{}))
	require.NoError(t, err)
	assert.Equal(t, domain.OutputSuspended, events[len(events)-1].Kind)
	assert.Equal(t, domain.SystemMessage("Be careful."), model.Requests()[0].Messages[0])
	assert.Len(t, model.Requests()[0].Actions, 2)
}

func TestEngine_MultipleProtectedCalls(t *testing.T) {
	second := domain.ActionCall{ID: "call-2", Name: "deleteFile", Arguments: map[string]any{"path": "/tmp/z"}}
	model := newModel(propose("msg-1", deleteX, second))
	actions := newFileActions()
	engine, _ := newEngine(t, model, actions)
	ctx := context.Background()

	_, err := drain(engine.Start(ctx, "s", "remove both", protectDelete))
	require.NoError(t, err)

	events, err := drain(engine.Resume(ctx, "s", domain.Reject()))
	require.NoError(t, err)
	require.Equal(t, domain.OutputSuspended, events[len(events)-1].Kind)
	assert.Equal(t, "call-2", events[len(events)-1].Review.ActionCall.ID)

	_, err = drain(engine.Resume(ctx, "s", domain.Approve()))
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/z"}, actions.Deleted())

	cp, err := engine.Inspect(ctx, "s")
	require.NoError(t, err)
	// human, assistant, rejection for call-1, result for call-2, final answer
	require.Len(t, cp.State.History, 5)
	assert.Equal(t, "call-1", cp.State.History[2].ActionCallID)
	assert.Equal(t, "call-2", cp.State.History[3].ActionCallID)
}
