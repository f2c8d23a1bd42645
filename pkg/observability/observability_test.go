package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/aretw0/goop/internal/runtime"
	"github.com/aretw0/goop/pkg/adapters/memory"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/observability"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/registry"
	"github.com/aretw0/goop/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneCallModel struct{ n int }

func (m *oneCallModel) Complete(context.Context, ports.ModelRequest, ports.ChunkFunc) (domain.Message, error) {
	m.n++
	if m.n == 1 {
		return domain.AssistantMessage("m1", "", domain.ActionCall{ID: "c1", Name: "deleteFile"}), nil
	}
	return domain.AssistantMessage("m2", "done"), nil
}

func runReviewedSession(t *testing.T, hooks domain.LifecycleHooks) {
	t.Helper()
	reg := registry.NewRegistry()
	reg.Register(domain.ActionDescriptor{Name: "deleteFile"}, func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})
	engine := runtime.NewEngine(&oneCallModel{}, reg, session.NewManager(memory.NewStore()),
		runtime.WithProtectedActions("deleteFile"),
		runtime.WithLifecycleHooks(hooks),
	)
	ctx := context.Background()
	for _, err := range engine.Start(ctx, "s", "go", runtime.SessionOptions{}) {
		require.NoError(t, err)
	}
	for _, err := range engine.Resume(ctx, "s", domain.Approve()) {
		require.NoError(t, err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	runReviewedSession(t, m.Hooks())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeVisits.WithLabelValues("reasoning", "ok")))
	// once to suspend, once to apply the resolution
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeVisits.WithLabelValues("review", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeVisits.WithLabelValues("execute", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Suspensions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reviews.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointWrites.WithLabelValues("suspended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointWrites.WithLabelValues("stopped")))
	// human, assistant, result, final answer
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MessagesAppended))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ActionDuration))
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	runReviewedSession(t, observability.LogHooks(logger))

	out := buf.String()
	for _, msg := range []string{"Enter Node", "Leave Node", "Action Call", "Action Return (Success)", "Suspended", "Resolved", "Checkpoint"} {
		assert.Contains(t, out, msg)
	}
}
