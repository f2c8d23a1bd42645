package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine activity in Prometheus collectors.
type Metrics struct {
	NodeVisits       *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	Reviews          *prometheus.CounterVec
	Suspensions      prometheus.Counter
	CheckpointWrites *prometheus.CounterVec
	MessagesAppended prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goop_node_visits_total",
				Help: "Total number of node executions",
			},
			[]string{"node", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goop_action_duration_seconds",
				Help:    "Duration of action invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action", "is_error"},
		),
		Reviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goop_reviews_total",
				Help: "Review resolutions by decision",
			},
			[]string{"decision"},
		),
		Suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goop_suspensions_total",
			Help: "Number of times a session suspended for review",
		}),
		CheckpointWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goop_checkpoint_writes_total",
				Help: "Checkpoints written by status",
			},
			[]string{"status"},
		),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goop_messages_appended_total",
			Help: "Messages appended to conversation histories",
		}),
	}
	reg.MustRegister(m.NodeVisits, m.ActionDuration, m.Reviews, m.Suspensions, m.CheckpointWrites, m.MessagesAppended)
	return m
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.NodeVisits.WithLabelValues(string(e.NodeID), outcome).Inc()
		},
		OnActionReturn: func(_ context.Context, e *domain.ActionEvent) {
			m.ActionDuration.WithLabelValues(e.Call.Name, strconv.FormatBool(e.IsError)).Observe(e.Duration.Seconds())
		},
		OnSuspend: func(context.Context, *domain.ReviewEvent) {
			m.Suspensions.Inc()
		},
		OnResolve: func(_ context.Context, e *domain.ReviewEvent) {
			if e.Resolution != nil {
				m.Reviews.WithLabelValues(string(e.Resolution.Action)).Inc()
			}
		},
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			m.CheckpointWrites.WithLabelValues(string(e.Checkpoint.Status)).Inc()
			if e.Diff != nil {
				m.MessagesAppended.Add(float64(len(e.Diff.Appended)))
			}
		},
	}
}
