package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/goop/internal/logging"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed session lock survives a crashed
// owner. Live owners keep their lock for the whole run.
const DefaultLockTTL = 5 * time.Minute

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring exclusive runs per session.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager with the given checkpoint store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ref gets or creates a lock entry and increments its reference count.
// Every call MUST be paired with unref.
func (m *Manager) ref(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// unref decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) unref(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Acquire takes exclusive ownership of a session without waiting.
// It returns domain.ErrSessionBusy if another run owns it. The returned
// release func MUST be called exactly once.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (release func(), err error) {
	entry := m.ref(sessionID)
	if !entry.mu.TryLock() {
		m.unref(sessionID)
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
	}
	local := func() {
		entry.mu.Unlock()
		m.unref(sessionID)
	}

	if m.locker == nil {
		return local, nil
	}

	unlock, err := m.locker.TryLock(ctx, sessionID, m.lockTTL)
	if err != nil {
		local()
		if errors.Is(err, ports.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
		}
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}

	return func() {
		// The run's context may be canceled by now; the lock must still go.
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
				"session_id", sessionID,
				"err", err,
			)
		}
		local()
	}, nil
}

// WithSession executes fn while owning the session.
func (m *Manager) WithSession(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	release, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Load retrieves a checkpoint. Reads need no ownership: stores overwrite atomically.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return m.store.Load(ctx, sessionID)
}

// Save persists a checkpoint. Callers must own the session.
func (m *Manager) Save(ctx context.Context, cp *domain.Checkpoint) error {
	return m.store.Save(ctx, cp.SessionID, cp)
}

// Delete removes the session from the store, failing if it is busy.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithSession(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}
