// Package sandbox manages isolated execution environments for code-running
// tools. Each handle is owned by exactly one session; two sessions never see
// the same handle. Reuse is allowed only within a single session's lifetime,
// and an idle reaper destroys handles whose release signal was lost.
package sandbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a handle's lifecycle position.
type State string

const (
	StateProvisioning State = "provisioning"
	StateReady        State = "ready"
	StateExecuting    State = "executing"
	StateDestroyed    State = "destroyed"
)

// Handle is one session's isolated environment.
type Handle struct {
	ID        string
	SessionID string
	UserID    string
	BackendID string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	lastUsed time.Time
}

// State returns the handle's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastUsed returns when the handle last started or finished an execution.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Manager tracks live handles keyed by session.
type Manager struct {
	provider    Provider
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle // session id -> handle

	stopReaper chan struct{}
	reaperOnce sync.Once
	now        func() time.Time
}

// Events receives lifecycle notifications. Optional.
type Events interface {
	SandboxEvent(event string)
}

// NewManager builds a manager over the given provider.
func NewManager(provider Provider, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &Manager{
		provider:    provider,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "sandbox"),
		handles:     make(map[string]*Handle),
		stopReaper:  make(chan struct{}),
		now:         time.Now,
	}
}

// StartReaper launches the background loop that destroys idle handles. The
// reaper is the backstop for lost release signals; explicit Release remains
// the normal path.
func (m *Manager) StartReaper() {
	go func() {
		ticker := time.NewTicker(m.idleTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapIdle()
			case <-m.stopReaper:
				return
			}
		}
	}()
}

// Acquire returns the session's live handle, provisioning one if needed.
// Handles are never handed across sessions: the lookup key is the session id
// and a handle found there was created for that session.
func (m *Manager) Acquire(ctx context.Context, sessionID, userID string) (*Handle, error) {
	m.mu.Lock()
	if h, ok := m.handles[sessionID]; ok {
		m.mu.Unlock()
		h.mu.Lock()
		alive := h.state == StateProvisioning || h.state == StateReady || h.state == StateExecuting
		h.mu.Unlock()
		if alive {
			return h, nil
		}
		// Destroyed underneath us (reaper); fall through and provision anew.
		m.mu.Lock()
		if m.handles[sessionID] == h {
			delete(m.handles, sessionID)
		}
	}

	h := &Handle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: m.now(),
		state:     StateProvisioning,
		lastUsed:  m.now(),
	}
	m.handles[sessionID] = h
	m.mu.Unlock()

	backendID, err := m.provider.Provision(ctx)
	if err != nil {
		m.mu.Lock()
		delete(m.handles, sessionID)
		m.mu.Unlock()
		h.mu.Lock()
		h.state = StateDestroyed
		h.mu.Unlock()
		if _, ok := err.(*ProvisionError); ok {
			return nil, err
		}
		return nil, &ProvisionError{Reason: "provision call failed", Err: err}
	}

	h.mu.Lock()
	h.BackendID = backendID
	h.state = StateReady
	h.lastUsed = m.now()
	h.mu.Unlock()

	m.logger.Debug("sandbox provisioned", "handle_id", h.ID, "session_id", sessionID)
	return h, nil
}

// Execute runs a command on the handle, moving it Ready -> Executing -> Ready.
// A non-zero exit returns an *ExecutionError with the captured output; the
// handle stays usable.
func (m *Manager) Execute(ctx context.Context, h *Handle, req ExecRequest) (*ExecResult, error) {
	h.mu.Lock()
	if h.state != StateReady {
		state := h.state
		h.mu.Unlock()
		if state == StateDestroyed {
			return nil, ErrHandleDestroyed
		}
		return nil, &ProvisionError{Reason: "handle busy in state " + string(state)}
	}
	h.state = StateExecuting
	h.lastUsed = m.now()
	h.mu.Unlock()

	result, err := m.provider.Exec(ctx, h.BackendID, req)

	h.mu.Lock()
	if h.state == StateExecuting {
		h.state = StateReady
	}
	h.lastUsed = m.now()
	h.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return result, &ExecutionError{
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}
	}
	return result, nil
}

// Release destroys the session's handle if one exists. Safe to call when the
// session never acquired a sandbox, and on every turn-exit path including
// client disconnect.
func (m *Manager) Release(ctx context.Context, sessionID string) {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	if ok {
		delete(m.handles, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.destroy(ctx, h, "released")
}

// Close stops the reaper and destroys all live handles.
func (m *Manager) Close() {
	m.reaperOnce.Do(func() { close(m.stopReaper) })

	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, h := range handles {
		m.destroy(ctx, h, "shutdown")
	}
}

// Live returns the number of live handles. Used by tests and health checks.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Manager) reapIdle() {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Handle
	for sessionID, h := range m.handles {
		h.mu.Lock()
		// An executing handle is not idle no matter how old lastUsed is.
		stale := h.state == StateReady && h.lastUsed.Before(cutoff)
		h.mu.Unlock()
		if stale {
			idle = append(idle, h)
			delete(m.handles, sessionID)
		}
	}
	m.mu.Unlock()

	for _, h := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		m.destroy(ctx, h, "idle")
		cancel()
		m.logger.Info("reaped idle sandbox", "handle_id", h.ID, "session_id", h.SessionID)
	}
}

func (m *Manager) destroy(ctx context.Context, h *Handle, reason string) {
	h.mu.Lock()
	if h.state == StateDestroyed {
		h.mu.Unlock()
		return
	}
	h.state = StateDestroyed
	backendID := h.BackendID
	h.mu.Unlock()

	if backendID == "" {
		return
	}
	if err := m.provider.Destroy(ctx, backendID); err != nil {
		m.logger.Warn("sandbox destroy failed",
			"handle_id", h.ID,
			"reason", reason,
			"error", err,
		)
	}
}
