package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/obra/lace-sub014/internal/agent"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/internal/tool"
	"github.com/obra/lace-sub014/pkg/types"
)

// deps bundles the services every session shares. Sessions hold this
// bundle rather than a back-reference to the Manager.
type deps struct {
	store     *storage.Store
	threads   *threadstore.Store
	bus       *event.Bus
	providers *provider.Registry
	profiles  *agent.Registry
	policy    *permission.Policy
	executor  *tool.Executor
}

// Manager is the session registry. It owns session lifecycle; agents
// and sessions find each other through it by identifier.
type Manager struct {
	deps *deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Store     *storage.Store
	Threads   *threadstore.Store
	Bus       *event.Bus
	Providers *provider.Registry
	Profiles  *agent.Registry
	Policy    *permission.Policy
	Executor  *tool.Executor
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = agent.NewRegistry()
	}
	return &Manager{
		deps: &deps{
			store:     cfg.Store,
			threads:   cfg.Threads,
			bus:       cfg.Bus,
			providers: cfg.Providers,
			profiles:  profiles,
			policy:    cfg.Policy,
			executor:  cfg.Executor,
		},
		sessions: make(map[string]*Session),
	}
}

// Create makes a new session under projectID with its root thread.
func (m *Manager) Create(ctx context.Context, projectID string, config map[string]any) (*Session, error) {
	id := newSessionID()
	now := time.Now().UnixMilli()

	if err := m.deps.store.SaveSession(ctx, types.Session{
		ID:        id,
		ProjectID: projectID,
		Status:    types.SessionActive,
		Config:    config,
		Created:   now,
		Updated:   now,
	}); err != nil {
		return nil, err
	}

	rootID, err := m.deps.threads.CreateThread(ctx, threadstore.CreateOptions{
		SessionID: id,
		ProjectID: projectID,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		projectID: projectID,
		rootID:    rootID,
		deps:      m.deps,
		agents:    make(map[string]*agent.Agent),
	}
	s.tasks = newTaskManager(s)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Load hydrates a stored session into the registry, rebinding agents
// to its threads and repairing dangling tool calls. Returns the
// running session if already loaded.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if s, ok := m.Get(id); ok {
		return s, nil
	}

	stored, err := m.deps.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	threads, err := m.deps.store.ListThreads(ctx, id)
	if err != nil {
		return nil, err
	}
	rootID := ""
	for _, th := range threads {
		if threadstore.ParentID(th.ID) == "" {
			rootID = th.ID
			break
		}
	}
	if rootID == "" {
		return nil, fmt.Errorf("session %s: no root thread on record", id)
	}

	s := &Session{
		id:        stored.ID,
		projectID: stored.ProjectID,
		rootID:    rootID,
		deps:      m.deps,
		agents:    make(map[string]*agent.Agent),
	}
	s.tasks = newTaskManager(s)

	if err := s.resume(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// List returns the running sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// AgentByThread finds the agent bound to threadID in any running
// session.
func (m *Manager) AgentByThread(threadID string) (*agent.Agent, *Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if a, ok := s.Agent(threadID); ok {
			return a, s, true
		}
	}
	return nil, nil, false
}

// UpdateStatus transitions a session's lifecycle status.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status types.SessionStatus) error {
	stored, err := m.deps.store.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	stored.Status = status
	stored.Updated = time.Now().UnixMilli()
	return m.deps.store.UpdateSession(ctx, stored)
}

// Delete stops a session's agents, clears its approval state, and
// cascades the stored session (tasks, threads, events).
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.stop()
	}
	if m.deps.policy != nil {
		m.deps.policy.ClearSession(id)
	}

	return m.deps.store.DeleteSession(ctx, id)
}

// Fork creates a new session in the same project whose root thread
// starts from a copy of the source session's root-thread history. The
// original is untouched.
func (m *Manager) Fork(ctx context.Context, id string) (*Session, error) {
	src, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := m.deps.threads.GetAllEvents(ctx, src.rootID)
	if err != nil {
		return nil, err
	}

	forked, err := m.Create(ctx, src.projectID, nil)
	if err != nil {
		return nil, err
	}

	for _, ev := range history {
		if _, err := m.deps.threads.AddEvent(ctx, forked.rootID, ev.Tag, ev.Payload); err != nil {
			return nil, err
		}
	}

	return forked, nil
}

// RunDelegate implements the delegate tool's runner over the whole
// registry: the owning session is resolved from the parent thread.
func (m *Manager) RunDelegate(ctx context.Context, parentThreadID, modelSpec, prompt string) (string, error) {
	th, err := m.deps.threads.GetThread(ctx, parentThreadID)
	if err != nil {
		return "", err
	}
	if th.SessionID == "" {
		return "", fmt.Errorf("session: thread %s belongs to no session", parentThreadID)
	}

	s, err := m.Load(ctx, th.SessionID)
	if err != nil {
		return "", err
	}
	return s.RunDelegate(ctx, parentThreadID, modelSpec, prompt)
}

// newSessionID generates a session identifier.
func newSessionID() string {
	return "sess_" + ulid.Make().String()
}
