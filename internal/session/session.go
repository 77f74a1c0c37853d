// Package session owns the running sessions: each Session binds a set
// of agents (delegate threads), a task queue, and the wiring between
// them. Sessions and agents reference each other by identifier through
// the Manager; neither side owns the other.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/agent"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/pkg/types"
)

// TaskNotificationPrefix marks task notifications delivered to an
// agent's mailbox as system-actor input.
const TaskNotificationPrefix = "[LACE TASK SYSTEM]"

// NewAssigneePrefix introduces a "materialize an agent on assignment"
// spec: new:<provider>/<model>.
const NewAssigneePrefix = "new:"

// Session is one running session: a root thread, its agents, and a
// task queue.
type Session struct {
	id        string
	projectID string
	rootID    string

	deps *deps

	mu     sync.RWMutex
	agents map[string]*agent.Agent // thread id -> agent

	tasks *TaskManager
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ProjectID returns the owning project.
func (s *Session) ProjectID() string { return s.projectID }

// RootThreadID returns the session's root thread, the parent of every
// agent thread it spawns.
func (s *Session) RootThreadID() string { return s.rootID }

// Tasks returns the session's task manager.
func (s *Session) Tasks() *TaskManager { return s.tasks }

// Agents returns the session's agents.
func (s *Session) Agents() []*agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Agent returns the agent bound to threadID, if any.
func (s *Session) Agent(threadID string) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[threadID]
	return a, ok
}

// SpawnAgent creates a delegate thread under the session root, binds
// an agent to it with the named profile and model spec, and starts it.
// An empty modelSpec uses the default model of one of the registered
// adapters (which one is not defined when several are registered); an
// empty profileName uses the default profile.
func (s *Session) SpawnAgent(ctx context.Context, profileName, modelSpec string) (*agent.Agent, error) {
	return s.spawnUnder(ctx, s.rootID, profileName, modelSpec)
}

func (s *Session) spawnUnder(ctx context.Context, parentThreadID, profileName, modelSpec string) (*agent.Agent, error) {
	adapter, modelID, err := s.deps.resolveAdapter(modelSpec)
	if err != nil {
		return nil, err
	}

	profile := s.deps.profiles.Default()
	if profileName != "" {
		profile, err = s.deps.profiles.Get(profileName)
		if err != nil {
			return nil, err
		}
	}
	if modelID != "" {
		profile.Model = &agent.ModelRef{Provider: adapter.Name(), Model: modelID}
	}

	threadID, err := s.deps.threads.CreateThread(ctx, threadstore.CreateOptions{
		Parent: parentThreadID,
	})
	if err != nil {
		return nil, err
	}

	if profile.Prompt != "" {
		if _, err := s.deps.threads.AddEvent(ctx, threadID, types.TagSystemPrompt,
			types.SystemPromptPayload{Text: profile.Prompt}); err != nil {
			return nil, err
		}
	}

	a := agent.New(agent.Config{
		ThreadID:  threadID,
		SessionID: s.id,
		ProjectID: s.projectID,
		Profile:   profile,
		Adapter:   adapter,
		Threads:   s.deps.threads,
		Executor:  s.deps.executor,
		Policy:    s.deps.policy,
		Bus:       s.deps.bus,
	})
	a.Start()

	s.mu.Lock()
	s.agents[threadID] = a
	s.mu.Unlock()

	return a, nil
}

// SendMessage delivers text to the agent bound to threadID. When the
// agent is mid-turn the message queues; the mailbox is FIFO.
func (s *Session) SendMessage(threadID, text string) error {
	a, ok := s.Agent(threadID)
	if !ok {
		return fmt.Errorf("session %s: no agent for thread %s", s.id, threadID)
	}
	return a.SendMessage(text)
}

// assign applies the task assignment semantics: an existing agent
// thread gets a notification; "human" notifies no agent; a
// new:<provider>/<model> spec materializes an agent and hands it the
// task prompt.
func (s *Session) assign(ctx context.Context, task types.Task) error {
	switch {
	case task.Assignee == "" || task.Assignee == types.AssigneeHuman:
		return nil

	case strings.HasPrefix(task.Assignee, NewAssigneePrefix):
		spec := strings.TrimPrefix(task.Assignee, NewAssigneePrefix)
		a, err := s.SpawnAgent(ctx, "", spec)
		if err != nil {
			return fmt.Errorf("session %s: spawn for task %s: %w", s.id, task.ID, err)
		}
		return a.SendMessage(taskNotification(task))

	default:
		a, ok := s.Agent(task.Assignee)
		if !ok {
			return fmt.Errorf("session %s: task %s assigned to unknown agent %s", s.id, task.ID, task.Assignee)
		}
		return a.SendMessage(taskNotification(task))
	}
}

func taskNotification(task types.Task) string {
	return fmt.Sprintf("%s New task %s: %s\n\n%s", TaskNotificationPrefix, task.ID, task.Title, task.Prompt)
}

// RunDelegate implements the delegate tool's runner contract: spawn a
// sub-agent under parentThreadID, drive one turn with prompt, and
// return its final message.
func (s *Session) RunDelegate(ctx context.Context, parentThreadID, modelSpec, prompt string) (string, error) {
	parent := parentThreadID
	if parent == "" {
		parent = s.rootID
	}

	a, err := s.spawnUnder(ctx, parent, "general", modelSpec)
	if err != nil {
		return "", err
	}
	defer func() {
		a.Stop()
		s.mu.Lock()
		delete(s.agents, a.ThreadID())
		s.mu.Unlock()
	}()

	if err := a.SendMessage(prompt); err != nil {
		return "", err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.CancelTurn()
			return "", ctx.Err()
		case <-ticker.C:
			if !a.Idle() {
				continue
			}
			return s.lastAgentMessage(ctx, a.ThreadID())
		}
	}
}

func (s *Session) lastAgentMessage(ctx context.Context, threadID string) (string, error) {
	events, err := s.deps.threads.GetEvents(ctx, threadID)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if p, ok := events[i].Payload.(types.AgentMessagePayload); ok {
			return p.Text, nil
		}
	}
	return "", fmt.Errorf("delegate %s produced no answer", threadID)
}

// resume rebinds agents to the session's existing threads after a
// restart, repairing any dangling tool calls.
func (s *Session) resume(ctx context.Context) error {
	threads, err := s.deps.store.ListThreads(ctx, s.id)
	if err != nil {
		return err
	}

	for _, th := range threads {
		if th.ID == s.rootID {
			continue
		}
		if _, ok := s.Agent(th.ID); ok {
			continue
		}

		adapter, _, err := s.deps.resolveAdapter("")
		if err != nil {
			log.Warn().Err(err).Str("thread_id", th.ID).Msg("session: cannot rebind agent, no adapter")
			continue
		}
		a := agent.New(agent.Config{
			ThreadID:  th.ID,
			SessionID: s.id,
			ProjectID: s.projectID,
			Profile:   s.deps.profiles.Default(),
			Adapter:   adapter,
			Threads:   s.deps.threads,
			Executor:  s.deps.executor,
			Policy:    s.deps.policy,
			Bus:       s.deps.bus,
		})
		if err := a.Resume(ctx); err != nil {
			return err
		}
		a.Start()

		s.mu.Lock()
		s.agents[th.ID] = a
		s.mu.Unlock()
	}

	return nil
}

// stop terminates every agent.
func (s *Session) stop() {
	for _, a := range s.Agents() {
		a.Stop()
	}
}

// resolveAdapter turns a "provider/model" spec into an adapter plus
// model id. An empty spec picks any registered adapter.
func (d *deps) resolveAdapter(modelSpec string) (provider.Adapter, string, error) {
	if modelSpec == "" {
		adapters := d.providers.List()
		if len(adapters) == 0 {
			return nil, "", fmt.Errorf("session: no provider adapters registered")
		}
		return adapters[0], "", nil
	}

	name, modelID := provider.ParseModelSpec(modelSpec)
	adapter, err := d.providers.Get(name)
	if err != nil {
		return nil, "", err
	}
	return adapter, modelID, nil
}
