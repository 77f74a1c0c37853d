package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/internal/tool"
)

// State is the agent's externally visible condition.
type State string

const (
	StateIdle        State = "idle"
	StateThinking    State = "thinking"
	StateStreaming   State = "streaming"
	StateToolWaiting State = "tool-waiting"
	StateToolRunning State = "tool-running"
	StateTerminated  State = "terminated"
)

// DefaultQueueSize bounds the agent's message mailbox.
const DefaultQueueSize = 64

// Config wires one Agent.
type Config struct {
	ThreadID  string
	SessionID string
	ProjectID string
	Profile   *Profile
	Adapter   provider.Adapter
	Threads   *threadstore.Store
	Executor  *tool.Executor
	Policy    *permission.Policy
	Bus       *event.Bus
	QueueSize int
	// Backoff overrides the provider retry policy; nil uses the
	// default exponential backoff with jitter.
	Backoff func(ctx context.Context) backoff.BackOff
}

// Agent is a per-thread state machine. Messages enqueue onto a bounded
// FIFO; a single goroutine drains it, so a thread never sees two
// concurrent provider calls.
type Agent struct {
	threadID  string
	sessionID string
	projectID string
	profile   *Profile
	adapter   provider.Adapter
	threads   *threadstore.Store
	executor  *tool.Executor
	policy    *permission.Policy
	bus       *event.Bus

	newBackoff func(ctx context.Context) backoff.BackOff

	queue   chan string
	pending atomic.Int32

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	done chan struct{}
	stop sync.Once
}

// New creates an Agent. Call Start to begin draining its mailbox.
func New(cfg Config) *Agent {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	profile := cfg.Profile
	if profile == nil {
		profile = NewRegistry().Default()
	}
	newBackoff := cfg.Backoff
	if newBackoff == nil {
		newBackoff = newRetryBackoff
	}
	return &Agent{
		threadID:   cfg.ThreadID,
		sessionID:  cfg.SessionID,
		projectID:  cfg.ProjectID,
		profile:    profile,
		adapter:    cfg.Adapter,
		threads:    cfg.Threads,
		executor:   cfg.Executor,
		policy:     cfg.Policy,
		bus:        cfg.Bus,
		newBackoff: newBackoff,
		queue:      make(chan string, size),
		state:      StateIdle,
		done:       make(chan struct{}),
	}
}

// ThreadID returns the thread this agent drives.
func (a *Agent) ThreadID() string { return a.threadID }

// SessionID returns the owning session, if any.
func (a *Agent) SessionID() string { return a.sessionID }

// Profile returns the agent's profile.
func (a *Agent) Profile() *Profile { return a.profile }

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Idle reports whether the agent has nothing queued and nothing
// running.
func (a *Agent) Idle() bool {
	return a.pending.Load() == 0 && a.State() == StateIdle
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Start begins draining the mailbox. Safe to call once.
func (a *Agent) Start() {
	go a.loop()
}

// SendMessage enqueues a user message. When the agent is mid-turn the
// message waits its turn; ordering within the mailbox is FIFO.
func (a *Agent) SendMessage(text string) error {
	a.mu.Lock()
	terminated := a.state == StateTerminated
	a.mu.Unlock()
	if terminated {
		return fmt.Errorf("agent %s: terminated", a.threadID)
	}

	a.pending.Add(1)
	select {
	case a.queue <- text:
		return nil
	default:
		a.pending.Add(-1)
		return fmt.Errorf("agent %s: mailbox full", a.threadID)
	}
}

// CancelTurn aborts the in-flight turn, if any. The provider stream,
// any pending approval wait, and any running tool all observe the
// cancellation; the turn's AGENT_MESSAGE is never written.
func (a *Agent) CancelTurn() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop terminates the agent after cancelling any running turn. A
// stopped agent rejects new messages.
func (a *Agent) Stop() {
	a.stop.Do(func() {
		a.CancelTurn()
		a.setState(StateTerminated)
		close(a.done)
	})
}

func (a *Agent) loop() {
	for {
		select {
		case <-a.done:
			return
		case text := <-a.queue:
			ctx, cancel := context.WithCancel(context.Background())
			a.mu.Lock()
			a.cancel = cancel
			a.mu.Unlock()

			if err := a.runTurn(ctx, text); err != nil {
				log.Error().Err(err).Str("thread_id", a.threadID).Msg("agent: turn failed")
			}

			a.mu.Lock()
			a.cancel = nil
			if a.state != StateTerminated {
				a.state = StateIdle
			}
			a.mu.Unlock()
			cancel()
			a.pending.Add(-1)
		}
	}
}
