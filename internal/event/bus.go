// Package event provides the in-process pub/sub bus carrying the unified
// envelope, using watermill.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"

	"github.com/obra/lace-sub014/pkg/types"
)

// Subscriber is a function that receives envelopes.
type Subscriber func(env types.Envelope)

// Filter narrows what a subscriber receives. Zero-value scope fields and
// an empty kind list match everything. Matching is done on the
// subscriber side: the bus hands every envelope to every entry and the
// entry drops the uninteresting ones.
type Filter struct {
	Scope types.Scope
	Kinds []types.Kind
}

// Matches reports whether env passes the filter.
func (f Filter) Matches(env types.Envelope) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if env.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	s := f.Scope
	if s.ProjectID != "" && s.ProjectID != env.Scope.ProjectID {
		return false
	}
	if s.SessionID != "" && s.SessionID != env.Scope.SessionID {
		return false
	}
	if s.ThreadID != "" && s.ThreadID != env.Scope.ThreadID {
		return false
	}
	if s.TaskID != "" && s.TaskID != env.Scope.TaskID {
		return false
	}
	if s.CallID != "" && s.CallID != env.Scope.CallID {
		return false
	}
	return true
}

// subscriberEntry wraps a subscriber with an ID and its filter.
type subscriberEntry struct {
	id     uint64
	filter Filter
	fn     Subscriber
}

// Bus is the process-wide publish/subscribe service. It uses watermill's
// gochannel for infrastructure while keeping direct-call delivery to
// preserve type information on the envelope payloads.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	entries []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber with a filter.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(filter Filter, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.entries = append(b.entries, subscriberEntry{id: id, filter: filter, fn: fn})

	return func() {
		b.unsubscribe(id)
	}
}

// SubscribeAll registers a subscriber for every envelope.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.Subscribe(Filter{}, fn)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.entries {
		if entry.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
}

// Publish delivers env to all matching subscribers asynchronously. Each
// subscriber is called in its own goroutine so a slow consumer never
// blocks the publisher; there is no backpressure by design.
func (b *Bus) Publish(env types.Envelope) {
	for _, fn := range b.collect(env) {
		go fn(env)
	}
}

// PublishSync delivers env to all matching subscribers in the calling
// goroutine before returning.
func (b *Bus) PublishSync(env types.Envelope) {
	for _, fn := range b.collect(env) {
		fn(env)
	}
}

func (b *Bus) collect(env types.Envelope) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.entries))
	for _, entry := range b.entries {
		if entry.filter.Matches(env) {
			subs = append(subs, entry.fn)
		}
	}
	return subs
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.entries = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use
// cases such as middleware or a future distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// NewEnvelope builds an envelope with a fresh ULID and the current
// wall-clock timestamp.
func NewEnvelope(kind types.Kind, scope types.Scope, payload any, persisted bool) types.Envelope {
	return types.Envelope{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
		Scope:     scope,
		Kind:      kind,
		Payload:   payload,
		Persisted: persisted,
	}
}
