/*
Package event provides the process-wide publish/subscribe bus for the
orchestration runtime.

Every envelope shares one shape (types.Envelope): id, timestamp, a scope
tuple (project, session, thread, task, call), a kind, a payload, and a
Persisted flag. Durable thread events are mirrored onto the bus with
Persisted=true; token deltas, approval prompts destined only for UIs,
and task lifecycle notifications travel with Persisted=false and must
never be written back to storage by consumers.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while maintaining direct-call semantics to preserve type information on
payloads. It provides both synchronous and asynchronous publishing.

Filtering is subscriber-side: the publisher hands every envelope to
every subscription entry and each entry's Filter drops what its
consumer does not care about. A Filter combines a scope (empty fields
match anything) with an optional kind list.

# Basic Usage

Publishing:

	// Asynchronous publishing (non-blocking)
	bus.Publish(event.NewEnvelope(types.KindTaskCreated, scope, payload, false))

	// Synchronous publishing (blocking until all subscribers complete)
	bus.PublishSync(event.ThreadEvent(ev, scope))

Subscribing with a filter:

	unsubscribe := bus.Subscribe(event.Filter{
		Scope: types.Scope{SessionID: sessionID},
	}, func(env types.Envelope) {
		log.Debug().Str("kind", string(env.Kind)).Msg("envelope received")
	})
	defer unsubscribe()

Subscribing to everything:

	unsubscribe := bus.SubscribeAll(handler)
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the
publisher's goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber
  - Never acquire locks that the publisher might hold

Example of a safe subscriber:

	bus.SubscribeAll(func(env types.Envelope) {
	    select {
	    case envChan <- env:
	    default:
	        log.Warn().Str("kind", string(env.Kind)).Msg("envelope dropped: channel full")
	    }
	})

The bus applies no backpressure to publishers; a subscriber that cannot
drain promptly is responsible for dropping. The SSE endpoint does this
with a bounded buffer.

# Thread Safety

The bus is safe for concurrent use. Both publishing and subscribing are
protected by internal synchronization.

# Integration with Watermill

The package uses watermill's gochannel internally, providing access to
the underlying pubsub infrastructure for advanced use cases:

	pubsub := bus.PubSub()

This allows future migration to distributed message brokers if needed
while maintaining the current API.
*/
package event
