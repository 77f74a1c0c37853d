package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/tool"
	"github.com/obra/lace-sub014/pkg/types"
)

const (
	// MaxSteps is the maximum number of provider round-trips per turn.
	MaxSteps = 50
	// MaxRetries is the maximum number of retries for provider errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute

	// compactionMargin is the fraction of the context window at which a
	// compaction runs before the next provider call.
	compactionMargin = 0.8
	// defaultCompactionStrategy runs when the trigger fires.
	defaultCompactionStrategy = "trim-tool-results"
)

// newRetryBackoff creates an exponential backoff with jitter for
// provider retries, bounded by ctx.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// runTurn drives one user message to a terminal state: a final
// AGENT_MESSAGE, a provider failure surfaced as LOCAL_SYSTEM_MESSAGE,
// or a cancellation.
func (a *Agent) runTurn(ctx context.Context, text string) error {
	// Event writes after a cancellation must still land: an aborted
	// tool's result is part of the record.
	writeCtx := context.WithoutCancel(ctx)

	if a.policy != nil {
		a.policy.ResetDoomLoop(a.threadID)
	}

	if _, err := a.threads.AddEvent(writeCtx, a.threadID, types.TagUserMessage,
		types.UserMessagePayload{Text: text}); err != nil {
		return err
	}

	turnID := ulid.Make().String()
	retry := a.newBackoff(ctx)

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil // cancelled: no AGENT_MESSAGE for this turn
		}
		if step >= MaxSteps {
			a.systemMessage(writeCtx, fmt.Sprintf("Stopped after %d steps without completion.", MaxSteps))
			return fmt.Errorf("agent: max steps exceeded")
		}

		if err := a.maybeCompact(writeCtx); err != nil {
			log.Warn().Err(err).Str("thread_id", a.threadID).Msg("agent: compaction failed, continuing uncompacted")
		}

		a.setState(StateThinking)

		working, err := a.threads.GetEvents(ctx, a.threadID)
		if err != nil {
			return err
		}

		req := &provider.Request{
			Messages:    provider.BuildMessages(working),
			Tools:       a.advertisedTools(),
			MaxTokens:   a.adapter.MaxCompletionTokens(),
			Temperature: a.profile.Temperature,
		}
		if a.profile.Model != nil {
			req.Model = a.profile.Model.Model
		}

		resp, err := a.streamResponse(ctx, req, turnID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			next := retry.NextBackOff()
			if next == backoff.Stop {
				a.systemMessage(writeCtx, fmt.Sprintf("Provider error: %v", err))
				return nil
			}
			log.Warn().Err(err).Dur("retry_in", next).Str("thread_id", a.threadID).
				Msg("agent: provider call failed, retrying")
			select {
			case <-time.After(next):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		retry.Reset()

		if resp.Text != "" {
			payload := types.AgentMessagePayload{Text: resp.Text}
			if resp.Usage.Input > 0 || resp.Usage.Output > 0 {
				payload.Usage = &resp.Usage
			}
			if _, err := a.threads.AddEvent(writeCtx, a.threadID, types.TagAgentMessage, payload); err != nil {
				return err
			}
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		for _, call := range resp.ToolCalls {
			if err := a.runToolCall(ctx, writeCtx, call); err != nil {
				return err
			}
		}
		// Loop: the next iteration re-reads the working conversation
		// including the TOOL_RESULTs just appended.
	}
}

// streamResponse runs one provider call, republishing token deltas on
// the bus as transient envelopes.
func (a *Agent) streamResponse(ctx context.Context, req *provider.Request, turnID string) (*provider.Response, error) {
	stream, err := a.adapter.CreateResponse(ctx, req)
	if err != nil {
		return nil, err
	}

	a.setState(StateStreaming)
	for delta := range stream.Deltas() {
		if a.bus != nil {
			a.bus.Publish(event.NewEnvelope(types.KindTokenDelta, a.scope(),
				event.TokenDeltaPayload{ThreadID: a.threadID, TurnID: turnID, Delta: delta}, false))
		}
	}

	return stream.Wait(ctx)
}

// runToolCall appends the TOOL_CALL, executes it through the approval
// gate, and appends the TOOL_RESULT.
func (a *Agent) runToolCall(ctx, writeCtx context.Context, call provider.ToolCall) error {
	if _, err := a.threads.AddEvent(writeCtx, a.threadID, types.TagToolCall, types.ToolCallPayload{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
	}); err != nil {
		return err
	}

	a.setState(StateToolWaiting)
	outcome := a.executor.Execute(ctx, tool.ExecutionRequest{
		ThreadID:      a.threadID,
		SessionID:     a.sessionID,
		ProjectID:     a.projectID,
		CallID:        call.ID,
		ToolName:      call.Name,
		Args:          call.Arguments,
		ProfileAction: a.profile.ActionFor(call.Name, call.Arguments),
	})
	a.setState(StateToolRunning)

	if _, err := a.threads.AddEvent(writeCtx, a.threadID, types.TagToolResult, types.ToolResultPayload{
		CallID:  call.ID,
		Content: outcome.Content,
		Status:  outcome.Status,
	}); err != nil {
		return err
	}

	if outcome.DoomLoop {
		a.systemMessage(writeCtx, fmt.Sprintf("Repeated identical %s call detected; approval was re-checked.", call.Name))
	}

	return nil
}

// advertisedTools filters the registry by the profile's tool access.
func (a *Agent) advertisedTools() []*schema.ToolInfo {
	if a.executor == nil {
		return nil
	}
	var infos []*schema.ToolInfo
	for _, t := range a.executor.Registry().List() {
		decl := t.Metadata()
		if !a.profile.ToolEnabled(decl.Name) {
			continue
		}
		infos = append(infos, tool.EinoToolInfo(decl))
	}
	return infos
}

// systemMessage appends a LOCAL_SYSTEM_MESSAGE; failures are logged,
// not fatal, since the message is advisory.
func (a *Agent) systemMessage(ctx context.Context, text string) {
	if _, err := a.threads.AddEvent(ctx, a.threadID, types.TagLocalSystemMessage,
		types.LocalSystemMessagePayload{Text: text}); err != nil {
		log.Error().Err(err).Str("thread_id", a.threadID).Msg("agent: failed to append system message")
	}
}

func (a *Agent) scope() types.Scope {
	return types.Scope{
		ProjectID: a.projectID,
		SessionID: a.sessionID,
		ThreadID:  a.threadID,
	}
}

// maybeCompact runs a compaction when the thread's aggregated token
// usage (or the adapter's estimate when no usage is recorded) crosses
// the context-window margin.
func (a *Agent) maybeCompact(ctx context.Context) error {
	working, err := a.threads.GetEvents(ctx, a.threadID)
	if err != nil {
		return err
	}

	used := aggregateUsage(working)
	if used == 0 {
		used = a.adapter.EstimateTokens(provider.BuildMessages(working))
	}

	budget := int(float64(a.adapter.ContextWindow()) * compactionMargin)
	if used < budget {
		return nil
	}

	log.Info().Str("thread_id", a.threadID).Int("used_tokens", used).Int("budget", budget).
		Msg("agent: compacting before next provider call")
	_, err = a.threads.Compact(ctx, a.threadID, defaultCompactionStrategy, nil)
	return err
}

// aggregateUsage sums the recorded token usage across a conversation.
func aggregateUsage(events []types.Event) int {
	total := 0
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case types.AgentMessagePayload:
			if p.Usage != nil {
				total += p.Usage.Input + p.Usage.Output
			}
		case types.ToolResultPayload:
			if p.Usage != nil {
				total += p.Usage.Input + p.Usage.Output
			}
		}
	}
	return total
}
