package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/obra/lace-sub014/pkg/types"
)

// Stream is a completion in flight. Deltas yields incremental text as
// the upstream produces it; Wait blocks for the assembled terminal
// response. Both observe cancellation of the context the stream was
// created with.
type Stream struct {
	deltas chan string
	done   chan struct{}

	final *Response
	err   error
}

func newStream() *Stream {
	return &Stream{
		deltas: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// Deltas returns the channel of incremental text chunks. It is closed
// when the stream terminates, before Wait unblocks.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Wait blocks until the stream terminates and returns the assembled
// response or the terminal error.
func (s *Stream) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return s.final, s.err
	}
}

// streamCompletion binds req's tools onto chatModel, starts the Eino
// stream, and spawns the drain goroutine. Shared by every adapter.
func streamCompletion(ctx context.Context, chatModel model.ToolCallingChatModel, req *Request) (*Stream, error) {
	if len(req.Tools) > 0 {
		var err error
		chatModel, err = chatModel.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("provider: bind tools: %w", err)
		}
	}

	opts := []model.Option{}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	reader, err := chatModel.Stream(ctx, req.Messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("provider: create stream: %w", err)
	}

	s := newStream()
	go s.drain(ctx, reader)
	return s, nil
}

// drain consumes the Eino stream, forwarding text deltas and
// assembling the terminal response. Eino's chunks come in two shapes
// depending on the upstream: accumulated (each chunk restates the full
// text so far) and delta (each chunk is only the new tail); tool-call
// arguments always arrive as deltas keyed by chunk index.
func (s *Stream) drain(ctx context.Context, reader *schema.StreamReader[*schema.Message]) {
	defer close(s.done)
	defer close(s.deltas)
	defer reader.Close()

	var (
		accumulated  string
		finishReason string
		usage        types.TokenUsage
		toolOrder    []string
		toolNames    = make(map[string]string)
		toolIDs      = make(map[string]string)
		toolArgs     = make(map[string]string)
	)

	for {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		default:
		}

		msg, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.err = err
			return
		}

		if msg.Content != "" {
			var delta string
			if accumulated != "" && strings.HasPrefix(msg.Content, accumulated) {
				delta = msg.Content[len(accumulated):]
				accumulated = msg.Content
			} else {
				delta = msg.Content
				accumulated += msg.Content
			}
			if delta != "" {
				select {
				case s.deltas <- delta:
				case <-ctx.Done():
					s.err = ctx.Err()
					return
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			// Start chunks carry ID and Name; argument deltas carry
			// only Index. Key on the index when present, falling back
			// to the ID for upstreams that restate it.
			var key string
			switch {
			case tc.Index != nil:
				key = fmt.Sprintf("idx:%d", *tc.Index)
			case tc.ID != "":
				key = tc.ID
			default:
				continue
			}

			if _, seen := toolNames[key]; !seen && tc.ID != "" && tc.Function.Name != "" {
				toolOrder = append(toolOrder, key)
				toolNames[key] = tc.Function.Name
				toolIDs[key] = tc.ID
			}
			if tc.Function.Arguments != "" {
				toolArgs[key] += tc.Function.Arguments
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				usage.Input = msg.ResponseMeta.Usage.PromptTokens
				usage.Output = msg.ResponseMeta.Usage.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finishReason = msg.ResponseMeta.FinishReason
			}
		}
	}

	resp := &Response{
		Text:         accumulated,
		Usage:        usage,
		FinishReason: finishReason,
	}

	for _, key := range toolOrder {
		call := ToolCall{ID: toolIDs[key], Name: toolNames[key]}
		if raw := toolArgs[key]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &call.Arguments); err != nil {
				// Arguments that never assembled into valid JSON reach
				// the executor as-is and fail schema validation there,
				// which is the visible place to report them.
				call.Arguments = map[string]any{"_raw": raw}
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}

	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = "tool_calls"
		} else {
			resp.FinishReason = "stop"
		}
	}

	s.final = resp
}

// NewTestStream assembles a Stream from pre-built chunks; adapters for
// real upstreams never call it, tests do.
func NewTestStream(ctx context.Context, msgs []*schema.Message) *Stream {
	s := newStream()
	go s.drain(ctx, schema.StreamReaderFromArray(msgs))
	return s
}
