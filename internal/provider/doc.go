/*
Package provider adapts upstream LLM APIs to the runtime's contract.

Every adapter exposes the same surface: identity (Name, DefaultModel),
token budgets (ContextWindow, MaxCompletionTokens), a streaming
CreateResponse, and EstimateTokens for the compaction trigger. The
agent never sees provider-specific types; it consumes Stream deltas and
the assembled Response.

Adapters are built on the Eino framework's ToolCallingChatModel, which
normalizes the wire-level differences between upstreams (Anthropic,
OpenAI/Azure/compatible, Volcengine ARK) into one chunked message
stream. The drain logic in stream.go handles the two chunking styles
Eino surfaces (accumulated text versus delta text) and reassembles
tool-call arguments that arrive as indexed fragments.

BuildMessages converts a working conversation (event list) into the
provider-bound message list, dropping bookkeeping events (approvals,
local system messages, compaction markers) that have no provider-facing
meaning.
*/
package provider
