package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obra/lace-sub014/internal/agent"
	"github.com/obra/lace-sub014/internal/approval"
	"github.com/obra/lace-sub014/internal/compaction"
	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/internal/permission"
	"github.com/obra/lace-sub014/internal/provider"
	"github.com/obra/lace-sub014/internal/session"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/internal/threadstore"
	"github.com/obra/lace-sub014/internal/tool"
	"github.com/obra/lace-sub014/pkg/types"
)

type stubAdapter struct{}

func (stubAdapter) Name() string             { return "stub" }
func (stubAdapter) DefaultModel() string     { return "stub-1" }
func (stubAdapter) ContextWindow() int       { return 200000 }
func (stubAdapter) MaxCompletionTokens() int { return 1024 }
func (stubAdapter) EstimateTokens(m []*schema.Message) int {
	return provider.EstimateTokens(m)
}
func (stubAdapter) CreateResponse(ctx context.Context, req *provider.Request) (*provider.Stream, error) {
	return provider.NewTestStream(ctx, []*schema.Message{
		{Role: schema.Assistant, Content: "ok"},
	}), nil
}

type testEnv struct {
	srv     *httptest.Server
	bus     *event.Bus
	threads *threadstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := storage.Open(filepath.Join(t.TempDir(), "lace.db"))
	t.Cleanup(func() { db.Close() })

	bus := event.NewBus()
	threads := threadstore.New(db, bus, compaction.Default(nil))
	coordinator := approval.New(threads)
	policy := permission.NewPolicy()

	providers := provider.NewRegistry()
	providers.Register(stubAdapter{})

	manager := session.NewManager(session.ManagerConfig{
		Store:     db,
		Threads:   threads,
		Bus:       bus,
		Providers: providers,
		Profiles:  agent.NewRegistry(),
		Policy:    policy,
		Executor:  tool.NewExecutor(tool.NewRegistry(t.TempDir()), policy, coordinator),
	})

	s := New(DefaultConfig(), db, threads, manager, coordinator, bus)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, bus: bus, threads: threads}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestProjectSurface(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.srv.URL+"/projects", map[string]any{"root": "/srv/repo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[types.Project](t, resp)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "/srv/repo", created.Root)

	resp, err := http.Get(env.srv.URL + "/projects/" + created.ID)
	require.NoError(t, err)
	loaded := decode[types.Project](t, resp)
	assert.Equal(t, created.ID, loaded.ID)

	resp, err = http.Get(env.srv.URL + "/projects")
	require.NoError(t, err)
	listed := decode[map[string][]types.Project](t, resp)
	require.Len(t, listed["projects"], 1)
}

func TestSessionAndTaskSurface(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.srv.URL+"/sessions", map[string]any{"projectID": "proj1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]string](t, resp)
	sessionID := created["id"]
	require.NotEmpty(t, sessionID)
	require.NotEmpty(t, created["rootThreadID"])

	resp = postJSON(t, env.srv.URL+"/sessions/"+sessionID+"/tasks", map[string]any{
		"title":    "triage",
		"priority": "high",
		"assignee": "human",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[types.Task](t, resp)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, types.TaskPriorityHigh, task.Priority)

	// PATCH by bare task id resolves the owning session.
	patch, _ := json.Marshal(map[string]any{"status": "in-progress"})
	req, _ := http.NewRequest(http.MethodPatch, env.srv.URL+"/tasks/"+task.ID, bytes.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	patchResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	updated := decode[types.Task](t, patchResp)
	assert.Equal(t, types.TaskInProgress, updated.Status)

	resp, err = http.Get(env.srv.URL + "/sessions/" + sessionID + "/tasks?status=in-progress")
	require.NoError(t, err)
	listed := decode[map[string][]types.Task](t, resp)
	require.Len(t, listed["tasks"], 1)

	resp = postJSON(t, env.srv.URL+"/tasks/"+task.ID+"/notes", map[string]any{"content": "on it"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	noted := decode[types.Task](t, resp)
	require.Len(t, noted.Notes, 1)
	assert.Equal(t, "human", noted.Notes[0].Author)
}

func TestApprovalEndpointDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	threadID, err := env.threads.CreateThread(ctx, threadstore.CreateOptions{})
	require.NoError(t, err)
	_, err = env.threads.AddEvent(ctx, threadID, types.TagToolApprovalRequest,
		types.ToolApprovalRequestPayload{CallID: "call_1"})
	require.NoError(t, err)

	body := map[string]any{"threadID": threadID, "decision": "deny"}

	resp := postJSON(t, env.srv.URL+"/approvals/call_1", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, env.srv.URL+"/approvals/call_1", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	dup := decode[map[string]any](t, resp)
	assert.Equal(t, true, dup["duplicate"])

	// Exactly one response event persisted.
	events, err := env.threads.GetAllEvents(ctx, threadID)
	require.NoError(t, err)
	responses := 0
	for _, ev := range events {
		if ev.Tag == types.TagToolApprovalResponse {
			responses++
		}
	}
	assert.Equal(t, 1, responses)

	resp, err = http.Get(env.srv.URL + "/threads/" + threadID + "/pending-approvals")
	require.NoError(t, err)
	pending := decode[map[string][]types.ToolApprovalRequestPayload](t, resp)
	assert.Empty(t, pending["pending"])
}

func TestApprovalEndpointRejectsUnknownDecision(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/approvals/call_1", map[string]any{
		"threadID": "lace_20250731_abc123", "decision": "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestThreadEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	threadID, err := env.threads.CreateThread(ctx, threadstore.CreateOptions{})
	require.NoError(t, err)
	_, err = env.threads.AddEvent(ctx, threadID, types.TagUserMessage, types.UserMessagePayload{Text: "hi"})
	require.NoError(t, err)
	_, err = env.threads.AddEvent(ctx, threadID, types.TagCompaction, types.CompactionPayload{
		StrategyID: "trim-tool-results", OriginalEventCount: 1, ReplacementEvents: []types.Event{}})
	require.NoError(t, err)

	resp, err := http.Get(env.srv.URL + "/threads/" + threadID + "/events")
	require.NoError(t, err)
	working := decode[map[string][]types.Event](t, resp)
	assert.Len(t, working["events"], 1, "working view applies the compaction")

	resp, err = http.Get(env.srv.URL + "/threads/" + threadID + "/events?view=complete")
	require.NoError(t, err)
	complete := decode[map[string][]types.Event](t, resp)
	assert.Len(t, complete["events"], 2, "complete view keeps everything")
}

func TestEventStreamDeliversScopedEnvelopes(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		env.srv.URL+"/events?sessionID=sess_match", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// The non-matching envelope must be filtered server-side; the
	// matching one arrives as an SSE record.
	env.bus.Publish(event.NewEnvelope(types.KindTaskCreated, types.Scope{SessionID: "sess_other"}, nil, false))
	env.bus.Publish(event.NewEnvelope(types.KindTaskCreated, types.Scope{SessionID: "sess_match", TaskID: "task_1"},
		map[string]any{"title": "x"}, false))

	var data string
	deadline := time.After(3 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before envelope arrived")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatal("timed out waiting for envelope")
		}
	}

	var env2 types.Envelope
	require.NoError(t, json.Unmarshal([]byte(data), &env2))
	assert.Equal(t, types.KindTaskCreated, env2.Kind)
	assert.Equal(t, "sess_match", env2.Scope.SessionID)
	assert.Equal(t, "task_1", env2.Scope.TaskID)
}

func TestSystemPromptEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	threadID, err := env.threads.CreateThread(ctx, threadstore.CreateOptions{})
	require.NoError(t, err)

	resp := postJSON(t, env.srv.URL+"/threads/"+threadID+"/system-prompt",
		map[string]any{"text": "be concise"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, env.srv.URL+"/threads/"+threadID+"/system-prompt",
		map[string]any{"text": "prefer tables", "userAuthored": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	events, err := env.threads.GetAllEvents(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.TagSystemPrompt, events[0].Tag)
	assert.Equal(t, types.TagUserSystemPrompt, events[1].Tag)
}

func TestPostMessageWithoutAgent(t *testing.T) {
	env := newTestEnv(t)
	resp := postJSON(t, env.srv.URL+"/threads/lace_20250731_zzzzzz/messages",
		map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
