package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/obra/lace-sub014/pkg/types"
)

// memoryFallback backs a degraded Store when SQLite could not be opened.
// It preserves every invariant SQLite would have enforced (most notably
// at-most-one TOOL_APPROVAL_RESPONSE per call_id) using a plain mutex
// instead of transactions, since there is only ever one process reading
// it. Durability is forfeit: everything here disappears on exit.
type memoryFallback struct {
	mu sync.Mutex

	projects map[string]types.Project
	sessions map[string]types.Session
	threads  map[string]types.Thread
	events   map[string][]types.Event // threadID -> append-ordered
	approved map[string]bool          // threadID|callID -> has a TOOL_APPROVAL_RESPONSE
	tasks    map[string]types.Task
}

func newMemoryFallback() *memoryFallback {
	return &memoryFallback{
		projects: make(map[string]types.Project),
		sessions: make(map[string]types.Session),
		threads:  make(map[string]types.Thread),
		events:   make(map[string][]types.Event),
		approved: make(map[string]bool),
		tasks:    make(map[string]types.Task),
	}
}

func approvalKey(threadID, callID string) string { return threadID + "|" + callID }

func (m *memoryFallback) saveThread(th types.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[th.ID] = th
}

func (m *memoryFallback) loadThread(id string) (types.Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[id]
	return th, ok
}

func (m *memoryFallback) deleteThread(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
	delete(m.events, id)
}

func (m *memoryFallback) listThreads(sessionID string) []types.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Thread
	for _, th := range m.threads {
		if th.SessionID == sessionID {
			out = append(out, th)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}

func (m *memoryFallback) childThreadIDs(parentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := parentID + "."
	var out []string
	for id := range m.threads {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memoryFallback) saveEvent(ev types.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Tag == types.TagToolApprovalResponse {
		if p, ok := ev.Payload.(types.ToolApprovalResponsePayload); ok {
			key := approvalKey(ev.ThreadID, p.CallID)
			if m.approved[key] {
				return false
			}
			m.approved[key] = true
		}
	}
	m.events[ev.ThreadID] = append(m.events[ev.ThreadID], ev)
	return true
}

func (m *memoryFallback) loadEvents(threadID string) []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events[threadID]))
	copy(out, m.events[threadID])
	return out
}

func (m *memoryFallback) pendingApprovals(threadID string) []PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()
	requested := map[string]types.Event{}
	var order []string
	for _, ev := range m.events[threadID] {
		if ev.Tag == types.TagToolApprovalRequest {
			if p, ok := ev.Payload.(types.ToolApprovalRequestPayload); ok {
				if _, seen := requested[p.CallID]; !seen {
					order = append(order, p.CallID)
				}
				requested[p.CallID] = ev
			}
		}
	}
	var out []PendingApproval
	for _, callID := range order {
		if m.approved[approvalKey(threadID, callID)] {
			continue
		}
		out = append(out, PendingApproval{CallID: callID, RequestedAt: requested[callID].Timestamp})
	}
	return out
}

func (m *memoryFallback) approvalDecision(threadID, callID string) (types.ApprovalDecision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events[threadID] {
		if ev.Tag != types.TagToolApprovalResponse {
			continue
		}
		if p, ok := ev.Payload.(types.ToolApprovalResponsePayload); ok && p.CallID == callID {
			return p.Decision, true
		}
	}
	return "", false
}

func (m *memoryFallback) saveSession(s types.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *memoryFallback) loadSession(id string) (types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *memoryFallback) deleteSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	for tid, th := range m.threads {
		if th.SessionID == id {
			delete(m.threads, tid)
			delete(m.events, tid)
		}
	}
	for tid, tk := range m.tasks {
		if tk.SessionID == id {
			delete(m.tasks, tid)
		}
	}
}

func (m *memoryFallback) saveTask(t types.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

func (m *memoryFallback) loadTask(id string) (types.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

func (m *memoryFallback) deleteTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

func (m *memoryFallback) listTasks(sessionID string, filter types.TaskFilter) []types.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Task
	for _, t := range m.tasks {
		if t.SessionID != sessionID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if filter.Assignee != "" && t.Assignee != filter.Assignee {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}

func (m *memoryFallback) addTaskNote(id string, note types.TaskNote) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	t.Notes = append(t.Notes, note)
	t.Updated = note.Timestamp
	m.tasks[id] = t
	return true
}

func (m *memoryFallback) saveProject(p types.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *memoryFallback) loadProject(id string) (types.Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok
}

func (m *memoryFallback) listProjects() []types.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}
