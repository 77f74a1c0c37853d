package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/obra/lace-sub014/internal/session"
	"github.com/obra/lace-sub014/internal/storage"
	"github.com/obra/lace-sub014/pkg/types"
)

// actorFromRequest reads the acting identity for task mutations. An
// absent actor defaults to a human operator.
func actorFromRequest(r *http.Request) (actor string, isHuman bool) {
	actor = r.Header.Get("X-Lace-Actor")
	if actor == "" {
		return "human", true
	}
	return actor, r.Header.Get("X-Lace-Actor-Type") != "agent"
}

// --- sessions ---

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string         `json:"projectID"`
		Config    map[string]any `json:"config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess, err := s.sessions.Create(r.Context(), body.ProjectID, body.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":           sess.ID(),
		"rootThreadID": sess.RootThreadID(),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	stored, err := s.store.LoadSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) forkSession(w http.ResponseWriter, r *http.Request) {
	forked, err := s.sessions.Fork(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":           forked.ID(),
		"rootThreadID": forked.RootThreadID(),
	})
}

func (s *Server) spawnAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile string `json:"profile,omitempty"`
		Model   string `json:"model,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess, err := s.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	a, err := sess.SpawnAgent(r.Context(), body.Profile, body.Model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"threadID": a.ThreadID()})
}

// --- tasks ---

func (s *Server) sessionForTask(w http.ResponseWriter, r *http.Request) (*session.Session, types.Task, bool) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.LoadTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found")
		} else {
			writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return nil, types.Task{}, false
	}

	sess, err := s.sessions.Load(r.Context(), task.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return nil, types.Task{}, false
	}
	return sess, task, true
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	tasks, err := sess.Tasks().List(r.Context(), types.TaskFilter{
		Status:   types.TaskStatus(q.Get("status")),
		Priority: types.TaskPriority(q.Get("priority")),
		Assignee: q.Get("assignee"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string             `json:"title"`
		Description string             `json:"description,omitempty"`
		Prompt      string             `json:"prompt,omitempty"`
		Priority    types.TaskPriority `json:"priority,omitempty"`
		Assignee    string             `json:"assignee,omitempty"`
		ThreadID    string             `json:"threadID,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess, err := s.sessions.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}

	actor, isHuman := actorFromRequest(r)
	task, err := sess.Tasks().Create(r.Context(), actor, isHuman, session.CreateTask{
		Title:       body.Title,
		Description: body.Description,
		Prompt:      body.Prompt,
		Priority:    body.Priority,
		Assignee:    body.Assignee,
		ThreadID:    body.ThreadID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	_, task, ok := s.sessionForTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       *string             `json:"title,omitempty"`
		Description *string             `json:"description,omitempty"`
		Prompt      *string             `json:"prompt,omitempty"`
		Status      *types.TaskStatus   `json:"status,omitempty"`
		Priority    *types.TaskPriority `json:"priority,omitempty"`
		Assignee    *string             `json:"assignee,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sess, task, ok := s.sessionForTask(w, r)
	if !ok {
		return
	}

	actor, isHuman := actorFromRequest(r)
	updated, err := sess.Tasks().Update(r.Context(), actor, isHuman, task.ID, session.UpdateTask{
		Title:       body.Title,
		Description: body.Description,
		Prompt:      body.Prompt,
		Status:      body.Status,
		Priority:    body.Priority,
		Assignee:    body.Assignee,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	sess, task, ok := s.sessionForTask(w, r)
	if !ok {
		return
	}
	actor, isHuman := actorFromRequest(r)
	if err := sess.Tasks().Delete(r.Context(), actor, isHuman, task.ID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) addTaskNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content required")
		return
	}

	sess, task, ok := s.sessionForTask(w, r)
	if !ok {
		return
	}
	actor, isHuman := actorFromRequest(r)
	updated, err := sess.Tasks().AddNote(r.Context(), actor, isHuman, task.ID, body.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- threads ---

func (s *Server) getThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var (
		events []types.Event
		err    error
	)
	if r.URL.Query().Get("view") == "complete" {
		events, err = s.threads.GetAllEvents(r.Context(), threadID)
	} else {
		events, err = s.threads.GetEvents(r.Context(), threadID)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text required")
		return
	}

	threadID := chi.URLParam(r, "threadID")
	a, _, ok := s.sessions.AgentByThread(threadID)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no agent bound to thread")
		return
	}

	if err := a.SendMessage(body.Text); err != nil {
		writeError(w, http.StatusConflict, ErrCodeInvalidRequest, err.Error())
		return
	}

	// The turn runs asynchronously; the event stream carries progress.
	writeJSON(w, http.StatusAccepted, map[string]string{"threadID": threadID, "state": string(a.State())})
}

func (s *Server) postSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text         string `json:"text"`
		UserAuthored bool   `json:"userAuthored,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text required")
		return
	}

	threadID := chi.URLParam(r, "threadID")
	var (
		ev  *types.Event
		err error
	)
	if body.UserAuthored {
		ev, err = s.threads.AddEvent(r.Context(), threadID, types.TagUserSystemPrompt,
			types.UserSystemPromptPayload{Text: body.Text})
	} else {
		ev, err = s.threads.AddEvent(r.Context(), threadID, types.TagSystemPrompt,
			types.SystemPromptPayload{Text: body.Text})
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) getPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.coordinator.Pending(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// --- approvals ---

func (s *Server) respondApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ThreadID string                 `json:"threadID"`
		Decision types.ApprovalDecision `json:"decision"`
		Reason   string                 `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ThreadID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "threadID and decision required")
		return
	}

	switch body.Decision {
	case types.ApprovalAllowOnce, types.ApprovalAllowSession, types.ApprovalDeny:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "unknown decision")
		return
	}

	ev, err := s.coordinator.Respond(r.Context(), body.ThreadID, chi.URLParam(r, "callID"), body.Decision, body.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if ev == nil {
		// Already answered; the duplicate is benign.
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}
