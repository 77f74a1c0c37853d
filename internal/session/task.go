package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/obra/lace-sub014/internal/event"
	"github.com/obra/lace-sub014/pkg/types"
)

// TaskManager is a session-scoped task queue. Every mutation emits a
// task lifecycle envelope on the bus carrying the task, the actor, and
// whether the actor is human.
type TaskManager struct {
	session *Session
}

func newTaskManager(s *Session) *TaskManager {
	return &TaskManager{session: s}
}

// CreateTask describes a task to create. New tasks always start
// pending; a zero-value priority defaults to medium.
type CreateTask struct {
	Title       string
	Description string
	Prompt      string
	Priority    types.TaskPriority
	Assignee    string
	ThreadID    string
}

// Create adds a task and resolves its assignment.
func (tm *TaskManager) Create(ctx context.Context, actor string, isHuman bool, in CreateTask) (types.Task, error) {
	if in.Title == "" {
		return types.Task{}, fmt.Errorf("task: title required")
	}
	priority := in.Priority
	if priority == "" {
		priority = types.TaskPriorityMedium
	}

	now := time.Now().UnixMilli()
	task := types.Task{
		ID:          newTaskID(now),
		SessionID:   tm.session.id,
		ThreadID:    in.ThreadID,
		Title:       in.Title,
		Description: in.Description,
		Prompt:      in.Prompt,
		Status:      types.TaskPending,
		Priority:    priority,
		Assignee:    in.Assignee,
		Creator:     actor,
		Created:     now,
		Updated:     now,
	}

	if err := tm.session.deps.store.SaveTask(ctx, task); err != nil {
		return types.Task{}, err
	}

	tm.publish(types.KindTaskCreated, task, actor, isHuman)

	if err := tm.session.assign(ctx, task); err != nil {
		// The task exists either way; a failed notification is logged,
		// not rolled back.
		log.Warn().Err(err).Str("task_id", task.ID).Msg("task: assignment failed")
	}

	return task, nil
}

// Get returns one task.
func (tm *TaskManager) Get(ctx context.Context, id string) (types.Task, error) {
	task, err := tm.session.deps.store.LoadTask(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	if task.SessionID != tm.session.id {
		return types.Task{}, fmt.Errorf("task %s belongs to another session", id)
	}
	return task, nil
}

// List returns the session's tasks, optionally filtered.
func (tm *TaskManager) List(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	return tm.session.deps.store.ListTasks(ctx, tm.session.id, filter)
}

// UpdateTask is a partial update; nil fields are left unchanged.
type UpdateTask struct {
	Title       *string
	Description *string
	Prompt      *string
	Status      *types.TaskStatus
	Priority    *types.TaskPriority
	Assignee    *string
}

// Update applies a patch. Changing the assignee re-runs assignment.
func (tm *TaskManager) Update(ctx context.Context, actor string, isHuman bool, id string, patch UpdateTask) (types.Task, error) {
	task, err := tm.Get(ctx, id)
	if err != nil {
		return types.Task{}, err
	}

	reassigned := false
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Prompt != nil {
		task.Prompt = *patch.Prompt
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Assignee != nil && *patch.Assignee != task.Assignee {
		task.Assignee = *patch.Assignee
		reassigned = true
	}
	task.Updated = time.Now().UnixMilli()

	if err := tm.session.deps.store.UpdateTask(ctx, task); err != nil {
		return types.Task{}, err
	}

	tm.publish(types.KindTaskUpdated, task, actor, isHuman)

	if reassigned {
		if err := tm.session.assign(ctx, task); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("task: reassignment failed")
		}
	}

	return task, nil
}

// Delete removes a task.
func (tm *TaskManager) Delete(ctx context.Context, actor string, isHuman bool, id string) error {
	task, err := tm.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := tm.session.deps.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	tm.publish(types.KindTaskDeleted, task, actor, isHuman)
	return nil
}

// AddNote appends a note to a task.
func (tm *TaskManager) AddNote(ctx context.Context, actor string, isHuman bool, id, content string) (types.Task, error) {
	if _, err := tm.Get(ctx, id); err != nil {
		return types.Task{}, err
	}

	note := types.TaskNote{
		Author:    actor,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	ok, err := tm.session.deps.store.AddTaskNote(ctx, id, note)
	if err != nil {
		return types.Task{}, err
	}
	if !ok {
		return types.Task{}, fmt.Errorf("task %s not found", id)
	}

	task, err := tm.Get(ctx, id)
	if err != nil {
		return types.Task{}, err
	}
	tm.publish(types.KindTaskNoteAdded, task, actor, isHuman)
	return task, nil
}

// Summary returns status counts for the session's queue.
func (tm *TaskManager) Summary(ctx context.Context) (types.TaskSummary, error) {
	tasks, err := tm.List(ctx, types.TaskFilter{})
	if err != nil {
		return types.TaskSummary{}, err
	}

	var sum types.TaskSummary
	for _, t := range tasks {
		switch t.Status {
		case types.TaskPending:
			sum.Pending++
		case types.TaskInProgress:
			sum.InProgress++
		case types.TaskCompleted:
			sum.Completed++
		case types.TaskBlocked:
			sum.Blocked++
		}
	}
	return sum, nil
}

func (tm *TaskManager) publish(kind types.Kind, task types.Task, actor string, isHuman bool) {
	if tm.session.deps.bus == nil {
		return
	}
	tm.session.deps.bus.Publish(event.NewEnvelope(kind, types.Scope{
		ProjectID: tm.session.projectID,
		SessionID: tm.session.id,
		TaskID:    task.ID,
	}, event.TaskEventPayload{Task: task, Actor: actor, IsHuman: isHuman}, false))
}

// newTaskID generates a task identifier: task_<date>_<random>.
func newTaskID(nowMillis int64) string {
	date := time.UnixMilli(nowMillis).Format("20060102")
	suffix := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("task_%s_%s", date, suffix[len(suffix)-6:])
}
