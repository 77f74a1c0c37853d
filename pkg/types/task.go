package types

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskPriority orders tasks within a queue.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// AssigneeHuman is the sentinel assignee meaning "a human operator", not
// any agent thread.
const AssigneeHuman = "human"

// Task is a unit of work scoped to a Session. Assignee is either an
// existing agent thread ID, AssigneeHuman, or a "new:<provider>/<model>"
// spec meaning "materialize an agent on assignment".
type Task struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionID"`
	ThreadID    string       `json:"threadID"` // owning thread that created the task
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Prompt      string       `json:"prompt"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Assignee    string       `json:"assignee"`
	Creator     string       `json:"creator"`
	Notes       []TaskNote   `json:"notes,omitempty"`
	Created     int64        `json:"created"`
	Updated     int64        `json:"updated"`
}

// TaskNote is an append-only annotation on a Task.
type TaskNote struct {
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// TaskFilter narrows TaskManager.List results. Zero-value fields are not
// applied as filters.
type TaskFilter struct {
	Status   TaskStatus
	Priority TaskPriority
	Assignee string
}

// TaskSummary is a status-count breakdown of a task queue.
type TaskSummary struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}
