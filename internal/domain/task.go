package domain

import "time"

// ─── Tasks ──────────────────────────────────────────────────────────────────
// Task review workflows live outside the engine; the snapshot builder and
// disposition step only need identity, status, points, and sprint membership.

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskDone       TaskStatus = "done"
)

// IsDone reports whether the task counts as completed work.
func (s TaskStatus) IsDone() bool { return s == TaskDone }

// Task is a unit of sprint work. SprintID is empty for backlog tasks.
// Points of 0 means the task was never estimated.
type Task struct {
	ID           string     `json:"id"`
	SprintID     string     `json:"sprint_id,omitempty"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	Points       int64      `json:"points"`
	AssigneeID   string     `json:"assignee_id,omitempty"`
	AssigneeName string     `json:"assignee_name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Summary converts the task to its snapshot audit row.
func (t *Task) Summary() TaskSummary {
	return TaskSummary{
		TaskID:       t.ID,
		Title:        t.Title,
		Status:       t.Status,
		Points:       t.Points,
		AssigneeName: t.AssigneeName,
	}
}
