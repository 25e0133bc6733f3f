package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Task Operations ────────────────────────────────────────────────────────

// CreateTask inserts a new task.
func (d *DB) CreateTask(t *domain.Task) error {
	if t.Status == "" {
		t.Status = domain.TaskTodo
	}
	_, err := d.db.Exec(`
		INSERT INTO tasks (id, sprint_id, title, status, points, assignee_id, assignee_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SprintID, t.Title, string(t.Status), t.Points, t.AssigneeID, t.AssigneeName)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, sprint_id, title, status, points, assignee_id, assignee_name, created_at, updated_at`

// GetTask fetches one task by id.
func (d *DB) GetTask(id string) (*domain.Task, error) {
	row := d.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	return t, err
}

// ListSprintTasks returns all tasks attached to a sprint.
func (d *DB) ListSprintTasks(sprintID string) ([]domain.Task, error) {
	rows, err := d.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE sprint_id = ? ORDER BY created_at`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("list sprint tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListAssigneeTasks returns a contributor's tasks in chronological order.
func (d *DB) ListAssigneeTasks(assigneeID string) ([]domain.Task, error) {
	rows, err := d.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE assignee_id = ? ORDER BY created_at, id`, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("list assignee tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetTaskStatus updates a task's workflow status.
func (d *DB) SetTaskStatus(id string, status domain.TaskStatus) error {
	res, err := d.db.Exec(`
		UPDATE tasks SET status = ?, updated_at = datetime('now') WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t         domain.Task
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&t.ID, &t.SprintID, &t.Title, &status, &t.Points,
		&t.AssigneeID, &t.AssigneeName, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
