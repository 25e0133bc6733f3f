// Package snapshot builds the immutable completion record of a sprint.
//
// The builder computes the counts, point sums, and per-task audit summary,
// decides the disposition of incomplete work, and hands both to the store
// as one atomic write: a snapshot without its task reassignment (or the
// reverse) is a correctness bug, not a degraded mode.
package snapshot

import (
	"fmt"
	"time"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// Stores is the storage surface the builder needs.
type Stores interface {
	GetSprint(id string) (*domain.Sprint, error)
	ListSprintTasks(sprintID string) ([]domain.Task, error)
	InsertSnapshot(snap *domain.SprintSnapshot, incompleteIDs []string) error
	GetSnapshot(sprintID string) (*domain.SprintSnapshot, error)
}

// Builder creates sprint completion snapshots.
type Builder struct {
	store Stores
	now   func() time.Time
}

// New creates a snapshot builder.
func New(store Stores) *Builder {
	return &Builder{store: store, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }

// ─── Pure Computation ───────────────────────────────────────────────────────

// Summary is the computed completion figures for a task set.
type Summary struct {
	TotalTasks      int
	CompletedTasks  int
	IncompleteTasks int
	TotalPoints     int64
	CompletedPoints int64
	CompletionRate  float64 // Percent, 0–100
	Tasks           []domain.TaskSummary
	IncompleteIDs   []string
}

// Compute derives the completion figures from a sprint's task set.
//
// The completion rate is point-weighted whenever any task carries points;
// unpointed tasks then count as zero weight. Only a sprint with no points
// recorded at all falls back to raw task counts. An empty sprint rates 0.
func Compute(tasks []domain.Task) Summary {
	s := Summary{Tasks: make([]domain.TaskSummary, 0, len(tasks))}
	for i := range tasks {
		t := &tasks[i]
		s.TotalTasks++
		s.TotalPoints += t.Points
		if t.Status.IsDone() {
			s.CompletedTasks++
			s.CompletedPoints += t.Points
		} else {
			s.IncompleteTasks++
			s.IncompleteIDs = append(s.IncompleteIDs, t.ID)
		}
		s.Tasks = append(s.Tasks, t.Summary())
	}

	switch {
	case s.TotalPoints > 0:
		s.CompletionRate = float64(s.CompletedPoints) / float64(s.TotalPoints) * 100
	case s.TotalTasks > 0:
		s.CompletionRate = float64(s.CompletedTasks) / float64(s.TotalTasks) * 100
	}
	return s
}

// ─── Build ──────────────────────────────────────────────────────────────────

// Build computes and persists the completion snapshot for a sprint,
// applying the chosen incomplete-task disposition. The write is atomic
// with the reassignment and happens at most once per sprint.
func (b *Builder) Build(sprintID string, action domain.IncompleteAction, targetID string) (*domain.SprintSnapshot, error) {
	if action == "" {
		action = domain.IncompleteToBacklog
	}
	if !action.Valid() {
		return nil, fmt.Errorf("unknown incomplete action %q", action)
	}

	if action == domain.IncompleteToNextSprint {
		if targetID == "" {
			return nil, domain.ErrTargetSprintRequired
		}
		target, err := b.store.GetSprint(targetID)
		if err != nil {
			return nil, fmt.Errorf("target sprint: %w", err)
		}
		if target.Phase != domain.PhasePlanning {
			return nil, domain.ErrTargetNotPlanning
		}
	} else {
		targetID = ""
	}

	tasks, err := b.store.ListSprintTasks(sprintID)
	if err != nil {
		return nil, fmt.Errorf("list sprint tasks: %w", err)
	}
	sum := Compute(tasks)

	snap := &domain.SprintSnapshot{
		SprintID:        sprintID,
		TotalTasks:      sum.TotalTasks,
		CompletedTasks:  sum.CompletedTasks,
		IncompleteTasks: sum.IncompleteTasks,
		TotalPoints:     sum.TotalPoints,
		CompletedPoints: sum.CompletedPoints,
		CompletionRate:  sum.CompletionRate,
		Tasks:           sum.Tasks,
		Disposition:     action,
		TargetSprintID:  targetID,
		CreatedAt:       b.now(),
	}
	if err := b.store.InsertSnapshot(snap, sum.IncompleteIDs); err != nil {
		return nil, err
	}
	return snap, nil
}
