package engine

import (
	"context"

	"github.com/google/uuid"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/notify"
	"garrison/internal/rank"
	"garrison/internal/repo"
	"garrison/internal/workflow"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	Title       string
	Description string
	AssignedTo  string
	CreatedBy   string
	Unit        string
	DueDate     *string
	Priority    string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, workflow.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.AssignedTo == "" {
		return domain.Task{}, workflow.ValidationError{Field: "assignedTo", Reason: "must not be empty"}
	}
	creator, err := e.actingUser(ctx, opts.CreatedBy)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Unit == "" {
		opts.Unit = creator.Unit
	}
	if opts.Priority == "" {
		opts.Priority = workflow.PriorityMedium
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	now := e.nowString()
	t := domain.Task{
		ID:          opts.ID,
		Title:       opts.Title,
		Description: opts.Description,
		AssignedTo:  opts.AssignedTo,
		CreatedBy:   opts.CreatedBy,
		Unit:        opts.Unit,
		DueDate:     opts.DueDate,
		Status:      workflow.TaskPending,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.Unit, "task", t.ID, opts.CreatedBy, events.EventPayload{
		"title": t.Title, "assigned_to": t.AssignedTo,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if t.AssignedTo != t.CreatedBy {
		e.notifier().Notify(ctx, t.AssignedTo, notify.KindTaskAssigned, map[string]any{
			"task_id": t.ID, "title": t.Title, "created_by": t.CreatedBy,
		})
	}
	return t, nil
}

// TaskUpdateOptions carries the mutable task fields; nil means unchanged.
type TaskUpdateOptions struct {
	ID          string
	ActorID     string
	Title       *string
	Description *string
	AssignedTo  *string
	DueDate     *string
	Status      *string
	Priority    *string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	now := e.nowString()
	reassignedFrom := ""
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignedTo != nil && *opts.AssignedTo != t.AssignedTo {
		reassignedFrom = t.AssignedTo
		t.AssignedTo = *opts.AssignedTo
	}
	if opts.DueDate != nil {
		t.DueDate = opts.DueDate
	}
	if opts.Priority != nil {
		t.Priority = *opts.Priority
	}
	completed := false
	if opts.Status != nil && *opts.Status != t.Status {
		completed = *opts.Status == workflow.TaskCompleted
		if err := workflow.SetTaskStatus(&t, *opts.Status, now); err != nil {
			return t, err
		}
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.Unit, "task", t.ID, opts.ActorID, events.EventPayload{"status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	if reassignedFrom != "" && t.AssignedTo != opts.ActorID {
		e.notifier().Notify(ctx, t.AssignedTo, notify.KindTaskAssigned, map[string]any{
			"task_id": t.ID, "title": t.Title, "created_by": t.CreatedBy,
		})
	}
	if completed && t.CreatedBy != opts.ActorID {
		e.notifier().Notify(ctx, t.CreatedBy, notify.KindTaskCompleted, map[string]any{
			"task_id": t.ID, "title": t.Title, "completed_by": opts.ActorID,
		})
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	actor, err := e.actingUser(ctx, actorID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !rank.CanDeleteTask(actor, t.CreatedBy) {
		return workflow.UnauthorizedError{UserID: actorID, Action: "delete task " + id}
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.Unit, "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// TaskStats aggregates counts by status and priority plus an overdue count
// for one unit.
func (e Engine) TaskStats(ctx context.Context, unit string) (domain.TaskStats, error) {
	byStatus, err := e.Repo.CountTasksByStatus(ctx, unit)
	if err != nil {
		return domain.TaskStats{}, err
	}
	byPriority, err := e.Repo.CountTasksByPriority(ctx, unit)
	if err != nil {
		return domain.TaskStats{}, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{Unit: unit})
	if err != nil {
		return domain.TaskStats{}, err
	}
	overdue := 0
	now := e.now()
	for _, t := range tasks {
		if workflow.TaskOverdue(t, now) {
			overdue++
		}
	}
	return domain.TaskStats{
		Total:      total,
		ByStatus:   byStatus,
		ByPriority: byPriority,
		Overdue:    overdue,
	}, nil
}
