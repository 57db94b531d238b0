package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"garrison/internal/domain"
	"garrison/internal/notify"
	"garrison/internal/rank"
	"garrison/internal/repo"
	"garrison/internal/workflow"
)

// TaskStore owns the in-memory task collection.
type TaskStore struct {
	mu       sync.Mutex
	tasks    map[string]domain.Task
	unsynced map[string]bool

	remote   Remote
	policy   SyncPolicy
	notifier notify.Notifier
	now      func() time.Time

	connWarning bool
}

func NewTaskStore(remote Remote, policy SyncPolicy, notifier notify.Notifier) *TaskStore {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &TaskStore{
		tasks:    map[string]domain.Task{},
		unsynced: map[string]bool{},
		remote:   remote,
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *TaskStore) SetNow(now func() time.Time) { s.now = now }

func (s *TaskStore) nowString() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Fetch replaces the collection with the remote state, keeping unsynced
// local copies that are newer.
func (s *TaskStore) Fetch(ctx context.Context) error {
	var items []domain.Task
	err := s.policy.do(ctx, "tasks.getAll", func(ctx context.Context) error {
		var err error
		items, err = s.remote.GetTasks(ctx)
		return err
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.connWarning = true
		return err
	}
	fresh := map[string]domain.Task{}
	for _, t := range items {
		if s.unsynced[t.ID] {
			if local, ok := s.tasks[t.ID]; ok && local.UpdatedAt > t.UpdatedAt {
				fresh[t.ID] = local
				continue
			}
			delete(s.unsynced, t.ID)
		}
		fresh[t.ID] = t
	}
	for id, t := range s.tasks {
		if s.unsynced[id] {
			if _, ok := fresh[id]; !ok {
				fresh[id] = t
			}
		}
	}
	s.tasks = fresh
	s.connWarning = false
	return nil
}

func (s *TaskStore) ConnectionWarning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connWarning
}

func (s *TaskStore) Unsynced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.unsynced))
	for id := range s.unsynced {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TaskAddOptions are parameters for creating a task locally.
type TaskAddOptions struct {
	Title       string
	Description string
	AssignedTo  string
	CreatedBy   string
	Unit        string
	DueDate     *string
	Priority    string
}

func (s *TaskStore) Add(ctx context.Context, opts TaskAddOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, workflow.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.AssignedTo == "" {
		return domain.Task{}, workflow.ValidationError{Field: "assignedTo", Reason: "must not be empty"}
	}
	if opts.Priority == "" {
		opts.Priority = workflow.PriorityMedium
	}
	now := s.nowString()
	t := domain.Task{
		ID:          uuid.NewString(),
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
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.unsynced[t.ID] = true
	s.mu.Unlock()

	if t.AssignedTo != t.CreatedBy {
		s.notifier.Notify(ctx, t.AssignedTo, notify.KindTaskAssigned, map[string]any{
			"task_id": t.ID, "title": t.Title, "created_by": t.CreatedBy,
		})
	}
	s.push(ctx, t.ID, "tasks.create", func(ctx context.Context) (domain.Task, error) {
		return s.remote.CreateTask(ctx, t)
	})
	return s.get(t.ID), nil
}

// TaskUpdatePatch carries mutable task fields; nil means unchanged.
type TaskUpdatePatch struct {
	Title       *string
	Description *string
	AssignedTo  *string
	DueDate     *string
	Status      *string
	Priority    *string
}

func (s *TaskStore) Update(ctx context.Context, id, actorID string, patch TaskUpdatePatch) (domain.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return domain.Task{}, repo.ErrNotFound
	}
	now := s.nowString()
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.AssignedTo != nil {
		t.AssignedTo = *patch.AssignedTo
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	completed := false
	if patch.Status != nil && *patch.Status != t.Status {
		completed = *patch.Status == workflow.TaskCompleted
		if err := workflow.SetTaskStatus(&t, *patch.Status, now); err != nil {
			s.mu.Unlock()
			return domain.Task{}, err
		}
	}
	t.UpdatedAt = now
	s.tasks[id] = t
	s.unsynced[id] = true
	s.mu.Unlock()

	if completed && t.CreatedBy != actorID {
		s.notifier.Notify(ctx, t.CreatedBy, notify.KindTaskCompleted, map[string]any{
			"task_id": t.ID, "title": t.Title, "completed_by": actorID,
		})
	}
	s.push(ctx, id, "tasks.update", func(ctx context.Context) (domain.Task, error) {
		return s.remote.UpdateTask(ctx, t)
	})
	return s.get(id), nil
}

// Delete removes a task; creator or battalion commander and up.
func (s *TaskStore) Delete(ctx context.Context, id string, actor domain.User) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return repo.ErrNotFound
	}
	if !rank.CanDeleteTask(actor, t.CreatedBy) {
		s.mu.Unlock()
		return workflow.UnauthorizedError{UserID: actor.ID, Action: "delete task " + id}
	}
	delete(s.tasks, id)
	delete(s.unsynced, id)
	s.mu.Unlock()

	if err := s.policy.do(ctx, "tasks.delete", func(ctx context.Context) error {
		return s.remote.DeleteTask(ctx, id)
	}); err != nil {
		log.WithError(err).WithField("task_id", id).Warn("store: task delete unsynced")
	}
	return nil
}

func (s *TaskStore) push(ctx context.Context, id, op string, fn func(ctx context.Context) (domain.Task, error)) {
	var remoteCopy domain.Task
	err := s.policy.do(ctx, op, func(ctx context.Context) error {
		var err error
		remoteCopy, err = fn(ctx)
		return err
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.WithError(err).WithField("task_id", id).Warn("store: task unsynced")
		return
	}
	local, ok := s.tasks[id]
	if !ok || remoteCopy.UpdatedAt >= local.UpdatedAt {
		s.tasks[id] = remoteCopy
	}
	delete(s.unsynced, id)
}

func (s *TaskStore) get(id string) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *TaskStore) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// UserTasks returns the tasks assigned to userID.
func (s *TaskStore) UserTasks(userID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.AssignedTo == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Stats derives counts by status and priority plus overdue, purely.
func (s *TaskStore) Stats() domain.TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.TaskStats{
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}
	now := s.now()
	for _, t := range s.tasks {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if workflow.TaskOverdue(t, now) {
			stats.Overdue++
		}
	}
	return stats
}
