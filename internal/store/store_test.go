package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/notify"
	"garrison/internal/workflow"
)

// fakeRemote echoes whatever the store pushes, or fails on demand.
type fakeRemote struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	reports map[string]domain.Report
	tasks   map[string]domain.Task
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		reports: map[string]domain.Report{},
		tasks:   map[string]domain.Task{},
	}
}

var errDown = errors.New("backend unreachable")

func (f *fakeRemote) tick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errDown
	}
	return nil
}

func (f *fakeRemote) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRemote) storeReport(rep domain.Report) domain.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[rep.ID] = rep
	return rep
}

func (f *fakeRemote) GetReports(context.Context) ([]domain.Report, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Report{}
	for _, rep := range f.reports {
		out = append(out, rep)
	}
	return out, nil
}

func (f *fakeRemote) CreateReport(_ context.Context, rep domain.Report) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) UpdateReport(_ context.Context, rep domain.Report) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) report(id string) (domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.reports[id]
	if !ok {
		return domain.Report{}, errors.New("remote: no such report")
	}
	return rep, nil
}

func (f *fakeRemote) ApproveReport(_ context.Context, id, approverID string, comment *string) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	rep, err := f.report(id)
	if err != nil {
		return domain.Report{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := workflow.Approve(&rep, approverID, comment, now); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) RejectReport(_ context.Context, id, approverID string, comment *string) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	rep, err := f.report(id)
	if err != nil {
		return domain.Report{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := workflow.Reject(&rep, approverID, comment, now); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) RequestRevision(_ context.Context, id, approverID, comment string) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	rep, err := f.report(id)
	if err != nil {
		return domain.Report{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := workflow.RequestRevision(&rep, approverID, comment, now); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) SubmitRevision(_ context.Context, id, authorID, title, content string, attachments, comment *string) (domain.Report, error) {
	if err := f.tick(); err != nil {
		return domain.Report{}, err
	}
	rep, err := f.report(id)
	if err != nil {
		return domain.Report{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := workflow.SubmitRevision(&rep, authorID, title, content, attachments, comment, now); err != nil {
		return domain.Report{}, err
	}
	return f.storeReport(rep), nil
}

func (f *fakeRemote) AddComment(_ context.Context, id, authorID, content string) (domain.ReportComment, error) {
	if err := f.tick(); err != nil {
		return domain.ReportComment{}, err
	}
	rep, err := f.report(id)
	if err != nil {
		return domain.ReportComment{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	c, err := workflow.AddComment(&rep, authorID, content, now)
	if err != nil {
		return domain.ReportComment{}, err
	}
	f.storeReport(rep)
	return c, nil
}

func (f *fakeRemote) GetReportsForApproval(_ context.Context, userID string) ([]domain.Report, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Report{}
	for _, rep := range f.reports {
		if rep.CurrentApprover != nil && *rep.CurrentApprover == userID {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (f *fakeRemote) GetTasks(context.Context) ([]domain.Task, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRemote) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	if err := f.tick(); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	if err := f.tick(); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeRemote) DeleteTask(_ context.Context, id string) error {
	if err := f.tick(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

var _ Remote = (*fakeRemote)(nil)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Notify(_ context.Context, userID, kind string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, userID+":"+kind)
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func testPolicy() SyncPolicy {
	return SyncPolicy{
		Timeout: time.Second,
		Retries: 3,
		Backoff: time.Millisecond,
		Sleep:   func(time.Duration) {},
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newReportStore(t *testing.T, remote *fakeRemote, rec *recordingNotifier) *ReportStore {
	t.Helper()
	// assign through the interface so a nil recorder stays a nil Notifier
	var n notify.Notifier
	if rec != nil {
		n = rec
	}
	s := NewReportStore(remote, testPolicy(), n)
	s.SetNow(fixedClock())
	return s
}

func TestAddAndSync(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	rep, err := s.Add(context.Background(), AddOptions{
		Title:     "Patrol report",
		Content:   "Sector quiet.",
		AuthorID:  "pvt-1",
		Unit:      "alpha-coy",
		Approvers: []string{"off-1"},
		Submit:    true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rep.Status != workflow.StatusPending {
		t.Fatalf("status: %s", rep.Status)
	}
	if len(s.Unsynced()) != 0 {
		t.Fatalf("unsynced after successful push: %v", s.Unsynced())
	}
	if _, err := remote.report(rep.ID); err != nil {
		t.Fatalf("remote copy: %v", err)
	}
}

func TestAddValidation(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	_, err := s.Add(context.Background(), AddOptions{Content: "no title", AuthorID: "pvt-1"})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if remote.callCount() != 0 {
		t.Fatalf("validation failure must not hit the remote")
	}
}

func TestWriteFailureMarksUnsynced(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	rep, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1", Approvers: []string{"off-1"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	remote.setFail(true)
	before := remote.callCount()
	title := "Edited"
	if _, err := s.Update(context.Background(), rep.ID, "pvt-1", UpdatePatch{Title: &title}); err != nil {
		t.Fatalf("update applies locally: %v", err)
	}
	// bounded retry count
	if got := remote.callCount() - before; got != 3 {
		t.Fatalf("retry attempts = %d, want 3", got)
	}
	if got, _ := s.Get(rep.ID); got.Title != "Edited" {
		t.Fatalf("local state lost: %+v", got)
	}
	unsynced := s.Unsynced()
	if len(unsynced) != 1 || unsynced[0] != rep.ID {
		t.Fatalf("unsynced: %v", unsynced)
	}
}

func TestOfflineSuppressesRetries(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail(true)
	policy := testPolicy()
	policy.Offline = func() bool { return true }
	s := NewReportStore(remote, policy, nil)
	s.SetNow(fixedClock())

	if _, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1",
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if remote.callCount() != 1 {
		t.Fatalf("offline attempts = %d, want 1", remote.callCount())
	}
}

func TestFetchFailureRetainsSnapshot(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	rep, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	remote.setFail(true)
	fetchErr := s.Fetch(context.Background())
	var ce ConnectionError
	if !errors.As(fetchErr, &ce) {
		t.Fatalf("want ConnectionError, got %v", fetchErr)
	}
	if !s.ConnectionWarning() {
		t.Fatal("connection warning not surfaced")
	}
	if _, ok := s.Get(rep.ID); !ok {
		t.Fatal("snapshot cleared on failed fetch")
	}

	remote.setFail(false)
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("recovered fetch: %v", err)
	}
	if s.ConnectionWarning() {
		t.Fatal("warning not cleared after successful fetch")
	}
}

func TestFetchKeepsNewerUnsyncedCopy(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	rep, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// local edit that never reaches the backend
	remote.setFail(true)
	title := "Local edit"
	later := time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return later })
	if _, err := s.Update(context.Background(), rep.ID, "pvt-1", UpdatePatch{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}

	remote.setFail(false)
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, _ := s.Get(rep.ID)
	if got.Title != "Local edit" {
		t.Fatalf("newer local copy overwritten: %+v", got)
	}
	if len(s.Unsynced()) != 1 {
		t.Fatalf("still unsynced: %v", s.Unsynced())
	}
}

func TestApproveNotifiesAfterCommit(t *testing.T) {
	remote := newFakeRemote()
	n := &recordingNotifier{}
	s := newReportStore(t, remote, n)

	rep, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1",
		Approvers: []string{"off-1"}, Submit: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Approve(context.Background(), rep.ID, "off-1", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != workflow.StatusApproved {
		t.Fatalf("status: %s", got.Status)
	}
	sent := n.all()
	if len(sent) != 2 || sent[1] != "pvt-1:report.approved" {
		t.Fatalf("notifications: %v", sent)
	}
}

func TestDoubleApproveStaleLocally(t *testing.T) {
	remote := newFakeRemote()
	s := newReportStore(t, remote, nil)

	rep, err := s.Add(context.Background(), AddOptions{
		Title: "Report", Content: "Body", AuthorID: "pvt-1",
		Approvers: []string{"off-1", "cc-1"}, Submit: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Approve(context.Background(), rep.ID, "off-1", nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err = s.Approve(context.Background(), rep.ID, "off-1", nil)
	var stale workflow.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("want StaleStateError, got %v", err)
	}
	got, _ := s.Get(rep.ID)
	if len(got.Approvals) != 1 {
		t.Fatalf("approval double-recorded: %+v", got.Approvals)
	}
}

func TestTaskStoreLifecycle(t *testing.T) {
	remote := newFakeRemote()
	n := &recordingNotifier{}
	s := NewTaskStore(remote, testPolicy(), n)
	s.SetNow(fixedClock())
	ctx := context.Background()

	task, err := s.Add(ctx, TaskAddOptions{
		Title: "Clean weapons", AssignedTo: "pvt-1", CreatedBy: "off-1", Unit: "alpha-coy",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.Status != workflow.TaskPending {
		t.Fatalf("status: %s", task.Status)
	}
	sent := n.all()
	if len(sent) != 1 || sent[0] != "pvt-1:task.assigned" {
		t.Fatalf("assign notification: %v", sent)
	}

	status := workflow.TaskCompleted
	task, err = s.Update(ctx, task.ID, "pvt-1", TaskUpdatePatch{Status: &status})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	sent = n.all()
	if sent[len(sent)-1] != "off-1:task.completed" {
		t.Fatalf("completion notification: %v", sent)
	}

	stats := s.Stats()
	if stats.Total != 1 || stats.ByStatus[workflow.TaskCompleted] != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	soldier := domain.User{ID: "pvt-1", Role: "soldier"}
	err = s.Delete(ctx, task.ID, soldier)
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("soldier delete: %v", err)
	}
	creator := domain.User{ID: "off-1", Role: "officer"}
	if err := s.Delete(ctx, task.ID, creator); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
	if _, ok := s.Get(task.ID); ok {
		t.Fatal("task survived delete")
	}
}

func TestTaskOverdueDerivation(t *testing.T) {
	remote := newFakeRemote()
	s := NewTaskStore(remote, testPolicy(), nil)
	s.SetNow(fixedClock())

	due := "2024-05-01T00:00:00Z"
	task, err := s.Add(context.Background(), TaskAddOptions{
		Title: "Overdue patrol", AssignedTo: "pvt-1", CreatedBy: "off-1", DueDate: &due,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Stats().Overdue != 1 {
		t.Fatal("overdue not derived")
	}
	got, _ := s.Get(task.ID)
	if got.CompletedAt != nil {
		t.Fatal("completedAt set before completion")
	}
}
