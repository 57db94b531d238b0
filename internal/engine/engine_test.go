package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"garrison/internal/config"
	"garrison/internal/db"
	"garrison/internal/domain"
	"garrison/internal/engine"
	"garrison/internal/migrate"
	"garrison/internal/notify"
	"garrison/internal/repo"
	"garrison/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sink   *sinkNotifier
}

// sinkNotifier records every notification for assertions.
type sinkNotifier struct {
	Sent []sentNotification
}

type sentNotification struct {
	UserID string
	Kind   string
}

func (s *sinkNotifier) Notify(_ context.Context, userID, kind string, _ map[string]any) {
	s.Sent = append(s.Sent, sentNotification{UserID: userID, Kind: kind})
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("alpha-coy")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	sink := &sinkNotifier{}
	eng.Notifier = sink
	ctx := context.Background()
	if _, err := eng.InitUnit(ctx, "alpha-coy", "Alpha Company", "", "admin-1"); err != nil {
		t.Fatalf("init unit: %v", err)
	}
	for _, u := range []engine.UserCreateOptions{
		{ID: "pvt-1", Name: "Pvt Cohen", Role: "soldier", Unit: "alpha-coy"},
		{ID: "off-1", Name: "Lt Levi", Role: "officer", Unit: "alpha-coy"},
		{ID: "cc-1", Name: "Cpt Mizrahi", Role: "company_commander", Unit: "alpha-coy"},
		{ID: "bc-1", Name: "Lt Col Bar", Role: "battalion_commander", Unit: "alpha-coy"},
	} {
		if _, err := eng.RegisterUser(ctx, u); err != nil {
			t.Fatalf("register %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, Sink: sink}
}

func newPendingReport(t *testing.T, env testEnv, approvers ...string) domain.Report {
	t.Helper()
	rep, err := env.Engine.CreateReport(env.Ctx, engine.ReportCreateOptions{
		Title:     "Patrol report",
		Content:   "Sector quiet.",
		AuthorID:  "pvt-1",
		Approvers: approvers,
		Submit:    true,
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	return rep
}

func TestCreateReportDraftThenSubmit(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, engine.ReportCreateOptions{
		Title:     "Equipment check",
		Content:   "All serviceable.",
		AuthorID:  "pvt-1",
		Approvers: []string{"off-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rep.Status != workflow.StatusDraft {
		t.Fatalf("status = %s, want draft", rep.Status)
	}
	rep, err = env.Engine.SubmitReport(env.Ctx, rep.ID, "pvt-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rep.Status != workflow.StatusPending || rep.CurrentApprover == nil || *rep.CurrentApprover != "off-1" {
		t.Fatalf("after submit: status=%s approver=%v", rep.Status, rep.CurrentApprover)
	}
	if len(env.Sink.Sent) != 1 || env.Sink.Sent[0].UserID != "off-1" || env.Sink.Sent[0].Kind != notify.KindReportSubmitted {
		t.Fatalf("unexpected notifications: %+v", env.Sink.Sent)
	}
}

func TestCreateReportResolvesChainFromConfig(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.CreateReport(env.Ctx, engine.ReportCreateOptions{
		Title:    "Incident report",
		Content:  "Vehicle breakdown on route.",
		AuthorID: "pvt-1",
		Priority: "high",
		Submit:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// high chain is company_commander then battalion_commander
	want := []string{"cc-1", "bc-1"}
	if len(rep.Approvers) != len(want) {
		t.Fatalf("approvers = %v, want %v", rep.Approvers, want)
	}
	for i, id := range want {
		if rep.Approvers[i] != id {
			t.Fatalf("approvers = %v, want %v", rep.Approvers, want)
		}
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1", "cc-1")
	env.Sink.Sent = nil

	rep, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil)
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if rep.Status != workflow.StatusPending || *rep.CurrentApprover != "cc-1" {
		t.Fatalf("after first approve: status=%s approver=%v", rep.Status, rep.CurrentApprover)
	}
	// the next approver gets pinged, not the author
	if len(env.Sink.Sent) != 1 || env.Sink.Sent[0].UserID != "cc-1" {
		t.Fatalf("intermediate notifications: %+v", env.Sink.Sent)
	}

	rep, err = env.Engine.ApproveReport(env.Ctx, rep.ID, "cc-1", nil)
	if err != nil {
		t.Fatalf("final approve: %v", err)
	}
	if rep.Status != workflow.StatusApproved || rep.CurrentApprover != nil {
		t.Fatalf("after final approve: status=%s approver=%v", rep.Status, rep.CurrentApprover)
	}
	last := env.Sink.Sent[len(env.Sink.Sent)-1]
	if last.UserID != "pvt-1" || last.Kind != notify.KindReportApproved {
		t.Fatalf("final notification: %+v", last)
	}

	got, err := env.Engine.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Approvals) != 2 {
		t.Fatalf("approvals = %d, want 2", len(got.Approvals))
	}
}

func TestApproveOutOfTurn(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1", "cc-1")

	_, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "cc-1", nil)
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("out of turn: got %v, want UnauthorizedError", err)
	}
	got, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if got.Status != workflow.StatusPending || *got.CurrentApprover != "off-1" {
		t.Fatalf("state changed after failed approve: %+v", got)
	}
}

func TestDoubleApproveIsStale(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1", "cc-1")
	if _, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil)
	var stale workflow.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("double approve: got %v, want StaleStateError", err)
	}
}

func TestSoldierCannotApprove(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		ID: "pvt-2", Name: "Pvt Azulay", Role: "soldier", Unit: "alpha-coy",
	}); err != nil {
		t.Fatal(err)
	}
	rep := newPendingReport(t, env, "pvt-2", "cc-1")
	_, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "pvt-2", nil)
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("soldier approve: got %v, want UnauthorizedError", err)
	}
}

func TestRevisionCycle(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1")
	env.Sink.Sent = nil

	rep, err := env.Engine.RequestRevision(env.Ctx, rep.ID, "off-1", "Add grid references.")
	if err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if rep.Status != workflow.StatusNeedsRevision || rep.CurrentApprover != nil {
		t.Fatalf("after request: status=%s approver=%v", rep.Status, rep.CurrentApprover)
	}
	if env.Sink.Sent[0].UserID != "pvt-1" || env.Sink.Sent[0].Kind != notify.KindReportRevisionRequested {
		t.Fatalf("revision notification: %+v", env.Sink.Sent)
	}

	rep, err = env.Engine.SubmitRevision(env.Ctx, rep.ID, "pvt-1", "Patrol report", "Sector quiet. Grid 1234 5678.", nil, strPtr("added grids"))
	if err != nil {
		t.Fatalf("submit revision: %v", err)
	}
	if rep.Status != workflow.StatusPending || rep.CurrentRevision != 2 {
		t.Fatalf("after resubmit: status=%s revision=%d", rep.Status, rep.CurrentRevision)
	}

	got, err := env.Engine.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Revisions) != 2 || got.Revisions[1].Version != 2 {
		t.Fatalf("revisions: %+v", got.Revisions)
	}
	// the earlier needs_revision record must not block the restarted chain
	if _, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil); err != nil {
		t.Fatalf("approve after revision: %v", err)
	}
}

func TestCommentRequiresViewAccess(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.RegisterUser(env.Ctx, engine.UserCreateOptions{
		ID: "pvt-9", Name: "Pvt Outsider", Role: "soldier", Unit: "alpha-coy",
	}); err != nil {
		t.Fatal(err)
	}
	rep := newPendingReport(t, env, "off-1")

	if _, err := env.Engine.AddComment(env.Ctx, rep.ID, "pvt-1", "Following up."); err != nil {
		t.Fatalf("author comment: %v", err)
	}
	_, err := env.Engine.AddComment(env.Ctx, rep.ID, "pvt-9", "What happened?")
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("outsider comment: got %v, want UnauthorizedError", err)
	}
}

func TestDeleteReportPermissions(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1")

	err := env.Engine.DeleteReport(env.Ctx, rep.ID, "off-1")
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("officer delete: got %v, want UnauthorizedError", err)
	}
	if err := env.Engine.DeleteReport(env.Ctx, rep.ID, "bc-1"); err != nil {
		t.Fatalf("battalion commander delete: %v", err)
	}
	if _, err := env.Engine.GetReport(env.Ctx, rep.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestTaskLifecycleAndNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.Sink.Sent = nil
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Clean weapons",
		AssignedTo: "pvt-1",
		CreatedBy:  "off-1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != workflow.TaskPending || task.Priority != workflow.PriorityMedium {
		t.Fatalf("defaults: %+v", task)
	}
	if env.Sink.Sent[0].UserID != "pvt-1" || env.Sink.Sent[0].Kind != notify.KindTaskAssigned {
		t.Fatalf("assign notification: %+v", env.Sink.Sent)
	}

	status := workflow.TaskCompleted
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, ActorID: "pvt-1", Status: &status})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("completedAt not set")
	}
	last := env.Sink.Sent[len(env.Sink.Sent)-1]
	if last.UserID != "off-1" || last.Kind != notify.KindTaskCompleted {
		t.Fatalf("completion notification: %+v", last)
	}

	reopened := workflow.TaskInProgress
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, ActorID: "off-1", Status: &reopened})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatal("completedAt not cleared on reopen")
	}
}

func TestTaskStats(t *testing.T) {
	env := newTestEnv(t)
	due := "2024-05-01T00:00:00Z"
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Overdue patrol", AssignedTo: "pvt-1", CreatedBy: "off-1", DueDate: &due,
	}); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Inventory", AssignedTo: "pvt-1", CreatedBy: "off-1", Priority: "high",
	})
	if err != nil {
		t.Fatal(err)
	}
	status := workflow.TaskCompleted
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, ActorID: "pvt-1", Status: &status}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.Engine.TaskStats(env.Ctx, "alpha-coy")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Overdue != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if stats.ByStatus[workflow.TaskPending] != 1 || stats.ByStatus[workflow.TaskCompleted] != 1 {
		t.Fatalf("byStatus: %+v", stats.ByStatus)
	}
	if stats.ByPriority["high"] != 1 {
		t.Fatalf("byPriority: %+v", stats.ByPriority)
	}
}

func TestDeleteTaskPermissions(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Guard duty roster", AssignedTo: "pvt-1", CreatedBy: "off-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.DeleteTask(env.Ctx, task.ID, "pvt-1")
	var unauth workflow.UnauthorizedError
	if !errors.As(err, &unauth) {
		t.Fatalf("assignee delete: got %v, want UnauthorizedError", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "off-1"); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
}

func TestNotificationsPersistedByInbox(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notifier = &notify.Inbox{Repo: env.Engine.Repo, Now: env.Engine.Now}
	rep := newPendingReport(t, env, "off-1")
	if _, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil); err != nil {
		t.Fatal(err)
	}
	notifs, err := env.Engine.Notifications(env.Ctx, "pvt-1", true, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Kind != notify.KindReportApproved {
		t.Fatalf("inbox: %+v", notifs)
	}
	if err := env.Engine.MarkNotificationRead(env.Ctx, notifs[0].ID, "pvt-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	notifs, err = env.Engine.Notifications(env.Ctx, "pvt-1", true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifs) != 0 {
		t.Fatalf("unread after mark: %+v", notifs)
	}
}

func TestEventJournal(t *testing.T) {
	env := newTestEnv(t)
	rep := newPendingReport(t, env, "off-1")
	if _, err := env.Engine.ApproveReport(env.Ctx, rep.ID, "off-1", nil); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.EventLog(env.Ctx, 10, 0, "alpha-coy", "", "report", rep.ID)
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	// created, submitted, approved, newest first
	if len(evts) != 3 || evts[0].Type != "report.approved" {
		t.Fatalf("events: %+v", evts)
	}
}

func strPtr(s string) *string { return &s }
