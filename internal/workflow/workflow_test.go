package workflow_test

import (
	"errors"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/workflow"
)

const now = "2024-06-01T08:00:00Z"

func newPendingReport(t *testing.T, approvers ...string) domain.Report {
	t.Helper()
	r, err := workflow.NewReport("rep-1", "Morning report", "All present", "author-1", "text", "alpha", "medium", approvers, nil, now)
	if err != nil {
		t.Fatalf("new report: %v", err)
	}
	if err := workflow.Submit(&r, "author-1", now); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return r
}

func TestNewReportValidation(t *testing.T) {
	_, err := workflow.NewReport("rep-1", "", "content", "author-1", "", "", "", nil, nil, now)
	var ve workflow.ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
	_, err = workflow.NewReport("rep-1", "title", "  ", "author-1", "", "", "", nil, nil, now)
	if !errors.As(err, &ve) || ve.Field != "content" {
		t.Fatalf("expected content validation error, got %v", err)
	}
	r, err := workflow.NewReport("rep-1", "title", "content", "author-1", "", "", "", nil, nil, now)
	if err != nil {
		t.Fatalf("valid report: %v", err)
	}
	if r.Type != "text" || r.Priority != "medium" || r.Status != workflow.StatusDraft {
		t.Fatalf("defaults wrong: %+v", r)
	}
	if r.CurrentRevision != 1 || len(r.Revisions) != 1 || r.Revisions[0].Version != 1 {
		t.Fatalf("first revision not recorded: %+v", r)
	}
}

func TestSubmitWithoutApprovers(t *testing.T) {
	r, err := workflow.NewReport("rep-1", "title", "content", "author-1", "", "", "", nil, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	err = workflow.Submit(&r, "author-1", now)
	var iw workflow.InvalidWorkflowError
	if !errors.As(err, &iw) {
		t.Fatalf("expected InvalidWorkflowError, got %v", err)
	}
	if r.Status != workflow.StatusDraft {
		t.Fatalf("report must stay draft, got %s", r.Status)
	}
}

func TestSubmitByNonAuthor(t *testing.T) {
	r, _ := workflow.NewReport("rep-1", "title", "content", "author-1", "", "", "", []string{"a"}, nil, now)
	err := workflow.Submit(&r, "someone-else", now)
	var ue workflow.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}

func TestTwoApproverRoundTrip(t *testing.T) {
	r := newPendingReport(t, "a", "b")
	if r.CurrentApprover == nil || *r.CurrentApprover != "a" {
		t.Fatalf("expected current approver a")
	}
	if err := workflow.Approve(&r, "a", nil, now); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	if r.Status != workflow.StatusPending || r.CurrentApprover == nil || *r.CurrentApprover != "b" {
		t.Fatalf("chain should advance to b: %+v", r)
	}
	if err := workflow.Approve(&r, "b", nil, now); err != nil {
		t.Fatalf("approve b: %v", err)
	}
	if r.Status != workflow.StatusApproved {
		t.Fatalf("expected approved, got %s", r.Status)
	}
	if r.CurrentApprover != nil {
		t.Fatalf("approved report must have no current approver")
	}
	if len(r.Approvals) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(r.Approvals))
	}
}

func TestSingleApproverImmediateApproval(t *testing.T) {
	r := newPendingReport(t, "a")
	if err := workflow.Approve(&r, "a", nil, now); err != nil {
		t.Fatal(err)
	}
	if r.Status != workflow.StatusApproved || r.CurrentApprover != nil {
		t.Fatalf("single approver should finalize: %+v", r)
	}
}

func TestOutOfTurnApproverUnauthorized(t *testing.T) {
	r := newPendingReport(t, "a", "b")
	err := workflow.Approve(&r, "b", nil, now)
	var ue workflow.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if r.Status != workflow.StatusPending || *r.CurrentApprover != "a" || len(r.Approvals) != 0 {
		t.Fatalf("no state change expected: %+v", r)
	}
}

func TestDoubleApproveIsStale(t *testing.T) {
	r := newPendingReport(t, "a", "b")
	if err := workflow.Approve(&r, "a", nil, now); err != nil {
		t.Fatal(err)
	}
	err := workflow.Approve(&r, "a", nil, now)
	var se workflow.StaleStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
	if len(r.Approvals) != 1 {
		t.Fatalf("approval must not be double-recorded")
	}
}

func TestUnassignedUserUnauthorized(t *testing.T) {
	r := newPendingReport(t, "a")
	err := workflow.Approve(&r, "stranger", nil, now)
	var ue workflow.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}

func TestReject(t *testing.T) {
	r := newPendingReport(t, "a", "b")
	c := "incomplete roster"
	if err := workflow.Reject(&r, "a", &c, now); err != nil {
		t.Fatal(err)
	}
	if r.Status != workflow.StatusRejected || r.CurrentApprover != nil {
		t.Fatalf("reject should clear approver: %+v", r)
	}
	if len(r.Approvals) != 1 || r.Approvals[0].Status != workflow.DecisionRejected {
		t.Fatalf("rejection not recorded")
	}
}

func TestRequestRevisionRequiresComment(t *testing.T) {
	r := newPendingReport(t, "a")
	err := workflow.RequestRevision(&r, "a", "  ", now)
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := workflow.RequestRevision(&r, "a", "add the fuel counts", now); err != nil {
		t.Fatal(err)
	}
	if r.Status != workflow.StatusNeedsRevision || r.CurrentApprover != nil {
		t.Fatalf("request revision state wrong: %+v", r)
	}
	if len(r.Comments) != 1 || !r.Comments[0].IsRevision {
		t.Fatalf("revision comment not appended")
	}
}

func TestRevisionCycle(t *testing.T) {
	r := newPendingReport(t, "a", "b")
	if err := workflow.RequestRevision(&r, "a", "fix section 2", now); err != nil {
		t.Fatal(err)
	}
	rev, err := workflow.SubmitRevision(&r, "author-1", "Morning report v2", "v2", nil, nil, now)
	if err != nil {
		t.Fatalf("submit revision: %v", err)
	}
	if rev.Version != 2 || r.CurrentRevision != 2 {
		t.Fatalf("expected version 2, got %d/%d", rev.Version, r.CurrentRevision)
	}
	if r.Status != workflow.StatusPending || r.CurrentApprover == nil || *r.CurrentApprover != "a" {
		t.Fatalf("chain should restart from first approver: %+v", r)
	}
	if r.Content != "v2" {
		t.Fatalf("current content should track latest revision")
	}
	// A's stale record from revision 1 does not block their new turn.
	if err := workflow.Approve(&r, "a", nil, now); err != nil {
		t.Fatalf("approve after revision: %v", err)
	}
	// currentRevision always equals the max version present.
	max := 0
	for _, rv := range r.Revisions {
		if rv.Version > max {
			max = rv.Version
		}
	}
	if r.CurrentRevision != max {
		t.Fatalf("currentRevision %d != max version %d", r.CurrentRevision, max)
	}
}

func TestSubmitRevisionGuards(t *testing.T) {
	r := newPendingReport(t, "a")
	_, err := workflow.SubmitRevision(&r, "author-1", "t", "c", nil, nil, now)
	var ise workflow.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError from pending, got %v", err)
	}
	_ = workflow.RequestRevision(&r, "a", "redo", now)
	_, err = workflow.SubmitRevision(&r, "imposter", "t", "c", nil, nil, now)
	var ue workflow.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}

func TestUpdateDraftStates(t *testing.T) {
	r, _ := workflow.NewReport("rep-1", "title", "content", "author-1", "", "", "", []string{"a"}, nil, now)
	nt := "new title"
	if err := workflow.UpdateDraft(&r, "author-1", workflow.UpdateDraftPatch{Title: &nt}, now); err != nil {
		t.Fatalf("edit draft: %v", err)
	}
	if r.Title != "new title" {
		t.Fatalf("title not updated")
	}
	_ = workflow.Submit(&r, "author-1", now)
	err := workflow.UpdateDraft(&r, "author-1", workflow.UpdateDraftPatch{Title: &nt}, now)
	var ise workflow.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError while pending, got %v", err)
	}
}

func TestTaskCompletedAtInvariant(t *testing.T) {
	due := "2024-05-01T00:00:00Z"
	task := domain.Task{ID: "t1", Status: workflow.TaskPending, DueDate: &due}
	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !workflow.TaskOverdue(task, clock) {
		t.Fatalf("past-due pending task should be overdue")
	}
	if task.CompletedAt != nil {
		t.Fatalf("overdue derivation must not mutate")
	}
	if err := workflow.SetTaskStatus(&task, workflow.TaskCompleted, now); err != nil {
		t.Fatal(err)
	}
	if task.CompletedAt == nil || *task.CompletedAt != now {
		t.Fatalf("completed_at should be set on completion")
	}
	if workflow.TaskOverdue(task, clock) {
		t.Fatalf("completed task is not overdue")
	}
	if err := workflow.SetTaskStatus(&task, workflow.TaskInProgress, now); err != nil {
		t.Fatal(err)
	}
	if task.CompletedAt != nil {
		t.Fatalf("completed_at must clear when leaving completed")
	}
	if err := workflow.SetTaskStatus(&task, "archived", now); err == nil {
		t.Fatalf("unknown status should fail")
	}
}
