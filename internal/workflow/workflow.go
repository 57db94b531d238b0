// Package workflow implements the report approval state machine as pure
// mutations over domain.Report. Both the server engine and the client store
// apply transitions through this package; no other code sets Report.Status.
package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"garrison/internal/domain"
)

// Report statuses.
const (
	StatusDraft         = "draft"
	StatusPending       = "pending"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusNeedsRevision = "needs_revision"
)

// Decision outcomes recorded in the approvals log.
const (
	DecisionApproved      = "approved"
	DecisionRejected      = "rejected"
	DecisionNeedsRevision = "needs_revision"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

// Priorities, shared by reports and tasks.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// NewReport validates input and returns a report in draft, with the first
// revision snapshot already recorded.
func NewReport(id, title, content, authorID, reportType, unit, priority string, approvers []string, attachments *string, now string) (domain.Report, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Report{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return domain.Report{}, ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if authorID == "" {
		return domain.Report{}, ValidationError{Field: "author_id", Reason: "must not be empty"}
	}
	if reportType == "" {
		reportType = "text"
	}
	if priority == "" {
		priority = PriorityMedium
	}
	r := domain.Report{
		ID:              id,
		Title:           title,
		Content:         content,
		AuthorID:        authorID,
		Status:          StatusDraft,
		Type:            reportType,
		Unit:            unit,
		Priority:        priority,
		Approvers:       approvers,
		CurrentRevision: 1,
		AttachmentsJSON: attachments,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.Revisions = append(r.Revisions, domain.ReportRevision{
		ID:              uuid.New().String(),
		ReportID:        id,
		Version:         1,
		Title:           title,
		Content:         content,
		AttachmentsJSON: attachments,
		AuthorID:        authorID,
		CreatedAt:       now,
	})
	return r, nil
}

// Submit moves a draft into the approval chain.
func Submit(r *domain.Report, actorID, now string) error {
	if actorID != r.AuthorID {
		return UnauthorizedError{UserID: actorID, Action: "submit report " + r.ID}
	}
	if r.Status != StatusDraft {
		return InvalidStateError{Status: r.Status, Action: "submit"}
	}
	if len(r.Approvers) == 0 {
		return InvalidWorkflowError{Reason: "report has no approvers"}
	}
	r.Status = StatusPending
	first := r.Approvers[0]
	r.CurrentApprover = &first
	r.UpdatedAt = now
	return nil
}

// UpdateDraftPatch carries the non-workflow fields an author may edit.
type UpdateDraftPatch struct {
	Title    *string
	Content  *string
	Priority *string
	Unit     *string
}

// UpdateDraft shallow-merges non-workflow fields. Only draft and
// needs_revision reports are editable.
func UpdateDraft(r *domain.Report, actorID string, patch UpdateDraftPatch, now string) error {
	if actorID != r.AuthorID {
		return UnauthorizedError{UserID: actorID, Action: "edit report " + r.ID}
	}
	if r.Status != StatusDraft && r.Status != StatusNeedsRevision {
		return InvalidStateError{Status: r.Status, Action: "edit"}
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return ValidationError{Field: "title", Reason: "must not be empty"}
		}
		r.Title = *patch.Title
	}
	if patch.Content != nil {
		if strings.TrimSpace(*patch.Content) == "" {
			return ValidationError{Field: "content", Reason: "must not be empty"}
		}
		r.Content = *patch.Content
	}
	if patch.Priority != nil {
		r.Priority = *patch.Priority
	}
	if patch.Unit != nil {
		r.Unit = *patch.Unit
	}
	r.UpdatedAt = now
	return nil
}

// checkTurn decides whether approverID may act on a pending report.
// An approver whose decision for the current revision is already on record
// gets StaleState rather than a silent double-apply; anyone else out of turn
// gets Unauthorized.
func checkTurn(r *domain.Report, approverID string) error {
	if r.Status != StatusPending {
		return InvalidStateError{Status: r.Status, Action: "decide"}
	}
	assigned := false
	for _, a := range r.Approvers {
		if a == approverID {
			assigned = true
			break
		}
	}
	if !assigned {
		return UnauthorizedError{UserID: approverID, Action: "approve report " + r.ID}
	}
	if r.CurrentApprover != nil && *r.CurrentApprover == approverID {
		return nil
	}
	for _, ap := range r.Approvals {
		if ap.ApproverID == approverID && ap.Revision == r.CurrentRevision {
			return StaleStateError{UserID: approverID, Reason: "decision already recorded for revision"}
		}
	}
	return UnauthorizedError{UserID: approverID, Action: "approve report " + r.ID + " out of turn"}
}

func appendApproval(r *domain.Report, approverID, status string, comment *string, now string) {
	r.Approvals = append(r.Approvals, domain.ReportApproval{
		ID:         uuid.New().String(),
		ReportID:   r.ID,
		ApproverID: approverID,
		Status:     status,
		Comment:    comment,
		Revision:   r.CurrentRevision,
		CreatedAt:  now,
	})
}

// Approve records an approval. The chain advances to the next approver, or
// the report becomes approved on the final sign-off.
func Approve(r *domain.Report, approverID string, comment *string, now string) error {
	if err := checkTurn(r, approverID); err != nil {
		return err
	}
	appendApproval(r, approverID, DecisionApproved, comment, now)
	last := r.Approvers[len(r.Approvers)-1]
	if approverID == last {
		r.Status = StatusApproved
		r.CurrentApprover = nil
	} else {
		for i, a := range r.Approvers {
			if a == approverID && i+1 < len(r.Approvers) {
				next := r.Approvers[i+1]
				r.CurrentApprover = &next
				break
			}
		}
	}
	r.UpdatedAt = now
	return nil
}

// Reject records a rejection and terminates the chain.
func Reject(r *domain.Report, approverID string, comment *string, now string) error {
	if err := checkTurn(r, approverID); err != nil {
		return err
	}
	appendApproval(r, approverID, DecisionRejected, comment, now)
	r.Status = StatusRejected
	r.CurrentApprover = nil
	r.UpdatedAt = now
	return nil
}

// RequestRevision sends the report back to its author. The comment is
// mandatory and is appended to the comment log with is_revision set.
func RequestRevision(r *domain.Report, approverID, comment, now string) error {
	if strings.TrimSpace(comment) == "" {
		return ValidationError{Field: "comment", Reason: "revision request requires a comment"}
	}
	if err := checkTurn(r, approverID); err != nil {
		return err
	}
	appendApproval(r, approverID, DecisionNeedsRevision, &comment, now)
	r.Comments = append(r.Comments, domain.ReportComment{
		ID:         uuid.New().String(),
		ReportID:   r.ID,
		AuthorID:   approverID,
		Content:    comment,
		IsRevision: true,
		CreatedAt:  now,
	})
	r.Status = StatusNeedsRevision
	r.CurrentApprover = nil
	r.UpdatedAt = now
	return nil
}

// SubmitRevision appends a new immutable revision snapshot, bumps the version
// pointer and restarts the approval chain from the first approver.
func SubmitRevision(r *domain.Report, authorID, title, content string, attachments, comment *string, now string) (domain.ReportRevision, error) {
	if authorID != r.AuthorID {
		return domain.ReportRevision{}, UnauthorizedError{UserID: authorID, Action: "revise report " + r.ID}
	}
	if r.Status != StatusNeedsRevision {
		return domain.ReportRevision{}, InvalidStateError{Status: r.Status, Action: "submit revision"}
	}
	if strings.TrimSpace(title) == "" {
		return domain.ReportRevision{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return domain.ReportRevision{}, ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if len(r.Approvers) == 0 {
		return domain.ReportRevision{}, InvalidWorkflowError{Reason: "report has no approvers"}
	}
	rev := domain.ReportRevision{
		ID:              uuid.New().String(),
		ReportID:        r.ID,
		Version:         r.CurrentRevision + 1,
		Title:           title,
		Content:         content,
		AttachmentsJSON: attachments,
		AuthorID:        authorID,
		Comment:         comment,
		CreatedAt:       now,
	}
	r.Revisions = append(r.Revisions, rev)
	r.CurrentRevision = rev.Version
	r.Title = title
	r.Content = content
	r.AttachmentsJSON = attachments
	r.Status = StatusPending
	first := r.Approvers[0]
	r.CurrentApprover = &first
	r.UpdatedAt = now
	return rev, nil
}

// AddComment appends a free-form comment.
func AddComment(r *domain.Report, authorID, content, now string) (domain.ReportComment, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ReportComment{}, ValidationError{Field: "content", Reason: "must not be empty"}
	}
	c := domain.ReportComment{
		ID:        uuid.New().String(),
		ReportID:  r.ID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
	}
	r.Comments = append(r.Comments, c)
	r.UpdatedAt = now
	return c, nil
}

// SetTaskStatus applies a status change and keeps the completed_at invariant:
// set iff the task is completed.
func SetTaskStatus(t *domain.Task, status, now string) error {
	switch status {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
	default:
		return ValidationError{Field: "status", Reason: "unknown task status " + status}
	}
	t.Status = status
	if status == TaskCompleted {
		done := now
		t.CompletedAt = &done
	} else {
		t.CompletedAt = nil
	}
	t.UpdatedAt = now
	return nil
}

// TaskOverdue is a pure derivation; it never mutates the task.
func TaskOverdue(t domain.Task, now time.Time) bool {
	if t.DueDate == nil {
		return false
	}
	if t.Status != TaskPending && t.Status != TaskInProgress {
		return false
	}
	due, err := time.Parse(time.RFC3339, *t.DueDate)
	if err != nil {
		return false
	}
	return due.Before(now)
}
