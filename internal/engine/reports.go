package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/notify"
	"garrison/internal/rank"
	"garrison/internal/repo"
	"garrison/internal/workflow"
)

// ReportCreateOptions are parameters for creating a report.
type ReportCreateOptions struct {
	ID          string
	Title       string
	Content     string
	AuthorID    string
	Type        string
	Unit        string
	Priority    string
	Approvers   []string
	Attachments *string
	Submit      bool
}

// CreateReport inserts a new report in draft, or straight into pending when
// Submit is set. Approvers default to the unit's configured chain.
func (e Engine) CreateReport(ctx context.Context, opts ReportCreateOptions) (domain.Report, error) {
	author, err := e.actingUser(ctx, opts.AuthorID)
	if err != nil {
		return domain.Report{}, err
	}
	if opts.Unit == "" {
		opts.Unit = author.Unit
	}
	approvers := opts.Approvers
	if len(approvers) == 0 {
		approvers, err = e.resolveChain(ctx, opts.Unit, opts.Priority, opts.AuthorID)
		if err != nil && opts.Submit {
			return domain.Report{}, err
		}
	}
	id := opts.ID
	now := e.nowString()
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Unit+"|"+opts.Title+"|"+now)).String()
	}
	rep, err := workflow.NewReport(id, opts.Title, opts.Content, opts.AuthorID, opts.Type, opts.Unit, opts.Priority, approvers, opts.Attachments, now)
	if err != nil {
		return domain.Report{}, err
	}
	if opts.Submit {
		if err := workflow.Submit(&rep, opts.AuthorID, now); err != nil {
			return domain.Report{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, "report.created", rep.Unit, "report", rep.ID, opts.AuthorID, events.EventPayload{"title": rep.Title, "status": rep.Status}); err != nil {
		return domain.Report{}, err
	}
	if rep.Status == workflow.StatusPending {
		if err := e.Events.Append(ctx, tx, "report.submitted", rep.Unit, "report", rep.ID, opts.AuthorID, events.EventPayload{"current_approver": *rep.CurrentApprover}); err != nil {
			return domain.Report{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	if rep.Status == workflow.StatusPending {
		e.notifier().Notify(ctx, *rep.CurrentApprover, notify.KindReportSubmitted, map[string]any{
			"report_id": rep.ID, "title": rep.Title, "author_id": rep.AuthorID,
		})
	}
	return rep, nil
}

// resolveChain maps the configured rank chain for a priority onto concrete
// unit members, preserving chain order.
func (e Engine) resolveChain(ctx context.Context, unit, priority, authorID string) ([]string, error) {
	if e.Config == nil {
		return nil, workflow.InvalidWorkflowError{Reason: "no config loaded"}
	}
	chain := e.Config.ChainFor(priority)
	if len(chain) == 0 {
		return nil, workflow.InvalidWorkflowError{Reason: "no approval chain configured"}
	}
	members, err := e.Repo.ListUsers(ctx, unit)
	if err != nil {
		return nil, err
	}
	var approvers []string
	seen := map[string]bool{}
	for _, role := range chain {
		found := ""
		for _, m := range members {
			if m.Role == role && m.ID != authorID && !seen[m.ID] {
				found = m.ID
				break
			}
		}
		if found == "" {
			return nil, workflow.InvalidWorkflowError{Reason: fmt.Sprintf("no %s available in unit %s", role, unit)}
		}
		seen[found] = true
		approvers = append(approvers, found)
	}
	return approvers, nil
}

// ReportUpdateOptions carries the editable non-workflow fields.
type ReportUpdateOptions struct {
	ID       string
	ActorID  string
	Title    *string
	Content  *string
	Priority *string
	Unit     *string
}

func (e Engine) UpdateReport(ctx context.Context, opts ReportUpdateOptions) (domain.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, opts.ID)
	if err != nil {
		return rep, err
	}
	patch := workflow.UpdateDraftPatch{Title: opts.Title, Content: opts.Content, Priority: opts.Priority, Unit: opts.Unit}
	if err := workflow.UpdateDraft(&rep, opts.ActorID, patch, e.nowString()); err != nil {
		return rep, err
	}
	if err := e.Repo.UpdateReportRow(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.updated", rep.Unit, "report", rep.ID, opts.ActorID, events.EventPayload{"status": rep.Status}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

// SubmitReport moves a draft into the approval chain.
func (e Engine) SubmitReport(ctx context.Context, id, actorID string) (domain.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return rep, err
	}
	if err := workflow.Submit(&rep, actorID, e.nowString()); err != nil {
		return rep, err
	}
	if err := e.Repo.UpdateReportRow(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.submitted", rep.Unit, "report", rep.ID, actorID, events.EventPayload{"current_approver": *rep.CurrentApprover}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	e.notifier().Notify(ctx, *rep.CurrentApprover, notify.KindReportSubmitted, map[string]any{
		"report_id": rep.ID, "title": rep.Title, "author_id": rep.AuthorID,
	})
	return rep, nil
}

// ApproveReport records an approval by approverID.
func (e Engine) ApproveReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return e.decide(ctx, id, approverID, workflow.DecisionApproved, comment)
}

// RejectReport records a rejection by approverID.
func (e Engine) RejectReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return e.decide(ctx, id, approverID, workflow.DecisionRejected, comment)
}

// RequestRevision sends the report back to its author with a mandatory comment.
func (e Engine) RequestRevision(ctx context.Context, id, approverID, comment string) (domain.Report, error) {
	return e.decide(ctx, id, approverID, workflow.DecisionNeedsRevision, &comment)
}

func (e Engine) decide(ctx context.Context, id, approverID, decision string, comment *string) (domain.Report, error) {
	approver, err := e.actingUser(ctx, approverID)
	if err != nil {
		return domain.Report{}, err
	}
	if !rank.CanApproveReport(approver) {
		return domain.Report{}, workflow.UnauthorizedError{UserID: approverID, Action: "approve reports"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return rep, err
	}
	now := e.nowString()
	priorComments := len(rep.Comments)
	switch decision {
	case workflow.DecisionApproved:
		err = workflow.Approve(&rep, approverID, comment, now)
	case workflow.DecisionRejected:
		err = workflow.Reject(&rep, approverID, comment, now)
	case workflow.DecisionNeedsRevision:
		c := ""
		if comment != nil {
			c = *comment
		}
		err = workflow.RequestRevision(&rep, approverID, c, now)
	default:
		err = workflow.ValidationError{Field: "decision", Reason: "unknown decision " + decision}
	}
	if err != nil {
		return rep, err
	}
	if err := e.Repo.UpdateReportRow(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Repo.InsertApproval(ctx, tx, rep.Approvals[len(rep.Approvals)-1]); err != nil {
		return rep, err
	}
	for _, c := range rep.Comments[priorComments:] {
		if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
			return rep, err
		}
	}
	evtType := "report." + decision
	if err := e.Events.Append(ctx, tx, evtType, rep.Unit, "report", rep.ID, approverID, events.EventPayload{
		"status": rep.Status, "revision": rep.CurrentRevision,
	}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	e.notifyDecision(ctx, rep, decision, approverID)
	return rep, nil
}

// notifyDecision tells the author the outcome, once per committed transition.
func (e Engine) notifyDecision(ctx context.Context, rep domain.Report, decision, approverID string) {
	kind := ""
	switch {
	case decision == workflow.DecisionApproved && rep.Status == workflow.StatusApproved:
		kind = notify.KindReportApproved
	case decision == workflow.DecisionApproved:
		// Intermediate sign-off: the next approver is now awaited.
		e.notifier().Notify(ctx, *rep.CurrentApprover, notify.KindReportSubmitted, map[string]any{
			"report_id": rep.ID, "title": rep.Title, "author_id": rep.AuthorID,
		})
		return
	case decision == workflow.DecisionRejected:
		kind = notify.KindReportRejected
	case decision == workflow.DecisionNeedsRevision:
		kind = notify.KindReportRevisionRequested
	}
	e.notifier().Notify(ctx, rep.AuthorID, kind, map[string]any{
		"report_id": rep.ID, "title": rep.Title, "approver_id": approverID,
	})
}

// SubmitRevision appends a new revision and restarts the approval chain.
func (e Engine) SubmitRevision(ctx context.Context, id, authorID, title, content string, attachments, comment *string) (domain.Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return rep, err
	}
	rev, err := workflow.SubmitRevision(&rep, authorID, title, content, attachments, comment, e.nowString())
	if err != nil {
		return rep, err
	}
	if err := e.Repo.InsertRevision(ctx, tx, rev); err != nil {
		return rep, err
	}
	if err := e.Repo.UpdateReportRow(ctx, tx, rep); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.revised", rep.Unit, "report", rep.ID, authorID, events.EventPayload{"version": rev.Version}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	e.notifier().Notify(ctx, *rep.CurrentApprover, notify.KindReportResubmitted, map[string]any{
		"report_id": rep.ID, "title": rep.Title, "version": rev.Version,
	})
	return rep, nil
}

// AddComment appends a comment for any user who can view the report.
func (e Engine) AddComment(ctx context.Context, id, authorID, content string) (domain.ReportComment, error) {
	author, err := e.actingUser(ctx, authorID)
	if err != nil {
		return domain.ReportComment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReportComment{}, err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return domain.ReportComment{}, err
	}
	if !rank.CanViewReport(author, rep) {
		return domain.ReportComment{}, workflow.UnauthorizedError{UserID: authorID, Action: "comment on report " + id}
	}
	c, err := workflow.AddComment(&rep, authorID, content, e.nowString())
	if err != nil {
		return domain.ReportComment{}, err
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.ReportComment{}, err
	}
	if err := e.Repo.UpdateReportRow(ctx, tx, rep); err != nil {
		return domain.ReportComment{}, err
	}
	if err := e.Events.Append(ctx, tx, "report.commented", rep.Unit, "report", rep.ID, authorID, events.EventPayload{}); err != nil {
		return domain.ReportComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReportComment{}, err
	}
	return c, nil
}

// DeleteReport is the only destructive report operation; author or
// battalion commander and up.
func (e Engine) DeleteReport(ctx context.Context, id, actorID string) error {
	actor, err := e.actingUser(ctx, actorID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !rank.CanDeleteReport(actor, rep.AuthorID) {
		return workflow.UnauthorizedError{UserID: actorID, Action: "delete report " + id}
	}
	if err := e.Repo.DeleteReport(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "report.deleted", rep.Unit, "report", rep.ID, actorID, events.EventPayload{"status": rep.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return e.Repo.GetReport(ctx, id)
}

// ReportsForApproval is the pending queue for one approver.
func (e Engine) ReportsForApproval(ctx context.Context, userID string) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, repo.ReportFilters{CurrentApprover: userID, Status: workflow.StatusPending})
}

func (e Engine) UnitReports(ctx context.Context, unit string) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, repo.ReportFilters{Unit: unit})
}

func (e Engine) UserReports(ctx context.Context, userID string) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, repo.ReportFilters{AuthorID: userID})
}
