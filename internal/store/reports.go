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

// ReportStore owns the in-memory report collection. Consumers read snapshots
// and call the mutation methods; entities are never handed out by reference
// to live store state.
type ReportStore struct {
	mu       sync.Mutex
	reports  map[string]domain.Report
	unsynced map[string]bool

	remote   Remote
	policy   SyncPolicy
	notifier notify.Notifier
	now      func() time.Time

	// connWarning is set when the last fetch failed and the snapshot is
	// possibly stale; cleared by the next successful fetch.
	connWarning bool
}

func NewReportStore(remote Remote, policy SyncPolicy, notifier notify.Notifier) *ReportStore {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ReportStore{
		reports:  map[string]domain.Report{},
		unsynced: map[string]bool{},
		remote:   remote,
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *ReportStore) SetNow(now func() time.Time) { s.now = now }

func (s *ReportStore) nowString() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Fetch replaces the collection with the remote state. On failure the
// previous snapshot is retained and a connection warning is surfaced.
func (s *ReportStore) Fetch(ctx context.Context) error {
	var items []domain.Report
	err := s.policy.do(ctx, "reports.getAll", func(ctx context.Context) error {
		var err error
		items, err = s.remote.GetReports(ctx)
		return err
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.connWarning = true
		return err
	}
	fresh := map[string]domain.Report{}
	for _, rep := range items {
		if s.unsynced[rep.ID] {
			// keep the local optimistic copy when it is newer
			if local, ok := s.reports[rep.ID]; ok && local.UpdatedAt > rep.UpdatedAt {
				fresh[rep.ID] = local
				continue
			}
			delete(s.unsynced, rep.ID)
		}
		fresh[rep.ID] = rep
	}
	// unsynced local-only reports survive a fetch
	for id, rep := range s.reports {
		if s.unsynced[id] {
			if _, ok := fresh[id]; !ok {
				fresh[id] = rep
			}
		}
	}
	s.reports = fresh
	s.connWarning = false
	return nil
}

// ConnectionWarning reports whether the snapshot may be stale.
func (s *ReportStore) ConnectionWarning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connWarning
}

// Unsynced lists report IDs whose local state has not reached the backend.
func (s *ReportStore) Unsynced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.unsynced))
	for id := range s.unsynced {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddOptions are parameters for creating a report in the local store.
type AddOptions struct {
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

// Add validates and inserts a new report, then pushes it to the backend.
func (s *ReportStore) Add(ctx context.Context, opts AddOptions) (domain.Report, error) {
	now := s.nowString()
	rep, err := workflow.NewReport(uuid.NewString(), opts.Title, opts.Content, opts.AuthorID, opts.Type, opts.Unit, opts.Priority, opts.Approvers, opts.Attachments, now)
	if err != nil {
		return domain.Report{}, err
	}
	if opts.Submit {
		if err := workflow.Submit(&rep, opts.AuthorID, now); err != nil {
			return domain.Report{}, err
		}
	}
	s.mu.Lock()
	s.reports[rep.ID] = rep
	s.unsynced[rep.ID] = true
	s.mu.Unlock()

	if rep.Status == workflow.StatusPending {
		s.notifier.Notify(ctx, *rep.CurrentApprover, notify.KindReportSubmitted, map[string]any{
			"report_id": rep.ID, "title": rep.Title, "author_id": rep.AuthorID,
		})
	}
	s.push(ctx, rep.ID, "reports.create", func(ctx context.Context) (domain.Report, error) {
		return s.remote.CreateReport(ctx, rep)
	})
	return s.get(rep.ID), nil
}

// UpdatePatch carries the editable non-workflow fields.
type UpdatePatch struct {
	Title    *string
	Content  *string
	Priority *string
	Unit     *string
}

// Update shallow-merges non-workflow fields while the report is editable.
func (s *ReportStore) Update(ctx context.Context, id, actorID string, patch UpdatePatch) (domain.Report, error) {
	s.mu.Lock()
	rep, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return domain.Report{}, repo.ErrNotFound
	}
	wp := workflow.UpdateDraftPatch{Title: patch.Title, Content: patch.Content, Priority: patch.Priority, Unit: patch.Unit}
	if err := workflow.UpdateDraft(&rep, actorID, wp, s.nowString()); err != nil {
		s.mu.Unlock()
		return domain.Report{}, err
	}
	s.reports[id] = rep
	s.unsynced[id] = true
	s.mu.Unlock()

	s.push(ctx, id, "reports.update", func(ctx context.Context) (domain.Report, error) {
		return s.remote.UpdateReport(ctx, rep)
	})
	return s.get(id), nil
}

// Approve applies the caller's approval and notifies per the outcome.
func (s *ReportStore) Approve(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return s.decide(ctx, id, approverID, workflow.DecisionApproved, comment)
}

func (s *ReportStore) Reject(ctx context.Context, id, approverID string, comment *string) (domain.Report, error) {
	return s.decide(ctx, id, approverID, workflow.DecisionRejected, comment)
}

func (s *ReportStore) RequestRevision(ctx context.Context, id, approverID, comment string) (domain.Report, error) {
	return s.decide(ctx, id, approverID, workflow.DecisionNeedsRevision, &comment)
}

func (s *ReportStore) decide(ctx context.Context, id, approverID, decision string, comment *string) (domain.Report, error) {
	s.mu.Lock()
	rep, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return domain.Report{}, repo.ErrNotFound
	}
	now := s.nowString()
	var err error
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
	}
	if err != nil {
		s.mu.Unlock()
		return domain.Report{}, err
	}
	s.reports[id] = rep
	s.unsynced[id] = true
	s.mu.Unlock()

	s.notifyDecision(ctx, rep, decision, approverID)
	s.push(ctx, id, "reports."+decision, func(ctx context.Context) (domain.Report, error) {
		switch decision {
		case workflow.DecisionApproved:
			return s.remote.ApproveReport(ctx, id, approverID, comment)
		case workflow.DecisionRejected:
			return s.remote.RejectReport(ctx, id, approverID, comment)
		default:
			c := ""
			if comment != nil {
				c = *comment
			}
			return s.remote.RequestRevision(ctx, id, approverID, c)
		}
	})
	return s.get(id), nil
}

func (s *ReportStore) notifyDecision(ctx context.Context, rep domain.Report, decision, approverID string) {
	payload := map[string]any{"report_id": rep.ID, "title": rep.Title, "approver_id": approverID}
	switch {
	case decision == workflow.DecisionApproved && rep.Status == workflow.StatusApproved:
		s.notifier.Notify(ctx, rep.AuthorID, notify.KindReportApproved, payload)
	case decision == workflow.DecisionApproved:
		s.notifier.Notify(ctx, *rep.CurrentApprover, notify.KindReportSubmitted, payload)
	case decision == workflow.DecisionRejected:
		s.notifier.Notify(ctx, rep.AuthorID, notify.KindReportRejected, payload)
	case decision == workflow.DecisionNeedsRevision:
		s.notifier.Notify(ctx, rep.AuthorID, notify.KindReportRevisionRequested, payload)
	}
}

// SubmitRevision appends a new version and restarts the chain.
func (s *ReportStore) SubmitRevision(ctx context.Context, id, authorID, title, content string, attachments, comment *string) (domain.Report, error) {
	s.mu.Lock()
	rep, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return domain.Report{}, repo.ErrNotFound
	}
	if _, err := workflow.SubmitRevision(&rep, authorID, title, content, attachments, comment, s.nowString()); err != nil {
		s.mu.Unlock()
		return domain.Report{}, err
	}
	s.reports[id] = rep
	s.unsynced[id] = true
	s.mu.Unlock()

	s.notifier.Notify(ctx, *rep.CurrentApprover, notify.KindReportResubmitted, map[string]any{
		"report_id": rep.ID, "title": rep.Title, "version": rep.CurrentRevision,
	})
	s.push(ctx, id, "reports.submitRevision", func(ctx context.Context) (domain.Report, error) {
		return s.remote.SubmitRevision(ctx, id, authorID, title, content, attachments, comment)
	})
	return s.get(id), nil
}

// AddComment appends a comment for any user who can view the report.
func (s *ReportStore) AddComment(ctx context.Context, id string, author domain.User, content string) (domain.ReportComment, error) {
	s.mu.Lock()
	rep, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return domain.ReportComment{}, repo.ErrNotFound
	}
	if !rank.CanViewReport(author, rep) {
		s.mu.Unlock()
		return domain.ReportComment{}, workflow.UnauthorizedError{UserID: author.ID, Action: "comment on report " + id}
	}
	c, err := workflow.AddComment(&rep, author.ID, content, s.nowString())
	if err != nil {
		s.mu.Unlock()
		return domain.ReportComment{}, err
	}
	s.reports[id] = rep
	s.unsynced[id] = true
	s.mu.Unlock()

	s.push(ctx, id, "reports.addComment", func(ctx context.Context) (domain.Report, error) {
		_, err := s.remote.AddComment(ctx, id, author.ID, content)
		return s.get(id), err
	})
	return c, nil
}

// push sends the mutation to the backend. On success the server copy wins
// when it is at least as new; on failure the report stays marked unsynced.
func (s *ReportStore) push(ctx context.Context, id, op string, fn func(ctx context.Context) (domain.Report, error)) {
	var remoteCopy domain.Report
	err := s.policy.do(ctx, op, func(ctx context.Context) error {
		var err error
		remoteCopy, err = fn(ctx)
		return err
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.WithError(err).WithField("report_id", id).Warn("store: report unsynced")
		return
	}
	local, ok := s.reports[id]
	if !ok || remoteCopy.UpdatedAt >= local.UpdatedAt {
		s.reports[id] = remoteCopy
	}
	delete(s.unsynced, id)
}

func (s *ReportStore) get(id string) domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[id]
}

// Get returns a snapshot of one report.
func (s *ReportStore) Get(id string) (domain.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	return rep, ok
}

// ForApproval derives the subset waiting on userID, without mutating state.
func (s *ReportStore) ForApproval(userID string) []domain.Report {
	return s.filter(func(r domain.Report) bool {
		return r.CurrentApprover != nil && *r.CurrentApprover == userID
	})
}

func (s *ReportStore) UnitReports(unit string) []domain.Report {
	return s.filter(func(r domain.Report) bool { return r.Unit == unit })
}

func (s *ReportStore) UserReports(userID string) []domain.Report {
	return s.filter(func(r domain.Report) bool { return r.AuthorID == userID })
}

func (s *ReportStore) filter(keep func(domain.Report) bool) []domain.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Report{}
	for _, rep := range s.reports {
		if keep(rep) {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}
