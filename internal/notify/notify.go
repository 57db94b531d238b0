// Package notify delivers workflow notifications. Dispatch is fire-and-forget:
// implementations log failures and never propagate them, so a delivery problem
// cannot roll back a committed state change.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"garrison/internal/domain"
	"garrison/internal/repo"
)

// Notification kinds emitted by the workflow engine.
const (
	KindTaskAssigned            = "task.assigned"
	KindTaskCompleted           = "task.completed"
	KindReportSubmitted         = "report.submitted"
	KindReportApproved          = "report.approved"
	KindReportRejected          = "report.rejected"
	KindReportRevisionRequested = "report.revision_requested"
	KindReportResubmitted       = "report.resubmitted"
)

type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

// Inbox persists notifications to the notifications table.
type Inbox struct {
	Repo repo.Repo
	Now  func() time.Time
}

func NewInbox(r repo.Repo) *Inbox {
	return &Inbox{Repo: r, Now: time.Now}
}

func (i *Inbox) Notify(ctx context.Context, userID, kind string, payload map[string]any) {
	if userID == "" {
		return
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	data := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.WithError(err).WithField("kind", kind).Error("notify: marshal payload")
			return
		}
		data = string(b)
	}
	n := domain.Notification{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        kind,
		PayloadJSON: data,
		CreatedAt:   now().UTC().Format(time.RFC3339),
	}
	if err := i.Repo.InsertNotification(ctx, n); err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "kind": kind}).Error("notify: insert")
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID, kind string, payload map[string]any) {
	for _, n := range m {
		n.Notify(ctx, userID, kind, payload)
	}
}
