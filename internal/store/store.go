// Package store holds the client-side report and task collections. Mutations
// are applied locally through the workflow rules first, then pushed to the
// remote procedure layer; a failed push leaves local state authoritative and
// marked unsynced until the next successful sync.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"garrison/internal/config"
	"garrison/internal/domain"
)

// Remote is the backend procedure surface the stores sync against.
type Remote interface {
	GetReports(ctx context.Context) ([]domain.Report, error)
	CreateReport(ctx context.Context, rep domain.Report) (domain.Report, error)
	UpdateReport(ctx context.Context, rep domain.Report) (domain.Report, error)
	ApproveReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error)
	RejectReport(ctx context.Context, id, approverID string, comment *string) (domain.Report, error)
	RequestRevision(ctx context.Context, id, approverID, comment string) (domain.Report, error)
	SubmitRevision(ctx context.Context, id, authorID, title, content string, attachments, comment *string) (domain.Report, error)
	AddComment(ctx context.Context, id, authorID, content string) (domain.ReportComment, error)
	GetReportsForApproval(ctx context.Context, userID string) ([]domain.Report, error)

	GetTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// ConnectionError wraps a remote failure after retries are exhausted.
type ConnectionError struct {
	Op  string
	Err error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e ConnectionError) Unwrap() error { return e.Err }

// SyncPolicy bounds remote calls: per-attempt timeout, retry count and
// exponential backoff. Offline, when set, suppresses retries entirely.
type SyncPolicy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Offline func() bool
	Sleep   func(time.Duration)
}

// PolicyFromConfig builds a SyncPolicy from the workspace sync settings.
func PolicyFromConfig(sc config.SyncConfig) SyncPolicy {
	return SyncPolicy{
		Timeout: time.Duration(sc.Timeout()) * time.Second,
		Backoff: time.Duration(sc.Backoff()) * time.Millisecond,
		Retries: sc.Retries(),
	}
}

func (p SyncPolicy) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 10 * time.Second
	}
	return p.Timeout
}

func (p SyncPolicy) retries() int {
	if p.Retries <= 0 {
		return 3
	}
	return p.Retries
}

func (p SyncPolicy) backoff() time.Duration {
	if p.Backoff <= 0 {
		return 250 * time.Millisecond
	}
	return p.Backoff
}

func (p SyncPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (p SyncPolicy) offline() bool {
	return p.Offline != nil && p.Offline()
}

// do runs fn under the policy. Each attempt gets its own timeout; backoff
// doubles between attempts.
func (p SyncPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.retries()
	if p.offline() {
		attempts = 1
	}
	delay := p.backoff()
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			p.sleep(delay)
			delay *= 2
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout())
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		log.WithError(err).WithField("op", op).Warn("store: remote call failed")
	}
	return ConnectionError{Op: op, Err: err}
}
