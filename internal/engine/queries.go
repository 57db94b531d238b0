package engine

import (
	"context"

	"garrison/internal/domain"
)

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context, unit string) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, unit)
}

func (e Engine) Notifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, userID, unreadOnly, limit)
}

func (e Engine) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return e.Repo.MarkNotificationRead(ctx, id, userID, e.nowString())
}

// EventLog returns the newest events first, optionally filtered and paged
// with a cursor returned by a previous call.
func (e Engine) EventLog(ctx context.Context, limit int, cursor int64, unit, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if cursor > 0 {
		return e.Repo.LatestEventsFrom(ctx, limit, cursor, unit, evtType, entityKind, entityID)
	}
	return e.Repo.LatestEvents(ctx, limit, unit, evtType, entityKind, entityID)
}
