package repo

import (
	"context"
	"database/sql"

	"garrison/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,kind,payload_json,created_at) VALUES (?,?,?,?,?)`,
		n.ID, n.UserID, n.Kind, nullable(n.PayloadJSON), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,kind,payload_json,read_at,created_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var payload, readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &payload, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			n.PayloadJSON = payload.String
		}
		if readAt.Valid {
			n.ReadAt = &readAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, userID, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE id=? AND user_id=? AND read_at IS NULL`, now, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
