package repo

import (
	"context"
	"database/sql"
	"strings"

	"garrison/internal/domain"
)

const taskColumns = `id,title,description,assigned_to,created_by,unit,due_date,status,priority,created_at,updated_at,completed_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, dueDate, completedAt sql.NullString
	err := scan(&t.ID, &t.Title, &description, &t.AssignedTo, &t.CreatedBy, &t.Unit, &dueDate,
		&t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.AssignedTo, t.CreatedBy, t.Unit,
		nullableStringPtr(t.DueDate), t.Status, t.Priority, t.CreatedAt, t.UpdatedAt,
		nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assigned_to=?, unit=?, due_date=?, status=?, priority=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.AssignedTo, t.Unit, nullableStringPtr(t.DueDate),
		t.Status, t.Priority, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTaskRow(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTaskRow(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Unit       string
	AssignedTo string
	CreatedBy  string
	Status     string
	Priority   string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Unit != "" {
		clauses = append(clauses, "unit=?")
		args = append(args, f.Unit)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, unit string) (map[string]int, error) {
	return r.countTasksBy(ctx, "status", unit)
}

func (r Repo) CountTasksByPriority(ctx context.Context, unit string) (map[string]int, error) {
	return r.countTasksBy(ctx, "priority", unit)
}

func (r Repo) countTasksBy(ctx context.Context, column, unit string) (map[string]int, error) {
	query := `SELECT ` + column + `, count(*) FROM tasks`
	var args []any
	if unit != "" {
		query += ` WHERE unit=?`
		args = append(args, unit)
	}
	query += ` GROUP BY ` + column
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		res[key] = count
	}
	return res, rows.Err()
}
