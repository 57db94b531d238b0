package repo

import (
	"context"
	"database/sql"
	"strings"

	"garrison/internal/domain"
)

const reportColumns = `id,title,content,author_id,status,type,unit,priority,current_approver,current_revision,attachments_json,created_at,updated_at`

func scanReportRow(scan func(dest ...any) error) (domain.Report, error) {
	var rep domain.Report
	var currentApprover, attachments sql.NullString
	err := scan(&rep.ID, &rep.Title, &rep.Content, &rep.AuthorID, &rep.Status, &rep.Type, &rep.Unit,
		&rep.Priority, &currentApprover, &rep.CurrentRevision, &attachments, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if currentApprover.Valid {
		rep.CurrentApprover = &currentApprover.String
	}
	if attachments.Valid {
		rep.AttachmentsJSON = &attachments.String
	}
	return rep, nil
}

// InsertReport writes the report row, its ordered approver list and any
// already-present revision snapshots in one transaction.
func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Title, rep.Content, rep.AuthorID, rep.Status, rep.Type, rep.Unit, rep.Priority,
		nullableStringPtr(rep.CurrentApprover), rep.CurrentRevision, nullableStringPtr(rep.AttachmentsJSON),
		rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return err
	}
	for i, approver := range rep.Approvers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO reports_approvers(report_id,position,approver_id) VALUES (?,?,?)`,
			rep.ID, i, approver); err != nil {
			return err
		}
	}
	for _, rev := range rep.Revisions {
		if err := r.InsertRevision(ctx, tx, rev); err != nil {
			return err
		}
	}
	return nil
}

// UpdateReportRow updates the mutable scalar columns. Approver, approval,
// comment and revision rows are managed through their own insert methods.
func (r Repo) UpdateReportRow(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `UPDATE reports SET title=?, content=?, status=?, type=?, unit=?, priority=?, current_approver=?, current_revision=?, attachments_json=?, updated_at=? WHERE id=?`,
		rep.Title, rep.Content, rep.Status, rep.Type, rep.Unit, rep.Priority,
		nullableStringPtr(rep.CurrentApprover), rep.CurrentRevision, nullableStringPtr(rep.AttachmentsJSON),
		rep.UpdatedAt, rep.ID)
	return err
}

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, a domain.ReportApproval) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports_approvals(id,report_id,approver_id,status,comment,revision,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ReportID, a.ApproverID, a.Status, nullableStringPtr(a.Comment), a.Revision, a.CreatedAt)
	return err
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.ReportComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports_comments(id,report_id,author_id,content,is_revision,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.ReportID, c.AuthorID, c.Content, boolInt(c.IsRevision), c.CreatedAt)
	return err
}

func (r Repo) InsertRevision(ctx context.Context, tx *sql.Tx, rev domain.ReportRevision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports_revisions(id,report_id,version,title,content,attachments_json,author_id,comment,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		rev.ID, rev.ReportID, rev.Version, rev.Title, rev.Content, nullableStringPtr(rev.AttachmentsJSON),
		rev.AuthorID, nullableStringPtr(rev.Comment), rev.CreatedAt)
	return err
}

// GetReport loads the report with approvers, approvals, comments and revisions.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	rep, err := scanReportRow(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id).Scan)
	if err != nil {
		return rep, err
	}
	return r.loadReportChildren(ctx, queryerFor(r.DB), rep)
}

// GetReportTx is GetReport inside a transaction, used by the engine so a
// decision reads and writes the same snapshot.
func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	rep, err := scanReportRow(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id).Scan)
	if err != nil {
		return rep, err
	}
	return r.loadReportChildren(ctx, queryerFor(tx), rep)
}

type queryer func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func queryerFor(q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}) queryer {
	return q.QueryContext
}

func (r Repo) loadReportChildren(ctx context.Context, query queryer, rep domain.Report) (domain.Report, error) {
	rows, err := query(ctx, `SELECT approver_id FROM reports_approvers WHERE report_id=? ORDER BY position ASC`, rep.ID)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			rows.Close()
			return rep, err
		}
		rep.Approvers = append(rep.Approvers, a)
	}
	rows.Close()

	rows, err = query(ctx, `SELECT id,report_id,approver_id,status,comment,revision,created_at FROM reports_approvals WHERE report_id=? ORDER BY created_at ASC, id ASC`, rep.ID)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var a domain.ReportApproval
		var comment sql.NullString
		if err := rows.Scan(&a.ID, &a.ReportID, &a.ApproverID, &a.Status, &comment, &a.Revision, &a.CreatedAt); err != nil {
			rows.Close()
			return rep, err
		}
		if comment.Valid {
			a.Comment = &comment.String
		}
		rep.Approvals = append(rep.Approvals, a)
	}
	rows.Close()

	rows, err = query(ctx, `SELECT id,report_id,author_id,content,is_revision,created_at FROM reports_comments WHERE report_id=? ORDER BY created_at ASC, id ASC`, rep.ID)
	if err != nil {
		return rep, err
	}
	for rows.Next() {
		var c domain.ReportComment
		var isRevision int
		if err := rows.Scan(&c.ID, &c.ReportID, &c.AuthorID, &c.Content, &isRevision, &c.CreatedAt); err != nil {
			rows.Close()
			return rep, err
		}
		c.IsRevision = isRevision != 0
		rep.Comments = append(rep.Comments, c)
	}
	rows.Close()

	rows, err = query(ctx, `SELECT id,report_id,version,title,content,attachments_json,author_id,comment,created_at FROM reports_revisions WHERE report_id=? ORDER BY version ASC`, rep.ID)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	for rows.Next() {
		var rev domain.ReportRevision
		var attachments, comment sql.NullString
		if err := rows.Scan(&rev.ID, &rev.ReportID, &rev.Version, &rev.Title, &rev.Content, &attachments, &rev.AuthorID, &comment, &rev.CreatedAt); err != nil {
			return rep, err
		}
		if attachments.Valid {
			rev.AttachmentsJSON = &attachments.String
		}
		if comment.Valid {
			rev.Comment = &comment.String
		}
		rep.Revisions = append(rep.Revisions, rev)
	}
	return rep, rows.Err()
}

type ReportFilters struct {
	Unit            string
	AuthorID        string
	Status          string
	CurrentApprover string
	Limit           int
}

// ListReports returns reports matching the filters, hydrated with their
// approver, approval, comment and revision rows. Clients replay workflow
// transitions against fetched snapshots, so a listed report must carry the
// same children GetReport loads.
func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.Unit != "" {
		clauses = append(clauses, "unit=?")
		args = append(args, f.Unit)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CurrentApprover != "" {
		clauses = append(clauses, "current_approver=?")
		args = append(args, f.CurrentApprover)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reportColumns + ` FROM reports ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReportRow(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, rep)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		rep, err := r.loadReportChildren(ctx, queryerFor(r.DB), res[i])
		if err != nil {
			return nil, err
		}
		res[i] = rep
	}
	return res, nil
}

func (r Repo) DeleteReport(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
