package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"garrison/internal/config"
	"garrison/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertUnit(ctx context.Context, tx *sql.Tx, u domain.Unit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO units(id,name,description,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, nullable(u.Description), u.CreatedAt)
	return err
}

func (r Repo) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	var u domain.Unit
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM units WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &desc, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if desc.Valid {
		u.Description = desc.String
	}
	return u, err
}

func (r Repo) SingleUnit(ctx context.Context) (domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM units`)
	if err != nil {
		return domain.Unit{}, err
	}
	defer rows.Close()
	var units []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt); err != nil {
			return domain.Unit{}, err
		}
		units = append(units, u)
	}
	if len(units) == 0 {
		return domain.Unit{}, ErrNotFound
	}
	if len(units) > 1 {
		return domain.Unit{}, fmt.Errorf("multiple units exist; specify --unit")
	}
	return units[0], nil
}

func (r Repo) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM units ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Description, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

func (r Repo) UpsertUnitConfig(ctx context.Context, unitID string, cfg *config.Config) error {
	return upsertUnitConfig(ctx, r.DB, nil, unitID, cfg)
}

func (r Repo) UpsertUnitConfigTx(ctx context.Context, tx *sql.Tx, unitID string, cfg *config.Config) error {
	return upsertUnitConfig(ctx, nil, tx, unitID, cfg)
}

func upsertUnitConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, unitID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Unit.ID = unitID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO unit_configs(unit_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(unit_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, unitID, string(payload), now, now)
	return err
}

func (r Repo) GetUnitConfig(ctx context.Context, unitID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM unit_configs WHERE unit_id=?`, unitID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Unit.ID == "" {
		cfg.Unit.ID = unitID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO users(id,name,role,unit,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Role, u.Unit, u.CreatedAt)
	return err
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,name,role,unit,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Role, u.Unit, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,unit,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Role, &u.Unit, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, unit string) ([]domain.User, error) {
	query := `SELECT id,name,role,unit,created_at FROM users`
	var args []any
	if unit != "" {
		query += ` WHERE unit=?`
		args = append(args, unit)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Unit, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, unit, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, unit, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, unit, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if unit != "" {
		clauses = append(clauses, "unit=?")
		args = append(args, unit)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,unit,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, joinAnd(clauses))
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, unit string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if unit != "" {
		clauses = append(clauses, "unit=?")
		args = append(args, unit)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,unit,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, joinAnd(clauses))
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a unit.
func (r Repo) LatestEventID(ctx context.Context, unit string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE unit=?`, unit)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var unit, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &unit, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if unit.Valid {
			e.Unit = unit.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
