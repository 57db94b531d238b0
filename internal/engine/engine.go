// Package engine applies report and task workflow operations against the
// database. Every mutation runs in one transaction with its journal event;
// notifications go out after commit, never before.
package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"garrison/internal/config"
	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/notify"
	"garrison/internal/rank"
	"garrison/internal/repo"
	"garrison/internal/workflow"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Notifier: notify.Nop{},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) notifier() notify.Notifier {
	if e.Notifier == nil {
		return notify.Nop{}
	}
	return e.Notifier
}

// InitUnit creates the unit row and seeds its config and roster.
func (e Engine) InitUnit(ctx context.Context, unitID, name, description, actorID string) (domain.Unit, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unit{}, err
	}
	defer tx.Rollback()

	now := e.nowString()
	u := domain.Unit{
		ID:          unitID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}
	if u.Name == "" {
		u.Name = unitID
	}
	if err := e.Repo.InsertUnit(ctx, tx, u); err != nil {
		return domain.Unit{}, err
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default(unitID)
	}
	if err := e.Repo.UpsertUnitConfigTx(ctx, tx, unitID, cfg); err != nil {
		return domain.Unit{}, err
	}
	for _, entry := range cfg.Roster {
		if err := e.Repo.EnsureUser(ctx, tx, domain.User{
			ID:        entry.ID,
			Name:      entry.Name,
			Role:      entry.Role,
			Unit:      unitID,
			CreatedAt: now,
		}); err != nil {
			return domain.Unit{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "unit.init", unitID, "unit", unitID, actorID, events.EventPayload{"name": u.Name}); err != nil {
		return domain.Unit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unit{}, err
	}
	return u, nil
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	ID      string
	Name    string
	Role    string
	Unit    string
	ActorID string
}

func (e Engine) RegisterUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Name == "" {
		return domain.User{}, workflow.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if opts.Role == "" {
		opts.Role = rank.Soldier
	}
	if !rank.Valid(opts.Role) {
		return domain.User{}, workflow.ValidationError{Field: "role", Reason: "unknown role " + opts.Role}
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	u := domain.User{
		ID:        opts.ID,
		Name:      opts.Name,
		Role:      opts.Role,
		Unit:      opts.Unit,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.registered", u.Unit, "user", u.ID, opts.ActorID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) actingUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}
