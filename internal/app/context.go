package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"garrison/internal/config"
	"garrison/internal/domain"
	"garrison/internal/repo"
)

// ResolveUnitAndConfig picks the active unit and ensures a unit + config exist
// in the DB, seeding defaults if missing. It prefers the override, then the
// workspace config file, then a single-unit DB. If the unit does not exist it
// is created on the fly with the roster from the seed config.
func ResolveUnitAndConfig(ctx context.Context, workspace, unitOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	seedCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	unitID := unitOverride
	if unitID == "" && seedCfg != nil {
		unitID = seedCfg.Unit.ID
	}
	if unitID == "" {
		if u, err := r.SingleUnit(ctx); err == nil {
			unitID = u.ID
		} else {
			return "", nil, fmt.Errorf("unit not specified; use --unit or add garrison.yml")
		}
	}
	if seedCfg == nil {
		seedCfg = config.Default(unitID)
	}

	if _, err := r.GetUnit(ctx, unitID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createUnit(ctx, r, unitID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetUnitConfig(ctx, unitID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertUnitConfig(ctx, unitID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed unit config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Unit.ID = unitID
	return unitID, cfg, nil
}

// createUnit inserts a minimal unit footprint plus the roster from the seed
// config.
func createUnit(ctx context.Context, r repo.Repo, unitID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(unitID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	name := seedCfg.Unit.Name
	if name == "" {
		name = unitID
	}
	if err := r.InsertUnit(ctx, tx, domain.Unit{ID: unitID, Name: name, CreatedAt: now}); err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	if err := r.UpsertUnitConfigTx(ctx, tx, unitID, seedCfg); err != nil {
		return fmt.Errorf("insert unit config: %w", err)
	}
	for _, entry := range seedCfg.Roster {
		if err := r.EnsureUser(ctx, tx, domain.User{
			ID:        entry.ID,
			Name:      entry.Name,
			Role:      entry.Role,
			Unit:      unitID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("ensure user %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}
