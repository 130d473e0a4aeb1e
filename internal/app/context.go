package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/domain"
	"quoteline/internal/repo"
)

// ResolveConfig loads the workspace config file, writing the default one on
// first use so a fresh workspace works out of the box.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	path := config.Path(workspace)
	if err := os.WriteFile(path, []byte(config.GenerateDefault("quoteline")), 0o644); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return config.Load(workspace)
}

// EnsureActor makes sure the acting user exists in the directory. A brand-new
// workspace gets its first user as admin; later unknown actors are an error
// so quotations never carry orphan author ids.
func EnsureActor(ctx context.Context, r repo.Repo, actorID string) error {
	if actorID == "" {
		return errors.New("actor id required")
	}
	if _, err := r.GetUser(ctx, actorID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	existing, err := r.ListUsers(ctx, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("unknown actor %s; add the user first", actorID)
	}
	return r.UpsertUser(ctx, domain.User{
		ID:        actorID,
		Name:      actorID,
		Role:      "admin",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
