package app

import (
	"context"
	"errors"
	"fmt"

	"fieldplan/internal/config"
	"fieldplan/internal/engine"
	"fieldplan/internal/repo"
)

// ResolveProjectAndConfig picks the active project: the override when set,
// otherwise the only project in the workspace. A named project that does
// not exist yet is created with the default config.
func ResolveProjectAndConfig(ctx context.Context, e engine.Engine, projectOverride, actorID string) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := e.Repo.SingleProject(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("project not specified; use --project or fp project create")
		}
		if err != nil {
			return "", nil, err
		}
		projectID = p.ID
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := e.InitProject(ctx, projectID, "", "", actorID); err != nil {
			return "", nil, fmt.Errorf("create project: %w", err)
		}
	}
	cfg, err := e.ProjectConfig(ctx, projectID)
	if err != nil {
		return "", nil, err
	}
	return projectID, cfg, nil
}
