package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, repo_name, repo_full_name, repo_url, branch, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.OwnerID,
		project.Name,
		project.RepoName,
		project.RepoFullName,
		project.RepoURL,
		project.Branch,
		project.Status,
		project.CreatedAt,
	)
	return err
}

// GetProject fetches a project owned by ownerID.
func (r *Repository) GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND owner_id = $2`
	project, err := scanProject(r.pool.QueryRow(ctx, query, projectID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

// ListProjectsByOwner returns the owner's projects, newest first.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus sets the mirrored project status.
func (r *Repository) UpdateProjectStatus(ctx context.Context, projectID, status string) error {
	const query = `UPDATE projects SET status = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project. Deployments and variables cascade.
func (r *Repository) DeleteProject(ctx context.Context, projectID, ownerID string) error {
	const query = `DELETE FROM projects WHERE id = $1 AND owner_id = $2`
	tag, err := r.pool.Exec(ctx, query, projectID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
