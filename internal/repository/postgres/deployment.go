package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, owner_id, status, logs, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.OwnerID,
		deployment.Status,
		deployment.Logs,
		deployment.CreatedAt,
		deployment.FinishedAt,
	)
	return err
}

// SealDeployment writes the terminal state in a single conditional update.
func (r *Repository) SealDeployment(ctx context.Context, deploymentID, status, logs string, finishedAt time.Time) error {
	const query = `UPDATE deployments
		SET status = $2, logs = $3, finished_at = $4
		WHERE id = $1 AND finished_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, deploymentID, status, logs, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deployments WHERE id = $1)`, deploymentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrSealed
}

// GetDeployment fetches a deployment owned by ownerID.
func (r *Repository) GetDeployment(ctx context.Context, deploymentID, ownerID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1 AND owner_id = $2`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, deploymentID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// LatestDeployment returns the most recently started deployment of a project.
func (r *Repository) LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE project_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListSealedDeployments returns finished deployments newest first.
func (r *Repository) ListSealedDeployments(ctx context.Context, projectID, ownerID string) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 AND owner_id = $2 AND finished_at IS NOT NULL
		ORDER BY created_at DESC, id DESC`
	return r.listDeployments(ctx, query, projectID, ownerID)
}

// ListStaleDeployments finds unsealed deployments created before the cutoff.
func (r *Repository) ListStaleDeployments(ctx context.Context, createdBefore time.Time) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE finished_at IS NULL AND created_at < $1
		ORDER BY created_at ASC`
	return r.listDeployments(ctx, query, createdBefore)
}

func (r *Repository) listDeployments(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
