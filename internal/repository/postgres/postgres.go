package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.VariableRepository   = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Ping verifies connectivity for health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const deploymentColumns = `id, project_id, owner_id, status, logs, created_at, finished_at`

func scanDeployment(row rowScanner) (domain.Deployment, error) {
	var d domain.Deployment
	var finishedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.ProjectID, &d.OwnerID, &d.Status, &d.Logs, &d.CreatedAt, &finishedAt); err != nil {
		return domain.Deployment{}, err
	}
	if finishedAt.Valid {
		value := finishedAt.Time.UTC()
		d.FinishedAt = &value
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

const projectColumns = `id, owner_id, name, repo_name, repo_full_name, repo_url, branch, status, created_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoName, &p.RepoFullName, &p.RepoURL, &p.Branch, &p.Status, &p.CreatedAt); err != nil {
		return domain.Project{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
