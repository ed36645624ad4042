package repository

import (
	"context"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
)

// ProjectRepository persists projects. Reads are scoped to the owner.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, projectID, ownerID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID, status string) error
	DeleteProject(ctx context.Context, projectID, ownerID string) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// SealDeployment writes the terminal status, full logs and finished_at in
	// one statement. It returns ErrSealed when the deployment already finished.
	SealDeployment(ctx context.Context, deploymentID, status, logs string, finishedAt time.Time) error
	GetDeployment(ctx context.Context, deploymentID, ownerID string) (*domain.Deployment, error)
	LatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	ListSealedDeployments(ctx context.Context, projectID, ownerID string) ([]domain.Deployment, error)
	ListStaleDeployments(ctx context.Context, createdBefore time.Time) ([]domain.Deployment, error)
}

// VariableRepository stores encrypted project variables.
type VariableRepository interface {
	UpsertVariable(ctx context.Context, variable *domain.Variable) error
	ListVariables(ctx context.Context, projectID, ownerID string) ([]domain.Variable, error)
	DeleteVariable(ctx context.Context, projectID, ownerID, key string) error
}

// Store aggregates every repository the API needs.
type Store interface {
	ProjectRepository
	DeploymentRepository
	VariableRepository
	Ping(ctx context.Context) error
}
