package domain

import "time"

// Project status values. A project mirrors the status of its latest deployment.
const (
	ProjectIdle     = "idle"
	ProjectBuilding = "building"
	ProjectDeployed = "deployed"
	ProjectFailed   = "failed"
)

// DefaultBranch is used when a project is created without an explicit branch.
const DefaultBranch = "main"

// Project describes a deployable unit linked to a source repository.
type Project struct {
	ID           string
	OwnerID      string
	Name         string
	RepoName     string
	RepoFullName string
	RepoURL      string
	Branch       string
	Status       string
	CreatedAt    time.Time
}

// MirrorStatus returns the project status implied by its most recently
// started deployment. A project that never deployed is idle.
func MirrorStatus(latest *Deployment) string {
	if latest == nil {
		return ProjectIdle
	}
	switch latest.Status {
	case DeploymentBuilding:
		return ProjectBuilding
	case DeploymentDeployed:
		return ProjectDeployed
	case DeploymentFailed:
		return ProjectFailed
	default:
		return ProjectIdle
	}
}
