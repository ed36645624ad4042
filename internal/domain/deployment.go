package domain

import (
	"strings"
	"time"
)

// Deployment status values. building is the only non-terminal state.
const (
	DeploymentBuilding = "building"
	DeploymentDeployed = "deployed"
	DeploymentFailed   = "failed"
)

// Deployment captures a single deployment attempt and its accumulated logs.
type Deployment struct {
	ID         string
	ProjectID  string
	OwnerID    string
	Status     string
	Logs       string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Sealed reports whether the terminal write has happened.
func (d *Deployment) Sealed() bool {
	return d != nil && d.FinishedAt != nil
}

// Lines returns the persisted log lines in order.
func (d *Deployment) Lines() []string {
	if d == nil {
		return []string{}
	}
	return SplitLogs(d.Logs)
}

// IsTerminalStatus reports whether status ends a deployment.
func IsTerminalStatus(status string) bool {
	return status == DeploymentDeployed || status == DeploymentFailed
}

// JoinLogs joins lines with a newline separator and no trailing newline.
func JoinLogs(lines []string) string {
	return strings.Join(lines, "\n")
}

// SplitLogs is the inverse of JoinLogs. Empty logs yield zero lines.
func SplitLogs(logs string) []string {
	if logs == "" {
		return []string{}
	}
	return strings.Split(logs, "\n")
}
