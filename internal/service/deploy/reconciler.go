package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

const (
	defaultReconcileInterval = time.Minute
	reconcileTimeout         = 15 * time.Second

	// InterruptedMessage is appended to deployments sealed by the reconciler.
	InterruptedMessage = "❌ Deployment interrupted before completion"
)

// Reconciler seals deployments left building by a previous process. It never
// resumes work; orphaned runs are marked failed.
type Reconciler struct {
	coordinator *Coordinator
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	logger      *slog.Logger

	interval   time.Duration
	staleAfter time.Duration

	now func() time.Time
}

// NewReconciler returns nil when staleAfter is not positive.
func NewReconciler(coordinator *Coordinator, projects repository.ProjectRepository, deployments repository.DeploymentRepository, logger *slog.Logger, interval, staleAfter time.Duration) *Reconciler {
	if coordinator == nil || staleAfter <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		coordinator: coordinator,
		projects:    projects,
		deployments: deployments,
		logger:      logger.With("component", "reconciler"),
		interval:    interval,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// Run executes the reconciliation loop until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "stale_after", r.staleAfter)
	r.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.runIteration(ctx)
		}
	}
}

func (r *Reconciler) runIteration(parent context.Context) int {
	timeout := reconcileTimeout
	if r.interval < timeout {
		timeout = r.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	now := r.now().UTC()
	stale, err := r.deployments.ListStaleDeployments(ctx, now.Add(-r.staleAfter))
	if err != nil {
		r.logger.Warn("failed to list stale deployments", "error", err)
		return 0
	}

	sealed := 0
	for _, dep := range stale {
		if _, active := r.coordinator.Active(dep.ID); active {
			continue
		}
		if r.seal(ctx, dep, now) {
			sealed++
		}
	}
	if sealed > 0 {
		r.logger.Info("sealed orphaned deployments", "count", sealed)
	}
	return sealed
}

func (r *Reconciler) seal(ctx context.Context, dep domain.Deployment, now time.Time) bool {
	lines := append(dep.Lines(), formatLine(now, InterruptedMessage))
	err := r.deployments.SealDeployment(ctx, dep.ID, domain.DeploymentFailed, domain.JoinLogs(lines), now)
	if errors.Is(err, repository.ErrSealed) || errors.Is(err, repository.ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.Warn("failed to seal orphaned deployment", "deployment_id", dep.ID, "error", err)
		return false
	}
	r.coordinator.metrics.orphanSealed()
	r.logger.Info("orphaned deployment sealed", "deployment_id", dep.ID, "project_id", dep.ProjectID)

	// The project slot is held so no start can slip between reading the
	// latest deployment and mirroring it.
	err = r.coordinator.Exclusive(dep.ProjectID, func() error {
		latest, err := r.deployments.LatestDeployment(ctx, dep.ProjectID)
		if err != nil {
			return fmt.Errorf("load latest deployment: %w", err)
		}
		if latest.ID != dep.ID {
			return nil
		}
		return r.projects.UpdateProjectStatus(ctx, dep.ProjectID, domain.MirrorStatus(latest))
	})
	switch {
	case errors.Is(err, ErrConflict):
		r.logger.Debug("project has a newer run, status left alone", "project_id", dep.ProjectID)
	case err != nil:
		r.logger.Warn("failed to mirror project status", "project_id", dep.ProjectID, "error", err)
	}
	return true
}
