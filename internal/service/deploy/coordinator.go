package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/executor"
	"github.com/yerniteja1/deploykit/internal/repository"
)

const (
	persistTimeout = 10 * time.Second
	archiveTimeout = 30 * time.Second
	lineTimeLayout = "2006-01-02T15:04:05.000Z"
)

// Archiver copies sealed deployment logs to long term storage.
type Archiver interface {
	Archive(ctx context.Context, deployment domain.Deployment) error
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithMetrics records coordinator activity.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithArchiver uploads logs after every successful seal.
func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archiver = a }
}

// WithExecutorTimeout bounds each run. Zero means no deadline.
func WithExecutorTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// Coordinator starts deployments, owns the registry of active runs and
// persists each run's terminal state exactly once.
type Coordinator struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	executor    executor.Executor
	archiver    Archiver
	metrics     *Metrics
	logger      *slog.Logger
	timeout     time.Duration

	now   func() time.Time
	newID func() string

	mu           sync.Mutex
	byProject    map[string]*Run
	byDeployment map[string]*Run
	wg           sync.WaitGroup
}

// New constructs a Coordinator.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, exec executor.Executor, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		projects:     projects,
		deployments:  deployments,
		executor:     exec,
		logger:       logger.With("component", "deploy"),
		now:          time.Now,
		newID:        uuid.NewString,
		byProject:    make(map[string]*Run),
		byDeployment: make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartDeployment creates a building deployment for a project owned by
// requesterID, flips the project to building and launches the executor in
// the background. The returned feed is attached before the executor starts,
// so it carries every line of the run. Callers must Close it.
func (c *Coordinator) StartDeployment(ctx context.Context, projectID, requesterID string) (*Run, *Subscription, error) {
	project, err := c.projects.GetProject(ctx, projectID, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load project: %w", err)
	}

	now := c.now().UTC()
	run := newRun(c.newID(), project.ID, requesterID, now)
	if err := c.reserve(run); err != nil {
		return nil, nil, err
	}

	deployment := &domain.Deployment{
		ID:        run.DeploymentID,
		ProjectID: project.ID,
		OwnerID:   requesterID,
		Status:    domain.DeploymentBuilding,
		CreatedAt: now,
	}
	if err := c.deployments.CreateDeployment(ctx, deployment); err != nil {
		c.release(run)
		return nil, nil, fmt.Errorf("create deployment: %w", err)
	}
	if err := c.projects.UpdateProjectStatus(ctx, project.ID, domain.MirrorStatus(deployment)); err != nil {
		c.logger.Error("failed to mark project building", "project_id", project.ID, "deployment_id", run.DeploymentID, "error", err)
		c.abandon(run, err)
		c.release(run)
		return nil, nil, fmt.Errorf("update project status: %w", err)
	}

	c.metrics.runStarted()
	c.logger.Info("deployment started", "deployment_id", run.DeploymentID, "project_id", project.ID)

	target := executor.Target{
		ProjectID:    project.ID,
		DeploymentID: run.DeploymentID,
		Name:         project.Name,
		RepoFullName: project.RepoFullName,
		RepoURL:      project.RepoURL,
		Branch:       project.Branch,
	}
	feed := run.Subscribe()
	c.wg.Add(1)
	go c.execute(run, target)
	return run, feed, nil
}

// Active returns the in-process run for a deployment, if any.
func (c *Coordinator) Active(deploymentID string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.byDeployment[deploymentID]
	return run, ok
}

// ProjectActive reports whether a project has a run in progress.
func (c *Coordinator) ProjectActive(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byProject[projectID]
	return ok
}

// Exclusive runs fn while holding the project's run slot, so no deployment
// can start for the project meanwhile. It returns ErrConflict when a run is
// already in progress.
func (c *Coordinator) Exclusive(projectID string, fn func() error) error {
	hold := newRun("", projectID, "", c.now())
	if err := c.reserve(hold); err != nil {
		return err
	}
	defer c.release(hold)
	return fn()
}

// History returns the project's sealed deployments, newest first.
func (c *Coordinator) History(ctx context.Context, projectID, requesterID string) ([]domain.Deployment, error) {
	if _, err := c.projects.GetProject(ctx, projectID, requesterID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	deployments, err := c.deployments.ListSealedDeployments(ctx, projectID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return deployments, nil
}

// Get returns one deployment owned by requesterID.
func (c *Coordinator) Get(ctx context.Context, deploymentID, requesterID string) (*domain.Deployment, error) {
	d, err := c.deployments.GetDeployment(ctx, deploymentID, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("deployment %s: %w", deploymentID, ErrNotFound)
		}
		return nil, fmt.Errorf("load deployment: %w", err)
	}
	return d, nil
}

// Wait blocks until every in-flight run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown waits for in-flight runs or until ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) reserve(run *Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.byProject[run.ProjectID]; busy {
		return ErrConflict
	}
	c.byProject[run.ProjectID] = run
	if run.DeploymentID != "" {
		c.byDeployment[run.DeploymentID] = run
	}
	return nil
}

func (c *Coordinator) release(run *Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byProject[run.ProjectID] == run {
		delete(c.byProject, run.ProjectID)
	}
	if run.DeploymentID != "" && c.byDeployment[run.DeploymentID] == run {
		delete(c.byDeployment, run.DeploymentID)
	}
}

// abandon seals a deployment whose start could not complete.
func (c *Coordinator) abandon(run *Run, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	line := formatLine(c.now(), executor.FailureMessage(cause))
	if err := c.deployments.SealDeployment(ctx, run.DeploymentID, domain.DeploymentFailed, line, c.now().UTC()); err != nil {
		c.metrics.persistenceFailure("seal")
		c.logger.Error("failed to seal abandoned deployment", "deployment_id", run.DeploymentID, "error", err)
	} else if err := c.projects.UpdateProjectStatus(ctx, run.ProjectID, domain.ProjectFailed); err != nil {
		c.metrics.persistenceFailure("project_status")
		c.logger.Error("failed to mirror abandoned deployment", "deployment_id", run.DeploymentID, "project_id", run.ProjectID, "error", err)
	}
	run.finish(domain.DeploymentFailed)
}

func (c *Coordinator) execute(run *Run, target executor.Target) {
	defer c.wg.Done()
	log := c.logger.With("deployment_id", run.DeploymentID, "project_id", run.ProjectID)

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		linesMu sync.Mutex
		lines   = make([]string, 0, 16)
		sealed  bool
	)
	emit := func(entry executor.Entry) {
		ts := entry.Time
		if ts.IsZero() {
			ts = c.now()
		}
		linesMu.Lock()
		defer linesMu.Unlock()
		if sealed {
			return
		}
		for _, msg := range splitMessage(entry.Message) {
			line := formatLine(ts, msg)
			lines = append(lines, line)
			run.publish(Event{Log: line})
		}
	}

	outcome := c.invoke(ctx, target, emit, log)
	status := domain.DeploymentFailed
	if outcome == executor.Succeeded {
		status = domain.DeploymentDeployed
	}

	linesMu.Lock()
	sealed = true
	logs := domain.JoinLogs(lines)
	linesMu.Unlock()

	finishedAt := c.now().UTC()
	persisted := c.persist(run, status, logs, finishedAt, log)

	run.finish(status)
	c.release(run)
	c.metrics.runFinished(status, finishedAt.Sub(run.StartedAt))
	log.Info("deployment finished", "status", status, "lines", len(lines), "persisted", persisted)

	if persisted && c.archiver != nil {
		actx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		err := c.archiver.Archive(actx, domain.Deployment{
			ID:         run.DeploymentID,
			ProjectID:  run.ProjectID,
			OwnerID:    run.OwnerID,
			Status:     status,
			Logs:       logs,
			CreatedAt:  run.StartedAt,
			FinishedAt: &finishedAt,
		})
		if err != nil {
			log.Warn("failed to archive deployment logs", "error", err)
		}
	}
}

// invoke runs the executor, converting a panic into a failed outcome.
func (c *Coordinator) invoke(ctx context.Context, target executor.Target, emit executor.Emitter, log *slog.Logger) (outcome executor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.executorPanic()
			log.Error("executor panicked", "panic", r)
			emit(executor.Entry{Time: c.now(), Message: executor.FailureMessage(fmt.Errorf("%v", r))})
			outcome = executor.Failed
		}
	}()
	if c.executor == nil {
		panic("no executor configured")
	}
	return c.executor.Execute(ctx, target, emit)
}

// persist seals the deployment and mirrors the project status. Failures are
// logged and counted; observers still receive the terminal event.
func (c *Coordinator) persist(run *Run, status, logs string, finishedAt time.Time, log *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.deployments.SealDeployment(ctx, run.DeploymentID, status, logs, finishedAt); err != nil {
		c.metrics.persistenceFailure("seal")
		log.Error("failed to seal deployment", "status", status, "error", err)
		return false
	}
	mirrored := domain.MirrorStatus(&domain.Deployment{Status: status})
	if err := c.projects.UpdateProjectStatus(ctx, run.ProjectID, mirrored); err != nil {
		c.metrics.persistenceFailure("project_status")
		log.Error("failed to update project status", "status", mirrored, "error", err)
	}
	return true
}

func formatLine(t time.Time, msg string) string {
	return "[" + t.UTC().Format(lineTimeLayout) + "] " + msg
}

// splitMessage breaks a message into lines so that persisted logs and live
// events stay one to one.
func splitMessage(msg string) []string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.TrimRight(msg, "\n")
	return strings.Split(msg, "\n")
}
