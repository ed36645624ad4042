package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	OwnerID      string
	Name         string
	RepoName     string
	RepoFullName string
	RepoURL      string
	Branch       string
}

// Guard serialises destructive project changes against running deployments.
type Guard interface {
	Exclusive(projectID string, fn func() error) error
}

// ErrInvalidInput marks caller mistakes. Transports map it to 400.
var ErrInvalidInput = errors.New("invalid project input")

var (
	errMissingFields    = fmt.Errorf("%w: name and repo_full_name are required", ErrInvalidInput)
	errMissingOwner     = fmt.Errorf("%w: owner id required", ErrInvalidInput)
	errMissingProjectID = fmt.Errorf("%w: project id required", ErrInvalidInput)
	errRepoURL          = fmt.Errorf("%w: repo_url must be an http(s), ssh or git@host:path URL", ErrInvalidInput)
)

var scpLikeURL = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*@[A-Za-z0-9.-]+:[^-/][^\s]*$`)

// validRepoURL accepts http(s) and ssh clone URLs plus the scp-like
// git@host:owner/repo form.
func validRepoURL(raw string) bool {
	if scpLikeURL.MatchString(raw) {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh":
		return true
	default:
		return false
	}
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	guard    Guard
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, guard Guard, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{projects: projects, guard: guard, logger: logger.With("component", "project")}
}

// Create registers a new idle project for the owner.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return nil, errMissingOwner
	}
	name := strings.TrimSpace(input.Name)
	fullName := strings.Trim(strings.TrimSpace(input.RepoFullName), "/")
	if name == "" || fullName == "" {
		return nil, errMissingFields
	}
	repoName := strings.TrimSpace(input.RepoName)
	if repoName == "" {
		repoName = fullName[strings.LastIndex(fullName, "/")+1:]
	}
	repoURL := strings.TrimSpace(input.RepoURL)
	if repoURL != "" && !validRepoURL(repoURL) {
		return nil, errRepoURL
	}
	branch := strings.TrimSpace(input.Branch)
	if branch == "" {
		branch = domain.DefaultBranch
	}
	project := &domain.Project{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		RepoName:     repoName,
		RepoFullName: fullName,
		RepoURL:      repoURL,
		Branch:       branch,
		Status:       domain.ProjectIdle,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return project, nil
}

// ListByOwner returns the owner's projects, newest first.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, errMissingOwner
	}
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// Get returns project details when owned by ownerID.
func (s Service) Get(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProject(ctx, projectID, ownerID)
}

// Delete removes a project together with its deployments and variables.
// It fails with the guard's conflict error while a deployment is running.
func (s Service) Delete(ctx context.Context, projectID, ownerID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return errMissingProjectID
	}
	if _, err := s.projects.GetProject(ctx, projectID, ownerID); err != nil {
		return err
	}
	remove := func() error {
		return s.projects.DeleteProject(ctx, projectID, ownerID)
	}
	var err error
	if s.guard != nil {
		err = s.guard.Exclusive(projectID, remove)
	} else {
		err = remove()
	}
	if err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", projectID, "owner_id", ownerID)
	return nil
}

