// Package memory provides an in-process Store used when no database is
// configured and as a realistic fake in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// Store keeps projects, deployments and variables in maps guarded by a mutex.
type Store struct {
	mu          sync.RWMutex
	seq         int64
	projects    map[string]domain.Project
	deployments map[string]deploymentRow
	variables   map[variableKey]domain.Variable
}

type deploymentRow struct {
	deployment domain.Deployment
	seq        int64
}

type variableKey struct {
	projectID string
	key       string
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects:    make(map[string]domain.Project),
		deployments: make(map[string]deploymentRow),
		variables:   make(map[variableKey]domain.Variable),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateProject(_ context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = *project
	return nil
}

func (s *Store) GetProject(_ context.Context, projectID, ownerID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projects := make([]domain.Project, 0)
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			projects = append(projects, p)
		}
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *Store) UpdateProjectStatus(_ context.Context, projectID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	s.projects[projectID] = p
	return nil
}

// DeleteProject removes the project along with its deployments and variables.
func (s *Store) DeleteProject(_ context.Context, projectID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	for id, row := range s.deployments {
		if row.deployment.ProjectID == projectID {
			delete(s.deployments, id)
		}
	}
	for key := range s.variables {
		if key.projectID == projectID {
			delete(s.variables, key)
		}
	}
	return nil
}

func (s *Store) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[deployment.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	s.seq++
	s.deployments[deployment.ID] = deploymentRow{deployment: cloneDeployment(*deployment), seq: s.seq}
	return nil
}

func (s *Store) SealDeployment(_ context.Context, deploymentID, status, logs string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.deployments[deploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.deployment.FinishedAt != nil {
		return repository.ErrSealed
	}
	finished := finishedAt.UTC()
	row.deployment.Status = status
	row.deployment.Logs = logs
	row.deployment.FinishedAt = &finished
	s.deployments[deploymentID] = row
	return nil
}

func (s *Store) GetDeployment(_ context.Context, deploymentID, ownerID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.deployments[deploymentID]
	if !ok || row.deployment.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	d := cloneDeployment(row.deployment)
	return &d, nil
}

func (s *Store) LatestDeployment(_ context.Context, projectID string) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.collect(func(d domain.Deployment) bool { return d.ProjectID == projectID })
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	d := rows[0]
	return &d, nil
}

func (s *Store) ListSealedDeployments(_ context.Context, projectID, ownerID string) ([]domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(d domain.Deployment) bool {
		return d.ProjectID == projectID && d.OwnerID == ownerID && d.FinishedAt != nil
	}), nil
}

func (s *Store) ListStaleDeployments(_ context.Context, createdBefore time.Time) ([]domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.collect(func(d domain.Deployment) bool {
		return d.FinishedAt == nil && d.CreatedAt.Before(createdBefore)
	})
	// oldest first
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// collect returns matching deployments newest first. Ties on created_at are
// broken by insertion order. Callers hold the lock.
func (s *Store) collect(match func(domain.Deployment) bool) []domain.Deployment {
	rows := make([]deploymentRow, 0)
	for _, row := range s.deployments {
		if match(row.deployment) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.deployment.CreatedAt.Equal(b.deployment.CreatedAt) {
			return a.deployment.CreatedAt.After(b.deployment.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneDeployment(row.deployment))
	}
	return out
}

func (s *Store) UpsertVariable(_ context.Context, variable *domain.Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[variable.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	key := variableKey{projectID: variable.ProjectID, key: variable.Key}
	if existing, ok := s.variables[key]; ok {
		variable.ID = existing.ID
		variable.CreatedAt = existing.CreatedAt
	}
	stored := *variable
	stored.Value = append([]byte(nil), variable.Value...)
	s.variables[key] = stored
	return nil
}

func (s *Store) ListVariables(_ context.Context, projectID, ownerID string) ([]domain.Variable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vars := make([]domain.Variable, 0)
	for key, v := range s.variables {
		if key.projectID == projectID && v.OwnerID == ownerID {
			vars = append(vars, v)
		}
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Key < vars[j].Key })
	return vars, nil
}

func (s *Store) DeleteVariable(_ context.Context, projectID, ownerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := variableKey{projectID: projectID, key: key}
	v, ok := s.variables[k]
	if !ok || v.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.variables, k)
	return nil
}

func cloneDeployment(d domain.Deployment) domain.Deployment {
	if d.FinishedAt != nil {
		finished := *d.FinishedAt
		d.FinishedAt = &finished
	}
	return d
}
