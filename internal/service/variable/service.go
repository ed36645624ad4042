package variable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
	"github.com/yerniteja1/deploykit/pkg/crypto"
)

var keyPattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// ErrInvalidInput marks caller mistakes. Transports map it to 400.
var ErrInvalidInput = errors.New("invalid variable input")

var (
	errMissingFields = fmt.Errorf("%w: key and value are required", ErrInvalidInput)
	errKeyFormat     = fmt.Errorf("%w: key must be uppercase letters, numbers and underscores only", ErrInvalidInput)
)

// Entry is a decrypted variable for API responses.
type Entry struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service stores project variables encrypted at rest.
type Service struct {
	projects  repository.ProjectRepository
	variables repository.VariableRepository
	box       *crypto.Box
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a variable service sealing values with box.
func New(projects repository.ProjectRepository, variables repository.VariableRepository, box *crypto.Box, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		projects:  projects,
		variables: variables,
		box:       box,
		logger:    logger.With("component", "variable"),
		now:       time.Now,
	}
}

// Upsert encrypts and stores a variable, replacing any value under the same key.
func (s *Service) Upsert(ctx context.Context, projectID, ownerID, key, value string) (*Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" || value == "" {
		return nil, errMissingFields
	}
	if !keyPattern.MatchString(key) {
		return nil, errKeyFormat
	}
	if _, err := s.projects.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal(value)
	if err != nil {
		return nil, fmt.Errorf("encrypt variable: %w", err)
	}
	now := s.now().UTC()
	v := &domain.Variable{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		OwnerID:   ownerID,
		Key:       key,
		Value:     sealed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.variables.UpsertVariable(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info("variable stored", "project_id", projectID, "key", key)
	return &Entry{ID: v.ID, Key: key, Value: value, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt}, nil
}

// List returns decrypted variables. Values that fail to decrypt are skipped.
func (s *Service) List(ctx context.Context, projectID, ownerID string) ([]Entry, error) {
	if _, err := s.projects.GetProject(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	stored, err := s.variables.ListVariables(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(stored))
	for _, item := range stored {
		value, err := s.box.Open(item.Value)
		if err != nil {
			s.logger.Warn("failed to decrypt variable", "project_id", projectID, "key", item.Key, "error", err)
			continue
		}
		entries = append(entries, Entry{
			ID:        item.ID,
			Key:       item.Key,
			Value:     value,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}
	return entries, nil
}

// Delete removes the variable stored under key.
func (s *Service) Delete(ctx context.Context, projectID, ownerID, key string) error {
	if err := s.variables.DeleteVariable(ctx, projectID, ownerID, strings.TrimSpace(key)); err != nil {
		return err
	}
	s.logger.Info("variable deleted", "project_id", projectID, "key", key)
	return nil
}
