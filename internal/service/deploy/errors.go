package deploy

import (
	"errors"
	"fmt"

	"github.com/yerniteja1/deploykit/internal/repository"
)

var (
	// ErrNotFound reports a missing or foreign project or deployment.
	// It also matches repository.ErrNotFound.
	ErrNotFound = fmt.Errorf("deploy: %w", repository.ErrNotFound)
	// ErrConflict reports that a project already has a run in progress.
	ErrConflict = errors.New("deploy: a deployment is already in progress for this project")
)
