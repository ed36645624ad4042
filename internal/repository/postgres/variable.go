package postgres

import (
	"context"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/repository"
)

// UpsertVariable inserts or replaces a variable keyed by (project_id, key).
// The stored id and created_at are written back on conflict.
func (r *Repository) UpsertVariable(ctx context.Context, variable *domain.Variable) error {
	const query = `INSERT INTO project_variables (id, project_id, owner_id, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`
	row := r.pool.QueryRow(ctx, query,
		variable.ID,
		variable.ProjectID,
		variable.OwnerID,
		variable.Key,
		variable.Value,
		variable.CreatedAt,
		variable.UpdatedAt,
	)
	return row.Scan(&variable.ID, &variable.CreatedAt)
}

// ListVariables returns a project's variables ordered by key.
func (r *Repository) ListVariables(ctx context.Context, projectID, ownerID string) ([]domain.Variable, error) {
	const query = `SELECT id, project_id, owner_id, key, value, created_at, updated_at
		FROM project_variables WHERE project_id = $1 AND owner_id = $2 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make([]domain.Variable, 0)
	for rows.Next() {
		var v domain.Variable
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.OwnerID, &v.Key, &v.Value, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// DeleteVariable removes a single variable.
func (r *Repository) DeleteVariable(ctx context.Context, projectID, ownerID, key string) error {
	const query = `DELETE FROM project_variables WHERE project_id = $1 AND owner_id = $2 AND key = $3`
	tag, err := r.pool.Exec(ctx, query, projectID, ownerID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
