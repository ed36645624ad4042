package domain

import "time"

// Variable is a project scoped environment variable. Value holds ciphertext.
type Variable struct {
	ID        string
	ProjectID string
	OwnerID   string
	Key       string
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
