package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrSealed indicates a deployment already reached a terminal state.
var ErrSealed = errors.New("repository: deployment already sealed")
