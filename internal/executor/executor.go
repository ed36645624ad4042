// Package executor defines the pluggable unit of work a deployment runs and
// ships two implementations: a scripted simulation and a docker pipeline.
package executor

import (
	"context"
	"time"
)

// Outcome is the final result reported by an Executor.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
)

// Target identifies what is being deployed.
type Target struct {
	ProjectID    string
	DeploymentID string
	Name         string
	RepoFullName string
	RepoURL      string
	Branch       string
}

// Entry is a single progress message.
type Entry struct {
	Time    time.Time
	Message string
}

// Emitter receives entries in order. It must not be called after Execute returns.
type Emitter func(Entry)

// Executor performs a deployment, reporting progress through emit.
// Implementations honour ctx and turn internal faults into Failed plus a
// descriptive final entry.
type Executor interface {
	Execute(ctx context.Context, target Target, emit Emitter) Outcome
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, target Target, emit Emitter) Outcome

// Execute calls f.
func (f Func) Execute(ctx context.Context, target Target, emit Emitter) Outcome {
	return f(ctx, target, emit)
}

// FailureMessage renders the final line of a failed deployment.
func FailureMessage(err error) string {
	return "❌ Deployment failed: " + err.Error()
}
