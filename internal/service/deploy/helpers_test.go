package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/executor"
	"github.com/yerniteja1/deploykit/internal/repository/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, exec executor.Executor, opts ...Option) (*Coordinator, *memory.Store) {
	t.Helper()
	store := memory.New()
	c := New(store, store, exec, discardLogger(), opts...)
	t.Cleanup(c.Wait)
	return c, store
}

func seedProject(t *testing.T, store *memory.Store, id, owner string) {
	t.Helper()
	err := store.CreateProject(context.Background(), &domain.Project{
		ID:           id,
		OwnerID:      owner,
		Name:         "Demo",
		RepoName:     "demo",
		RepoFullName: owner + "/demo",
		Branch:       domain.DefaultBranch,
		Status:       domain.ProjectIdle,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

// gatedExecutor blocks until release is closed, then delegates.
type gatedExecutor struct {
	release chan struct{}
	inner   executor.Executor
}

func newGate(inner executor.Executor) *gatedExecutor {
	return &gatedExecutor{release: make(chan struct{}), inner: inner}
}

func (g *gatedExecutor) Execute(ctx context.Context, target executor.Target, emit executor.Emitter) executor.Outcome {
	<-g.release
	return g.inner.Execute(ctx, target, emit)
}

func (g *gatedExecutor) open() { close(g.release) }

// stepExecutor emits one line per step after the test allows it.
type stepExecutor struct {
	steps   []string
	advance chan struct{}
	outcome executor.Outcome
}

func (s *stepExecutor) Execute(ctx context.Context, _ executor.Target, emit executor.Emitter) executor.Outcome {
	for _, step := range s.steps {
		select {
		case <-s.advance:
		case <-ctx.Done():
			return executor.Failed
		}
		emit(executor.Entry{Time: time.Now(), Message: step})
	}
	return s.outcome
}

func fixedExecutor(outcome executor.Outcome, messages ...string) executor.Executor {
	return executor.Func(func(_ context.Context, _ executor.Target, emit executor.Emitter) executor.Outcome {
		for _, m := range messages {
			emit(executor.Entry{Time: time.Now(), Message: m})
		}
		return outcome
	})
}

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out draining feed after %d events", len(events))
			return nil
		}
	}
}

func logTexts(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Log != "" {
			out = append(out, ev.Log)
		}
	}
	return out
}

func assertWellFormed(t *testing.T, events []Event) string {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("expected at least the terminal event")
	}
	for i, ev := range events[:len(events)-1] {
		if ev.Terminal() {
			t.Fatalf("terminal event at position %d of %d", i, len(events))
		}
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		t.Fatalf("expected last event to be terminal, got %+v", last)
	}
	return last.Status
}

// faultyStore fails selected writes.
type faultyStore struct {
	*memory.Store
	mu        sync.Mutex
	sealErr   error
	statusErr error
	sealCalls int
	// statusFailures fails that many UpdateProjectStatus calls before
	// falling back to statusErr.
	statusFailures int
}

func (f *faultyStore) SealDeployment(ctx context.Context, id, status, logs string, finishedAt time.Time) error {
	f.mu.Lock()
	f.sealCalls++
	err := f.sealErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.SealDeployment(ctx, id, status, logs, finishedAt)
}

func (f *faultyStore) UpdateProjectStatus(ctx context.Context, projectID, status string) error {
	f.mu.Lock()
	err := f.statusErr
	if f.statusFailures > 0 {
		f.statusFailures--
		err = errStoreDown
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.UpdateProjectStatus(ctx, projectID, status)
}

var errStoreDown = errors.New("store unavailable")

type recordingArchiver struct {
	mu       sync.Mutex
	archived []domain.Deployment
}

func (r *recordingArchiver) Archive(_ context.Context, d domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, d)
	return nil
}

func (r *recordingArchiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.archived)
}
