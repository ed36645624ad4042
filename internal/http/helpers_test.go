package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/executor"
	"github.com/yerniteja1/deploykit/internal/repository/memory"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
	"github.com/yerniteja1/deploykit/internal/service/project"
	"github.com/yerniteja1/deploykit/internal/service/variable"
	"github.com/yerniteja1/deploykit/internal/ws"
	"github.com/yerniteja1/deploykit/pkg/crypto"
	jwtpkg "github.com/yerniteja1/deploykit/pkg/jwt"
)

const (
	testSecret = "test-secret"
	testUser   = "user-123"
)

type testEnv struct {
	router  *Router
	store   *memory.Store
	coord   *deploy.Coordinator
	limiter *rateLimiterStub
	token   string
}

type routerOption func(*Deps)

func setupRouter(t *testing.T, exec executor.Executor, opts ...routerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	coord := deploy.New(store, store, exec, logger)
	t.Cleanup(coord.Wait)

	box, err := crypto.NewBox("env-secret")
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	limiter := newRateLimiterStub()
	deps := Deps{
		Logger:      logger,
		Coordinator: coord,
		Gateway:     ws.NewGateway(coord, 0, logger),
		Projects:    project.New(store, coord, logger),
		Variables:   variable.New(store, store, box, logger),
		Limiter:     limiter,
		JWTSecret:   testSecret,
		ClientURL:   "http://localhost:5173",
		DBHealth:    store.Ping,
		Registry:    prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := NewRouter(deps)
	t.Cleanup(router.Close)

	token, err := jwtpkg.GenerateToken(testUser, "octo", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	seedProject(t, store, "p1", testUser)
	return &testEnv{router: router, store: store, coord: coord, limiter: limiter, token: token}
}

func seedProject(t *testing.T, store *memory.Store, id, owner string) {
	t.Helper()
	err := store.CreateProject(context.Background(), &domain.Project{
		ID:           id,
		OwnerID:      owner,
		Name:         "Demo",
		RepoName:     "demo",
		RepoFullName: "octo/demo",
		Branch:       domain.DefaultBranch,
		Status:       domain.ProjectIdle,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func seedSealed(t *testing.T, store *memory.Store, id, projectID, owner, status, logs string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	err := store.CreateDeployment(ctx, &domain.Deployment{
		ID: id, ProjectID: projectID, OwnerID: owner, Status: domain.DeploymentBuilding, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seed deployment: %v", err)
	}
	if err := store.SealDeployment(ctx, id, status, logs, createdAt.Add(time.Second)); err != nil {
		t.Fatalf("seal deployment: %v", err)
	}
}

func (e *testEnv) request(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: e.token})
	return req
}

// gateExecutor emits one line and blocks until released.
type gateExecutor struct {
	release chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{release: make(chan struct{})}
}

func (g *gateExecutor) Execute(ctx context.Context, _ executor.Target, emit executor.Emitter) executor.Outcome {
	emit(executor.Entry{Time: time.Now(), Message: "waiting"})
	select {
	case <-g.release:
	case <-ctx.Done():
		return executor.Failed
	}
	emit(executor.Entry{Time: time.Now(), Message: "released"})
	return executor.Succeeded
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
	flush  int
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (s *streamRecorder) Header() http.Header {
	return s.header
}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(b)
}

func (s *streamRecorder) WriteHeader(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *streamRecorder) Flush() {
	s.mu.Lock()
	s.flush++
	s.mu.Unlock()
}

func (s *streamRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *streamRecorder) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush
}

func (s *streamRecorder) statusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

type noFlushRecorder struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func newNoFlushRecorder() *noFlushRecorder {
	return &noFlushRecorder{header: make(http.Header)}
}

func (r *noFlushRecorder) Header() http.Header {
	return r.header
}

func (r *noFlushRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.buf.Write(b)
}

func (r *noFlushRecorder) WriteHeader(status int) {
	r.status = status
}

func (r *noFlushRecorder) body() string {
	return r.buf.String()
}

func (r *noFlushRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func extractSSEPayloads(body string) ([]map[string]any, error) {
	lines := strings.Split(body, "\n")
	var payloads []map[string]any
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data: ") {
			raw := strings.TrimPrefix(line, "data: ")
			var payload map[string]any
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return nil, err
			}
			payloads = append(payloads, payload)
		}
	}
	return payloads, nil
}

func parseError(t *testing.T, body string) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	v, _ := payload["error"].(string)
	return v
}
