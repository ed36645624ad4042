package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/executor"
	"github.com/yerniteja1/deploykit/internal/repository"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
)

func TestStartDeploymentStreamsEvents(t *testing.T) {
	scripted := executor.NewScripted(0, ".deploykit.app")
	env := setupRouter(t, scripted)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1/deploy", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rr.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("expected no-cache header")
	}
	deploymentID := rr.Header().Get("X-Deployment-ID")
	if deploymentID == "" {
		t.Fatal("expected deployment id header")
	}

	payloads, err := extractSSEPayloads(rr.Body.String())
	if err != nil {
		t.Fatalf("extract sse payloads: %v", err)
	}
	if len(payloads) != scripted.Steps()+1 {
		t.Fatalf("expected %d events, got %d", scripted.Steps()+1, len(payloads))
	}
	for i, p := range payloads[:len(payloads)-1] {
		if _, ok := p["log"].(string); !ok {
			t.Fatalf("event %d is not a log event: %v", i, p)
		}
	}
	if last := payloads[len(payloads)-1]; last["status"] != domain.DeploymentDeployed {
		t.Fatalf("unexpected terminal event %v", last)
	}

	env.coord.Wait()
	d, err := env.store.GetDeployment(context.Background(), deploymentID, testUser)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if !d.Sealed() || len(d.Lines()) != scripted.Steps() {
		t.Fatalf("unexpected persisted deployment %+v", d)
	}
}

func TestStartDeploymentNotFoundIsJSON(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedProject(t, env.store, "p2", "someone-else")

	for _, target := range []string{"/deployments/p2/deploy", "/deployments/missing/deploy"} {
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, env.request(http.MethodGet, target, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404, got %d", target, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: unexpected content type %q", target, ct)
		}
		if msg := parseError(t, rr.Body.String()); msg != "not found" {
			t.Fatalf("%s: unexpected error message %q", target, msg)
		}
	}
	if _, err := env.store.LatestDeployment(context.Background(), "p2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no deployment for foreign project, got %v", err)
	}
}

func TestStartDeploymentConflict(t *testing.T) {
	gate := newGateExecutor()
	env := setupRouter(t, gate)

	_, feed, err := env.coord.StartDeployment(context.Background(), "p1", testUser)
	if err != nil {
		t.Fatalf("StartDeployment returned error: %v", err)
	}
	defer feed.Close()
	defer close(gate.release)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1/deploy", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if msg := parseError(t, rr.Body.String()); msg != deploy.ErrConflict.Error() {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestStartDeploymentRequiresFlusher(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	req := env.request(http.MethodGet, "/deployments/p1/deploy", nil)
	req.SetPathValue("projectId", "p1")
	req = req.WithContext(context.WithValue(req.Context(), contextKeyAuth, authInfo{UserID: testUser}))

	w := newNoFlushRecorder()
	env.router.handleStartDeployment(w, req)

	if w.statusCode() != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.statusCode())
	}
	if msg := parseError(t, w.body()); msg != "streaming not supported" {
		t.Fatalf("unexpected error message %q", msg)
	}
	if _, err := env.store.LatestDeployment(context.Background(), "p1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("no deployment should start without a stream, got %v", err)
	}
}

func TestStartDeploymentRequiresAuthContext(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	req := env.request(http.MethodGet, "/deployments/p1/deploy", nil)
	req.SetPathValue("projectId", "p1")

	recorder := newStreamRecorder()
	env.router.handleStartDeployment(recorder, req)

	if recorder.statusCode() != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", recorder.statusCode())
	}
	if recorder.flushCount() != 0 {
		t.Fatalf("expected no flushes on auth failure")
	}
	if msg := parseError(t, recorder.body()); msg != "authorization context missing" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestDeploymentHistoryETag(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	base := time.Date(2025, time.January, 2, 15, 4, 5, 0, time.UTC)
	seedSealed(t, env.store, "d1", "p1", testUser, domain.DeploymentFailed, "[x] a", base)
	seedSealed(t, env.store, "d2", "p1", testUser, domain.DeploymentDeployed, "[x] b", base.Add(time.Minute))

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(items) != 2 || items[0]["id"] != "d2" || items[1]["id"] != "d1" {
		t.Fatalf("expected newest first, got %v", items)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	_ = env.store.CreateDeployment(context.Background(), &domain.Deployment{
		ID: "d3", ProjectID: "p1", OwnerID: testUser, Status: domain.DeploymentBuilding, CreatedAt: base.Add(time.Hour),
	})

	req := env.request(http.MethodGet, "/deployments/p1", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected status 304 while history is unchanged, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body on 304, got %q", rr.Body.String())
	}

	req = env.request(http.MethodGet, "/deployments/p1", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for stale tag, got %d", rr.Code)
	}
}

func TestDeploymentHistoryForeignProject(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedProject(t, env.store, "p2", "someone-else")

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p2", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestGetDeploymentSummary(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedSealed(t, env.store, "d1", "p1", testUser, domain.DeploymentDeployed, "", time.Now().UTC())

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1/d1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"log_lines":[]`) {
		t.Fatalf("expected empty log_lines array, got %s", rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if payload["status"] != domain.DeploymentDeployed || payload["project_id"] != "p1" {
		t.Fatalf("unexpected summary %v", payload)
	}
	if _, ok := payload["finished_at"].(string); !ok {
		t.Fatalf("expected finished_at, got %v", payload["finished_at"])
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/other/d1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for mismatched project, got %d", rr.Code)
	}
}

func TestDeploymentStreamReplaysSealed(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedSealed(t, env.store, "d1", "p1", testUser, domain.DeploymentFailed, "a\nb", time.Now().UTC())

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1/d1/stream", nil))
	payloads, err := extractSSEPayloads(rr.Body.String())
	if err != nil {
		t.Fatalf("extract sse payloads: %v", err)
	}
	if len(payloads) != 3 {
		t.Fatalf("expected 3 events, got %v", payloads)
	}
	if payloads[0]["log"] != "a" || payloads[1]["log"] != "b" || payloads[2]["status"] != domain.DeploymentFailed {
		t.Fatalf("unexpected replay %v", payloads)
	}
}

func TestDeploymentStreamRejectsOrphan(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	_ = env.store.CreateDeployment(context.Background(), &domain.Deployment{
		ID: "orphan", ProjectID: "p1", OwnerID: testUser, Status: domain.DeploymentBuilding, CreatedAt: time.Now(),
	})

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/deployments/p1/orphan/stream", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error before stream headers, got %q", ct)
	}
}

func TestDeploymentStreamRelaysActiveRun(t *testing.T) {
	gate := newGateExecutor()
	env := setupRouter(t, gate)

	run, feed, err := env.coord.StartDeployment(context.Background(), "p1", testUser)
	if err != nil {
		t.Fatalf("StartDeployment returned error: %v", err)
	}
	feed.Close()

	recorder := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		env.router.ServeHTTP(recorder, env.request(http.MethodGet, "/deployments/p1/"+run.DeploymentID+"/stream", nil))
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return run.SubscriberCount() == 1 })
	close(gate.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after run finished")
	}

	payloads, err := extractSSEPayloads(recorder.body())
	if err != nil {
		t.Fatalf("extract sse payloads: %v", err)
	}
	if len(payloads) < 2 {
		t.Fatalf("expected log and status events, got %v", payloads)
	}
	logLine, _ := payloads[len(payloads)-2]["log"].(string)
	if !strings.HasSuffix(logLine, "] released") {
		t.Fatalf("unexpected log event %v", payloads[len(payloads)-2])
	}
	if payloads[len(payloads)-1]["status"] != domain.DeploymentDeployed {
		t.Fatalf("unexpected terminal event %v", payloads[len(payloads)-1])
	}
	if recorder.flushCount() == 0 {
		t.Fatal("expected flusher to be invoked")
	}
}

func TestDeploymentWebsocketReplaysSealed(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedSealed(t, env.store, "d1", "p1", testUser, domain.DeploymentDeployed, "x\ny", time.Now().UTC())

	server := httptest.NewServer(env.router)
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/deployments"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token)

	conn, _, err := websocket.DefaultDialer.Dial(base+"?deployment_id=d1", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var events []deploy.Event
	for len(events) < 3 {
		var ev deploy.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event %d: %v", len(events), err)
		}
		events = append(events, ev)
	}
	want := []deploy.Event{{Log: "x"}, {Log: "y"}, {Status: domain.DeploymentDeployed}}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}

	_, resp, err := websocket.DefaultDialer.Dial(base+"?deployment_id=missing", header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake failure, got %v", err)
	}
	_, resp, err = websocket.DefaultDialer.Dial(base, header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake failure, got %v", err)
	}
}

func TestRoutesRequireSession(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || parseError(t, rr.Body.String()) != "Not authenticated" {
		t.Fatalf("expected 401 without session, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || parseError(t, rr.Body.String()) != "Invalid or expired token" {
		t.Fatalf("expected 401 for bad token, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bearer token accepted, got %d", rr.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/projects", strings.NewReader(`{"name":"site"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := parseError(t, rr.Body.String()); !strings.Contains(msg, "name and repo_full_name are required") {
		t.Fatalf("unexpected error message %q", msg)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/projects", strings.NewReader(`{"name":"site","repo_full_name":"octo/site"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if created["branch"] != domain.DefaultBranch || created["status"] != domain.ProjectIdle {
		t.Fatalf("unexpected project %v", created)
	}
	id, _ := created["id"].(string)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/projects", nil))
	var list []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(list))
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodDelete, "/projects/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/projects/"+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rr.Code)
	}
}

func TestDeleteProjectDuringRunConflicts(t *testing.T) {
	gate := newGateExecutor()
	env := setupRouter(t, gate)

	_, feed, err := env.coord.StartDeployment(context.Background(), "p1", testUser)
	if err != nil {
		t.Fatalf("StartDeployment returned error: %v", err)
	}
	defer feed.Close()
	defer close(gate.release)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodDelete, "/projects/p1", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if _, err := env.store.GetProject(context.Background(), "p1", testUser); err != nil {
		t.Fatalf("project should survive: %v", err)
	}
}

func TestVariableRoutes(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	seedProject(t, env.store, "p2", "someone-else")

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/env/p1", strings.NewReader(`{"key":"lower","value":"x"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/env/p2", strings.NewReader(`{"key":"API_KEY","value":"x"}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign project, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/env/p1", strings.NewReader(`{"key":"API_KEY","value":"secret"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/env/p1", nil))
	var entries []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode variables: %v", err)
	}
	if len(entries) != 1 || entries[0]["key"] != "API_KEY" || entries[0]["value"] != "secret" {
		t.Fatalf("unexpected variables %v", entries)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodDelete, "/env/p1/API_KEY", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodDelete, "/env/p1/API_KEY", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on repeated delete, got %d", rr.Code)
	}
}

func TestSessionRoutes(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/auth/me", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if payload.User["id"] != testUser || payload.User["username"] != "octo" {
		t.Fatalf("unexpected user %v", payload.User)
	}

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodPost, "/auth/logout", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired session cookie, got %+v", cookies)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	down := setupRouter(t, executor.NewScripted(0, ".deploykit.app"), func(d *Deps) {
		d.DBHealth = func(context.Context) error { return errors.New("connection refused") }
	})
	rr = httptest.NewRecorder()
	down.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected health payload %v", payload)
	}
}

func TestRateLimitedRequest(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	reset := time.Unix(1_950_000_000, 0)
	env.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, env.request(http.MethodGet, "/projects", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "120" {
		t.Fatalf("unexpected rate limit header: %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected rate remaining header: %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected rate reset header: %q", got)
	}

	env.limiter.mu.Lock()
	calls := append([]rateLimitCall(nil), env.limiter.calls...)
	env.limiter.mu.Unlock()
	if len(calls) != 1 || calls[0].key != "user:"+testUser || calls[0].window != rateWindowDefault {
		t.Fatalf("unexpected limiter calls %+v", calls)
	}
	if got := testutil.ToFloat64(env.router.rateLimitHits.WithLabelValues("projects", "user")); got != 1 {
		t.Fatalf("expected one recorded rate limit hit, got %v", got)
	}
}

func TestCORSAllowsClient(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))
	handler := env.router.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}
}

func TestMetricsEndpointExportsRequests(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	env.router.ServeHTTP(httptest.NewRecorder(), env.request(http.MethodGet, "/projects", nil))

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, "deploykit_api_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
	if !strings.Contains(body, `route="GET /projects"`) {
		t.Fatalf("expected route label from mux pattern, got:\n%s", body)
	}
}

func TestEtagMatches(t *testing.T) {
	etag := `"abc"`
	cases := map[string]bool{
		"":              false,
		"*":             true,
		`"abc"`:         true,
		`W/"abc"`:       true,
		`"x", "abc"`:    true,
		`"x", W/"nope"`: false,
	}
	for header, want := range cases {
		if got := etagMatches(header, etag); got != want {
			t.Fatalf("etagMatches(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	env := setupRouter(t, executor.NewScripted(0, ".deploykit.app"))

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws/deployments", nil)
	if !env.router.checkOrigin(req) {
		t.Fatal("requests without origin should pass")
	}
	req.Header.Set("Origin", "http://localhost:5173")
	if !env.router.checkOrigin(req) {
		t.Fatal("configured client should pass")
	}
	req.Header.Set("Origin", "http://api.example.com")
	if !env.router.checkOrigin(req) {
		t.Fatal("same host should pass")
	}
	req.Header.Set("Origin", "http://evil.example.com")
	if env.router.checkOrigin(req) {
		t.Fatal("foreign origin must be rejected")
	}
}
