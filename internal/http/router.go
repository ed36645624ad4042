package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yerniteja1/deploykit/internal/service/deploy"
	"github.com/yerniteja1/deploykit/internal/service/project"
	"github.com/yerniteja1/deploykit/internal/service/variable"
	"github.com/yerniteja1/deploykit/internal/ws"
)

// Deps lists the collaborators the router serves.
type Deps struct {
	Logger        *slog.Logger
	Coordinator   *deploy.Coordinator
	Gateway       *ws.Gateway
	Projects      project.Service
	Variables     *variable.Service
	Limiter       RateLimiter
	JWTSecret     string
	ClientURL     string
	SecureCookies bool
	DBHealth      func(context.Context) error
	// Registry receives HTTP metrics and backs /metrics. Nil uses the
	// prometheus default registry.
	Registry *prometheus.Registry
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	deployments   *deploy.Coordinator
	gateway       *ws.Gateway
	projects      project.Service
	variables     *variable.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	jwtSecret     string
	clientURL     string
	secureCookies bool
	dbHealth      func(context.Context) error

	registerer         prometheus.Registerer
	gatherer           prometheus.Gatherer
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	openStreams        *prometheus.GaugeVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSession   = 60
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitDeploy    = 10
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        logger.With("component", "http"),
		deployments:   deps.Coordinator,
		gateway:       deps.Gateway,
		projects:      deps.Projects,
		variables:     deps.Variables,
		limiter:       deps.Limiter,
		jwtSecret:     deps.JWTSecret,
		clientURL:     strings.TrimRight(strings.TrimSpace(deps.ClientURL), "/"),
		secureCookies: deps.SecureCookies,
		dbHealth:      deps.DBHealth,
		registerer:    prometheus.DefaultRegisterer,
		gatherer:      prometheus.DefaultGatherer,
	}
	if deps.Registry != nil {
		r.registerer = deps.Registry
		r.gatherer = deps.Registry
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler returns the router wrapped with the CORS policy for the web client.
func (r *Router) Handler() http.Handler {
	if r.clientURL == "" {
		return r
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{r.clientURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", "X-Request-ID"},
		ExposedHeaders:   []string{"ETag", "X-Deployment-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.mux.HandleFunc("GET /auth/me", r.audit(r.handlerIPRate("auth_me", rateLimitSession, rateWindowDefault, r.requireAuth(r.handleMe))))
	r.mux.HandleFunc("POST /auth/logout", r.audit(r.handlerIPRate("auth_logout", rateLimitSession, rateWindowDefault, r.handleLogout)))

	r.mux.HandleFunc("GET /projects", r.audit(r.handlerAuthRate("projects", rateLimitUserRead, rateWindowDefault, r.handleListProjects)))
	r.mux.HandleFunc("POST /projects", r.audit(r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleCreateProject)))
	r.mux.HandleFunc("GET /projects/{id}", r.audit(r.handlerAuthRate("project", rateLimitUserRead, rateWindowDefault, r.handleGetProject)))
	r.mux.HandleFunc("DELETE /projects/{id}", r.audit(r.handlerAuthRate("project", rateLimitUserWrite, rateWindowDefault, r.handleDeleteProject)))

	r.mux.HandleFunc("GET /env/{projectId}", r.audit(r.handlerAuthRate("env", rateLimitUserRead, rateWindowDefault, r.handleListVariables)))
	r.mux.HandleFunc("POST /env/{projectId}", r.audit(r.handlerAuthRate("env", rateLimitUserWrite, rateWindowDefault, r.handleUpsertVariable)))
	r.mux.HandleFunc("DELETE /env/{projectId}/{key}", r.audit(r.handlerAuthRate("env", rateLimitUserWrite, rateWindowDefault, r.handleDeleteVariable)))

	r.mux.HandleFunc("GET /deployments/{projectId}", r.audit(r.handlerAuthRate("deployments", rateLimitUserRead, rateWindowDefault, r.handleDeploymentHistory)))
	r.mux.HandleFunc("GET /deployments/{projectId}/deploy", r.audit(r.handlerAuthRate("deploy", rateLimitDeploy, rateWindowDefault, r.handleStartDeployment)))
	r.mux.HandleFunc("GET /deployments/{projectId}/{deploymentId}", r.audit(r.handlerAuthRate("deployment", rateLimitUserRead, rateWindowDefault, r.handleGetDeployment)))
	r.mux.HandleFunc("GET /deployments/{projectId}/{deploymentId}/stream", r.audit(r.handlerAuthRate("deployment_stream", rateLimitStream, rateWindowRealtime, r.handleDeploymentStream)))
	r.mux.HandleFunc("GET /ws/deployments", r.audit(r.handlerAuthRate("deployment_ws", rateLimitStream, rateWindowRealtime, r.handleDeploymentWS)))
}

// requestAuth returns the caller placed on the context by requireAuth.
func (r *Router) requestAuth(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
	}
	return info, ok
}

// checkOrigin admits same-host pages and the configured web client.
func (r *Router) checkOrigin(req *http.Request) bool {
	origin := strings.TrimSpace(req.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if r.clientURL != "" && strings.EqualFold(strings.TrimRight(origin, "/"), r.clientURL) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, req.Host)
}
