package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
	"github.com/yerniteja1/deploykit/internal/ws"
)

// handleStartDeployment starts a run and streams it to the caller as
// Server-Sent Events. Errors before the first byte are plain JSON.
func (r *Router) handleStartDeployment(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	projectID := strings.TrimSpace(req.PathValue("projectId"))

	run, feed, err := r.deployments.StartDeployment(req.Context(), projectID, info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.Header().Set("X-Deployment-ID", run.DeploymentID)
	sse, err := ws.OpenSSE(w, r.logger)
	if err != nil {
		feed.Close()
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer sse.Close()
	defer r.trackStream("sse")()

	if err := r.gateway.Relay(req.Context(), feed, sse); err != nil {
		r.logger.Warn("deployment stream ended early", "deployment_id", run.DeploymentID, "error", err)
	}
}

// handleDeploymentHistory lists sealed deployments with a content ETag.
func (r *Router) handleDeploymentHistory(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	projectID := strings.TrimSpace(req.PathValue("projectId"))
	deployments, err := r.deployments.History(req.Context(), projectID, info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	body, err := json.Marshal(marshalDeployments(deployments))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	headers := w.Header()
	headers.Set("ETag", etag)
	headers.Set("Cache-Control", "private, no-cache")
	if etagMatches(req.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	headers.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (r *Router) handleGetDeployment(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	d, err := r.deployments.Get(req.Context(), req.PathValue("deploymentId"), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if d.ProjectID != req.PathValue("projectId") {
		r.writeServiceError(w, req, deploy.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, marshalDeployment(*d))
}

// handleDeploymentStream attaches an observer to a deployment over SSE.
func (r *Router) handleDeploymentStream(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	deploymentID := strings.TrimSpace(req.PathValue("deploymentId"))
	if err := r.attachable(req.Context(), req.PathValue("projectId"), deploymentID, info.UserID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	sse, err := ws.OpenSSE(w, r.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer sse.Close()
	defer r.trackStream("sse")()

	if err := r.gateway.Attach(req.Context(), deploymentID, info.UserID, sse); err != nil {
		r.logger.Warn("deployment stream ended early", "deployment_id", deploymentID, "error", err)
	}
}

// handleDeploymentWS attaches an observer to a deployment over a websocket.
func (r *Router) handleDeploymentWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	deploymentID := strings.TrimSpace(req.URL.Query().Get("deployment_id"))
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	if err := r.attachable(req.Context(), "", deploymentID, info.UserID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	defer client.Close()
	defer r.trackStream("websocket")()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go client.WatchClose(ctx, cancel)

	if err := r.gateway.Attach(ctx, deploymentID, info.UserID, client); err != nil {
		r.logger.Warn("deployment websocket ended early", "deployment_id", deploymentID, "error", err)
	}
}

// attachable reports deploy.ErrNotFound unless the deployment belongs to
// userID (and projectID when given) and is either running or sealed.
func (r *Router) attachable(ctx context.Context, projectID, deploymentID, userID string) error {
	d, err := r.deployments.Get(ctx, deploymentID, userID)
	if err != nil {
		return err
	}
	if projectID != "" && d.ProjectID != projectID {
		return deploy.ErrNotFound
	}
	if d.Sealed() {
		return nil
	}
	if _, ok := r.deployments.Active(deploymentID); !ok {
		return fmt.Errorf("deployment %s is not running: %w", deploymentID, deploy.ErrNotFound)
	}
	return nil
}

func marshalDeployment(d domain.Deployment) map[string]any {
	var finished *string
	if d.FinishedAt != nil {
		v := d.FinishedAt.UTC().Format(time.RFC3339Nano)
		finished = &v
	}
	return map[string]any{
		"id":          d.ID,
		"project_id":  d.ProjectID,
		"status":      d.Status,
		"logs":        d.Logs,
		"log_lines":   d.Lines(),
		"created_at":  d.CreatedAt.UTC().Format(time.RFC3339Nano),
		"finished_at": finished,
	}
}

func marshalDeployments(deployments []domain.Deployment) []map[string]any {
	out := make([]map[string]any, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, marshalDeployment(d))
	}
	return out
}

// etagMatches implements the If-None-Match comparison for strong tags.
func etagMatches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
