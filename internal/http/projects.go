package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/yerniteja1/deploykit/internal/domain"
	"github.com/yerniteja1/deploykit/internal/service/project"
)

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	projects, err := r.projects.ListByOwner(req.Context(), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, marshalProject(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	var payload struct {
		Name         string `json:"name"`
		RepoName     string `json:"repo_name"`
		RepoURL      string `json:"repo_url"`
		RepoFullName string `json:"repo_full_name"`
		Branch       string `json:"branch"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	proj, err := r.projects.Create(req.Context(), project.CreateInput{
		OwnerID:      info.UserID,
		Name:         payload.Name,
		RepoName:     payload.RepoName,
		RepoFullName: payload.RepoFullName,
		RepoURL:      payload.RepoURL,
		Branch:       payload.Branch,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, marshalProject(*proj))
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	proj, err := r.projects.Get(req.Context(), req.PathValue("id"), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalProject(*proj))
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	if err := r.projects.Delete(req.Context(), req.PathValue("id"), info.UserID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Project deleted"})
}

func (r *Router) handleListVariables(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	entries, err := r.variables.List(req.Context(), req.PathValue("projectId"), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleUpsertVariable(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	var payload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := r.variables.Upsert(req.Context(), req.PathValue("projectId"), info.UserID, payload.Key, payload.Value)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (r *Router) handleDeleteVariable(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	if err := r.variables.Delete(req.Context(), req.PathValue("projectId"), info.UserID, req.PathValue("key")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
}

func marshalProject(p domain.Project) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"user_id":        p.OwnerID,
		"name":           p.Name,
		"repo_name":      p.RepoName,
		"repo_full_name": p.RepoFullName,
		"repo_url":       p.RepoURL,
		"branch":         p.Branch,
		"status":         p.Status,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
