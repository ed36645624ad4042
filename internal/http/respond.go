package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yerniteja1/deploykit/internal/repository"
	"github.com/yerniteja1/deploykit/internal/service/deploy"
	"github.com/yerniteja1/deploykit/internal/service/project"
	"github.com/yerniteja1/deploykit/internal/service/variable"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto status codes. Unexpected
// errors are logged and hidden behind a generic message.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, deploy.ErrConflict):
		writeError(w, http.StatusConflict, deploy.ErrConflict.Error())
	case errors.Is(err, project.ErrInvalidInput), errors.Is(err, variable.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
