package httpx

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	info, ok := r.requestAuth(w, req)
	if !ok {
		return
	}
	user := map[string]any{"id": info.UserID}
	if c := info.Claims; c != nil {
		user["username"] = c.Username
		user["name"] = c.Name
		user["avatar_url"] = c.AvatarURL
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (r *Router) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   r.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"

	check := func(name string, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			return
		}
		components[name] = map[string]any{"status": "up"}
	}
	if r.dbHealth != nil {
		check("database", r.dbHealth)
	}
	if p, ok := r.limiter.(pinger); ok {
		check("rate_limiter", p.Ping)
	}

	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}
