package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"flowdeck/backend/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Logger is the logging surface of the error handler.
type Logger interface {
	Error(msg string, args ...any)
}

// Handler contains the plain HTTP handlers of the dashboard backend.
type Handler struct {
	checks map[string]Pinger
}

// NewHandler creates a new Handler. Each named check is pinged by HandleHealth.
func NewHandler(checks map[string]Pinger) *Handler {
	return &Handler{checks: checks}
}

// HandleHealth reports service health. It answers 200 even when a dependency
// is down; the failing check is named in the body.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "flowdeck",
		Version:   Version,
	}
	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status.Checks = make(map[string]string, len(h.checks))
		for name, p := range h.checks {
			if err := p.Ping(ctx); err != nil {
				status.Checks[name] = "error: " + err.Error()
				status.Status = "degraded"
				continue
			}
			status.Checks[name] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(w http.ResponseWriter, status int, title, detail, instance string) {
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// ProblemErrorHandler renders echo errors as Problem Details.
func ProblemErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			detail = fmt.Sprint(he.Message)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", c.Request().URL.Path, "status", status, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		writeError(c.Response(), status, http.StatusText(status), detail, c.Request().URL.Path)
	}
}
