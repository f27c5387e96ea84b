// Package api contains the HTTP handlers for the workflow dashboard.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/internal/services"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

// WorkflowService is the dashboard behavior the handlers need.
type WorkflowService interface {
	List(ctx context.Context, sess *session.Session, f services.Filter) ([]*services.WorkflowSummary, error)
	Schedule(ctx context.Context, sess *session.Session, id string) ([]schedule.Entry, error)
	UpdateSchedule(ctx context.Context, sess *session.Session, id string, entries []schedule.Entry) ([]schedule.Entry, error)
	SetActive(ctx context.Context, sess *session.Session, id string, active bool) error
	Toggle(ctx context.Context, sess *session.Session, id string) (bool, error)
	Execute(ctx context.Context, sess *session.Session, id string) (*models.Execution, error)
	RecentAudit(ctx context.Context) ([]*models.AuditEntry, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	Workflows WorkflowService
	validate  *validator.Validate
}

// NewServer creates a new Server.
func NewServer(workflows WorkflowService) *Server {
	return &Server{
		Workflows: workflows,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ ServerInterface = (*Server)(nil)

// ScheduleRequest is the body of PUT /dashboard/workflows/{id}/schedule.
type ScheduleRequest struct {
	Entries []schedule.Entry `json:"entries" validate:"max=100,dive"`
}

// ScheduleResponse carries a workflow's schedule entries.
type ScheduleResponse struct {
	WorkflowID string           `json:"workflowId"`
	Entries    []schedule.Entry `json:"entries"`
}

// ActiveResponse reports the active flag after a change.
type ActiveResponse struct {
	WorkflowID string `json:"workflowId"`
	Active     bool   `json:"active"`
}

func currentSession(c echo.Context) (*session.Session, error) {
	s, ok := session.FromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "session expired or missing")
	}
	return s, nil
}

// ListWorkflows returns the visible workflows with their schedules
// (GET /dashboard/workflows)
func (s *Server) ListWorkflows(c echo.Context, params ListWorkflowsParams) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}

	var f services.Filter
	if params.Tag != nil {
		f.Tag = *params.Tag
	}
	if params.Category != nil {
		f.Category = *params.Category
	}

	workflows, err := s.Workflows.List(c.Request().Context(), sess, f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetSchedule returns the schedule entries of one workflow
// (GET /dashboard/workflows/{id}/schedule)
func (s *Server) GetSchedule(c echo.Context, id string) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	entries, err := s.Workflows.Schedule(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ScheduleResponse{WorkflowID: id, Entries: entries})
}

// UpdateSchedule replaces the schedule of one workflow
// (PUT /dashboard/workflows/{id}/schedule)
func (s *Server) UpdateSchedule(c echo.Context, id string) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}

	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Entries == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "entries is required")
	}
	if err := s.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entries, err := s.Workflows.UpdateSchedule(c.Request().Context(), sess, id, req.Entries)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ScheduleResponse{WorkflowID: id, Entries: entries})
}

// ActivateWorkflow turns a workflow on
// (POST /dashboard/workflows/{id}/activate)
func (s *Server) ActivateWorkflow(c echo.Context, id string) error {
	return s.setActive(c, id, true)
}

// DeactivateWorkflow turns a workflow off
// (POST /dashboard/workflows/{id}/deactivate)
func (s *Server) DeactivateWorkflow(c echo.Context, id string) error {
	return s.setActive(c, id, false)
}

func (s *Server) setActive(c echo.Context, id string, active bool) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	if err := s.Workflows.SetActive(c.Request().Context(), sess, id, active); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ActiveResponse{WorkflowID: id, Active: active})
}

// ToggleWorkflow flips the active flag
// (POST /dashboard/workflows/{id}/toggle)
func (s *Server) ToggleWorkflow(c echo.Context, id string) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	active, err := s.Workflows.Toggle(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ActiveResponse{WorkflowID: id, Active: active})
}

// ExecuteWorkflow starts a manual run
// (POST /dashboard/workflows/{id}/execute)
func (s *Server) ExecuteWorkflow(c echo.Context, id string) error {
	sess, err := currentSession(c)
	if err != nil {
		return err
	}
	exec, err := s.Workflows.Execute(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, exec)
}

// ListAudit returns the recent audit trail with display labels
// (GET /dashboard/audit)
func (s *Server) ListAudit(c echo.Context) error {
	entries, err := s.Workflows.RecentAudit(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, auditRows(entries))
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) error {
	var upstream *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, schedule.ErrMissingTriggerNode):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &upstream):
		switch upstream.Status {
		case http.StatusUnauthorized, http.StatusNotFound, http.StatusBadRequest:
			return echo.NewHTTPError(upstream.Status, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, services.ErrUnexpectedFormat):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
