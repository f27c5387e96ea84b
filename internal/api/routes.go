package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListWorkflowsParams defines parameters for ListWorkflows.
type ListWorkflowsParams struct {
	// Tag filters by exact tag name.
	Tag *string `form:"tag,omitempty" json:"tag,omitempty"`
	// Category filters by tag substring.
	Category *string `form:"category,omitempty" json:"category,omitempty"`
}

// ServerInterface represents all server handlers of the dashboard API.
type ServerInterface interface {
	// (GET /dashboard/workflows)
	ListWorkflows(ctx echo.Context, params ListWorkflowsParams) error
	// (GET /dashboard/workflows/{id}/schedule)
	GetSchedule(ctx echo.Context, id string) error
	// (PUT /dashboard/workflows/{id}/schedule)
	UpdateSchedule(ctx echo.Context, id string) error
	// (POST /dashboard/workflows/{id}/activate)
	ActivateWorkflow(ctx echo.Context, id string) error
	// (POST /dashboard/workflows/{id}/deactivate)
	DeactivateWorkflow(ctx echo.Context, id string) error
	// (POST /dashboard/workflows/{id}/toggle)
	ToggleWorkflow(ctx echo.Context, id string) error
	// (POST /dashboard/workflows/{id}/execute)
	ExecuteWorkflow(ctx echo.Context, id string) error
	// (GET /dashboard/audit)
	ListAudit(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// ListWorkflows converts echo context to params.
func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	var params ListWorkflowsParams

	err := runtime.BindQueryParameter("form", true, false, "tag", ctx.QueryParams(), &params.Tag)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter tag: %s", err))
	}
	err = runtime.BindQueryParameter("form", true, false, "category", ctx.QueryParams(), &params.Category)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter category: %s", err))
	}

	return w.Handler.ListWorkflows(ctx, params)
}

func (w *ServerInterfaceWrapper) bindID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	return id, nil
}

func (w *ServerInterfaceWrapper) withID(fn func(echo.Context, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := w.bindID(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, id)
	}
}

// EchoRouter is the subset of echo.Echo and echo.Group used for routing.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the router. Paths are relative
// to the router, which is normally the "/dashboard" group.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, prefixing each path with baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET(baseURL+"/workflows", w.ListWorkflows)
	router.GET(baseURL+"/workflows/:id/schedule", w.withID(si.GetSchedule))
	router.PUT(baseURL+"/workflows/:id/schedule", w.withID(si.UpdateSchedule))
	router.POST(baseURL+"/workflows/:id/activate", w.withID(si.ActivateWorkflow))
	router.POST(baseURL+"/workflows/:id/deactivate", w.withID(si.DeactivateWorkflow))
	router.POST(baseURL+"/workflows/:id/toggle", w.withID(si.ToggleWorkflow))
	router.POST(baseURL+"/workflows/:id/execute", w.withID(si.ExecuteWorkflow))
	router.GET(baseURL+"/audit", si.ListAudit)
}
