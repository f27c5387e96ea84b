package services

import (
	"context"

	"flowdeck/backend/pkg/models"
)

// WorkflowClient talks to the upstream workflow service on behalf of the
// holder of apiKey.
type WorkflowClient interface {
	// ListWorkflows returns every workflow visible to the key.
	ListWorkflows(ctx context.Context, apiKey string) ([]*models.Workflow, error)
	// GetWorkflow returns a single workflow document.
	GetWorkflow(ctx context.Context, apiKey, id string) (*models.Workflow, error)
	// UpdateWorkflow replaces a workflow with the minimal payload.
	UpdateWorkflow(ctx context.Context, apiKey, id string, payload *models.UpdatePayload) error
	// ActivateWorkflow turns a workflow on.
	ActivateWorkflow(ctx context.Context, apiKey, id string) error
	// DeactivateWorkflow turns a workflow off.
	DeactivateWorkflow(ctx context.Context, apiKey, id string) error
	// ExecuteWorkflow starts a run and returns its execution record.
	ExecuteWorkflow(ctx context.Context, apiKey, id string) (*models.Execution, error)
}
