package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/internal/services"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

type MockWorkflows struct {
	mock.Mock
}

func (m *MockWorkflows) List(ctx context.Context, sess *session.Session, f services.Filter) ([]*services.WorkflowSummary, error) {
	args := m.Called(ctx, sess, f)
	if v := args.Get(0); v != nil {
		return v.([]*services.WorkflowSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkflows) Schedule(ctx context.Context, sess *session.Session, id string) ([]schedule.Entry, error) {
	args := m.Called(ctx, sess, id)
	if v := args.Get(0); v != nil {
		return v.([]schedule.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkflows) UpdateSchedule(ctx context.Context, sess *session.Session, id string, entries []schedule.Entry) ([]schedule.Entry, error) {
	args := m.Called(ctx, sess, id, entries)
	if v := args.Get(0); v != nil {
		return v.([]schedule.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkflows) SetActive(ctx context.Context, sess *session.Session, id string, active bool) error {
	return m.Called(ctx, sess, id, active).Error(0)
}

func (m *MockWorkflows) Execute(ctx context.Context, sess *session.Session, id string) (*models.Execution, error) {
	args := m.Called(ctx, sess, id)
	if v := args.Get(0); v != nil {
		return v.(*models.Execution), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkflows) RecentAudit(ctx context.Context) ([]*models.AuditEntry, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]*models.AuditEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func userCtx() context.Context {
	return session.WithSession(context.Background(), &session.Session{
		APIKey: "user-key",
		User:   &session.User{Name: "Ann", Email: "ann@example.com"},
	})
}

var userSession = mock.MatchedBy(func(s *session.Session) bool {
	name, _ := s.Actor()
	return !s.System && s.APIKey == "user-key" && name == "Ann"
})

func TestListWorkflowsTool(t *testing.T) {
	wf := new(MockWorkflows)
	wf.On("List", mock.Anything, userSession, services.Filter{Tag: "Project Office"}).
		Return([]*services.WorkflowSummary{{ID: "wf1", Name: "Digest"}}, nil).Once()
	s := NewServer(wf)

	res, err := s.handleListWorkflows(userCtx(), call(map[string]any{"tag": "Project Office"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"name":"Digest"`)
	wf.AssertExpectations(t)
}

func TestUpdateScheduleTool(t *testing.T) {
	wf := new(MockWorkflows)
	wf.On("UpdateSchedule", mock.Anything, userSession, "wf1",
		[]schedule.Entry{{DayOfWeek: "1", Hour: "9", Minute: "30"}}).
		Return([]schedule.Entry{{Mode: schedule.ModeEveryWeek, DayOfWeek: "1", Hour: "09", Minute: "30"}}, nil).Once()
	s := NewServer(wf)

	res, err := s.handleUpdateSchedule(userCtx(), call(map[string]any{
		"id":      "wf1",
		"entries": []any{map[string]any{"dayOfWeek": "1", "hour": 9, "minute": "30"}},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got []schedule.Entry
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Equal(t, "09", got[0].Hour)
	wf.AssertExpectations(t)
}

func TestUpdateScheduleTool_Errors(t *testing.T) {
	wf := new(MockWorkflows)
	wf.On("UpdateSchedule", mock.Anything, mock.Anything, "wf3", mock.Anything).
		Return(nil, schedule.ErrMissingTriggerNode).Once()
	s := NewServer(wf)
	ctx := userCtx()

	res, _ := s.handleUpdateSchedule(ctx, call(map[string]any{"entries": []any{}}))
	assert.True(t, res.IsError)

	res, _ = s.handleUpdateSchedule(ctx, call(map[string]any{"id": "wf1"}))
	assert.True(t, res.IsError)

	res, _ = s.handleUpdateSchedule(ctx, call(map[string]any{"id": "wf1", "entries": "nope"}))
	assert.True(t, res.IsError)

	res, _ = s.handleUpdateSchedule(ctx, call(map[string]any{"id": "wf3", "entries": []any{}}))
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "trigger")
}

func TestSetActiveTool(t *testing.T) {
	wf := new(MockWorkflows)
	wf.On("SetActive", mock.Anything, userSession, "wf1", false).Return(nil).Once()
	wf.On("SetActive", mock.Anything, userSession, "wf2", true).Return(errors.New("locked")).Once()
	s := NewServer(wf)
	ctx := userCtx()

	res, err := s.handleSetActive(ctx, call(map[string]any{"id": "wf1", "active": false}))
	require.NoError(t, err)
	assert.Equal(t, "Workflow deactivated", text(t, res))

	res, _ = s.handleSetActive(ctx, call(map[string]any{"id": "wf2", "active": true}))
	assert.True(t, res.IsError)

	res, _ = s.handleSetActive(ctx, call(map[string]any{"id": "wf2"}))
	assert.True(t, res.IsError)
	wf.AssertExpectations(t)
}

func TestExecuteAndAuditTools(t *testing.T) {
	wf := new(MockWorkflows)
	wf.On("Execute", mock.Anything, userSession, "wf1").Return(&models.Execution{ID: "e1"}, nil).Once()
	wf.On("RecentAudit", mock.Anything).Return([]*models.AuditEntry{{ID: "a1", Action: models.AuditActionExecute}}, nil).Once()
	s := NewServer(wf)
	ctx := userCtx()

	res, err := s.handleExecute(ctx, call(map[string]any{"id": "wf1"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"id":"e1"`)

	res, err = s.handleRecentAudit(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"action":"execute"`)

	res, _ = s.handleGetSchedule(ctx, call(map[string]any{}))
	assert.True(t, res.IsError)
	wf.AssertExpectations(t)
}

func TestToolsRequireSession(t *testing.T) {
	wf := new(MockWorkflows)
	s := NewServer(wf)
	ctx := context.Background()

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_workflows":   s.handleListWorkflows,
		"get_schedule":     s.handleGetSchedule,
		"update_schedule":  s.handleUpdateSchedule,
		"set_active":       s.handleSetActive,
		"execute_workflow": s.handleExecute,
		"recent_audit":     s.handleRecentAudit,
	}
	args := map[string]any{"id": "wf3", "active": true, "entries": []any{}}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			res, err := h(ctx, call(args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), "Not authenticated")
		})
	}

	// A session without an upstream key is refused as well.
	res, _ := s.handleExecute(session.WithSession(ctx, &session.Session{User: &session.User{Name: "Ann"}}), call(args))
	assert.True(t, res.IsError)
	wf.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}
