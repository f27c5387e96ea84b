package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flowdeck/backend/internal/repository"
	"flowdeck/backend/internal/schedule"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

var (
	// ErrUnauthenticated is returned when the session carries no API key.
	ErrUnauthenticated = errors.New("not authenticated with the workflow service")
	// ErrForbidden is returned when a workflow's category is locked for the session.
	ErrForbidden = errors.New("category is locked for this session")
)

// Category names with special handling.
const (
	CategoryTest          = "test"
	CategoryProjectOffice = "project-office"

	projectOfficeTag = "Project Office"
	testTagMarker    = "тест"
)

// DefaultHiddenIDs are service workflows never shown on the dashboard.
var DefaultHiddenIDs = []string{"nOeSmorRuGenRVjo", "2C3AppAXPmHmwAFH", "Rgola8AJBHaply3l"}

// Logger is the logging surface the service uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Filter narrows a workflow listing. Tag wins over Category.
type Filter struct {
	Tag      string
	Category string
}

// WorkflowSummary is a dashboard row.
type WorkflowSummary struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Active     bool             `json:"active"`
	Tags       []string         `json:"tags"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Schedules  []schedule.Entry `json:"schedules"`
	NextRun    *time.Time       `json:"nextRun,omitempty"`
	Categories []string         `json:"categories,omitempty"`
	Locked     bool             `json:"locked"`
}

// WorkflowService implements the dashboard operations on top of the upstream
// client and the audit trail.
type WorkflowService struct {
	client        WorkflowClient
	audit         repository.AuditStore
	logger        Logger
	tracer        trace.Tracer
	hidden        map[string]struct{}
	categories    map[string]string
	preserveModes bool
	retention     time.Duration
	now           func() time.Time
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *WorkflowService) { s.logger = l }
}

// WithHiddenIDs replaces the hidden workflow ids.
func WithHiddenIDs(ids []string) Option {
	return func(s *WorkflowService) {
		s.hidden = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.hidden[id] = struct{}{}
		}
	}
}

// WithCategories sets the category passwords. Categories with an empty
// password are not locked.
func WithCategories(c map[string]string) Option {
	return func(s *WorkflowService) { s.categories = c }
}

// WithPreserveModes keeps entry modes when rebuilding trigger nodes.
func WithPreserveModes(preserve bool) Option {
	return func(s *WorkflowService) { s.preserveModes = preserve }
}

// WithRetentionDays sets how far back RecentAudit looks.
func WithRetentionDays(days int) Option {
	return func(s *WorkflowService) {
		if days > 0 {
			s.retention = time.Duration(days) * 24 * time.Hour
		}
	}
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(client WorkflowClient, audit repository.AuditStore, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		client:    client,
		audit:     audit,
		logger:    nopLogger{},
		tracer:    otel.Tracer("flowdeck/backend/internal/services"),
		retention: 14 * 24 * time.Hour,
		now:       time.Now,
	}
	WithHiddenIDs(DefaultHiddenIDs)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyAPIKey checks a key by listing workflows with it.
func (s *WorkflowService) VerifyAPIKey(ctx context.Context, apiKey string) error {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.VerifyAPIKey")
	defer span.End()

	if strings.TrimSpace(apiKey) == "" {
		return ErrUnauthenticated
	}
	if _, err := s.client.ListWorkflows(ctx, apiKey); err != nil {
		return traceErr(span, err)
	}
	return nil
}

// List returns the visible workflows matching f, each with its schedules.
func (s *WorkflowService) List(ctx context.Context, sess *session.Session, f Filter) ([]*WorkflowSummary, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.List",
		trace.WithAttributes(attribute.String("filter.tag", f.Tag), attribute.String("filter.category", f.Category)))
	defer span.End()

	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	all, err := s.client.ListWorkflows(ctx, sess.APIKey)
	if err != nil {
		return nil, traceErr(span, err)
	}

	now := s.now()
	out := make([]*WorkflowSummary, 0, len(all))
	for _, wf := range all {
		if _, hidden := s.hidden[wf.ID]; hidden || !matches(wf, f) {
			continue
		}
		out = append(out, s.summarize(sess, wf, now))
	}
	span.SetAttributes(attribute.Int("workflows.count", len(out)))
	return out, nil
}

func matches(wf *models.Workflow, f Filter) bool {
	switch {
	case f.Tag != "":
		return wf.HasTag(f.Tag)
	case f.Category == CategoryTest:
		return slices.ContainsFunc(wf.Tags, func(t models.Tag) bool {
			return strings.Contains(strings.ToLower(t.Name), testTagMarker)
		})
	case f.Category != "":
		needle := strings.ToLower(f.Category)
		return slices.ContainsFunc(wf.Tags, func(t models.Tag) bool {
			return strings.Contains(strings.ToLower(t.Name), needle)
		})
	}
	return true
}

func (s *WorkflowService) summarize(sess *session.Session, wf *models.Workflow, now time.Time) *WorkflowSummary {
	sum := &WorkflowSummary{
		ID:         wf.ID,
		Name:       wf.Name,
		Active:     wf.Active,
		Tags:       make([]string, 0, len(wf.Tags)),
		UpdatedAt:  wf.UpdatedAt,
		Schedules:  s.safeExtract(wf),
		Categories: s.lockedCategories(wf),
	}
	for _, t := range wf.Tags {
		sum.Tags = append(sum.Tags, t.Name)
	}
	if next, ok := schedule.NextRunOf(sum.Schedules, now); ok {
		sum.NextRun = &next
	}
	sum.Locked = !s.unlocked(sess, sum.Categories)
	return sum
}

// safeExtract never lets one malformed workflow break a listing.
func (s *WorkflowService) safeExtract(wf *models.Workflow) (entries []schedule.Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("failed to extract schedule", "workflow_id", wf.ID, "panic", r)
			entries = []schedule.Entry{}
		}
	}()
	return schedule.Extract(wf)
}

// lockedCategories returns the password-protected categories wf belongs to.
func (s *WorkflowService) lockedCategories(wf *models.Workflow) []string {
	var out []string
	for category, password := range s.categories {
		if password == "" || category == CategoryTest {
			continue
		}
		if category == CategoryProjectOffice && wf.HasTag(projectOfficeTag) {
			out = append(out, category)
			continue
		}
		if matches(wf, Filter{Category: category}) {
			out = append(out, category)
		}
	}
	sort.Strings(out)
	return out
}

// unlocked reports whether the session may mutate a workflow in categories.
// One unlocked category is enough.
func (s *WorkflowService) unlocked(sess *session.Session, categories []string) bool {
	if len(categories) == 0 {
		return true
	}
	return slices.ContainsFunc(categories, sess.HasPermission)
}

// load fetches a workflow for a mutation and applies the category gate.
func (s *WorkflowService) load(ctx context.Context, sess *session.Session, id string) (*models.Workflow, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	wf, err := s.client.GetWorkflow(ctx, sess.APIKey, id)
	if err != nil {
		return nil, err
	}
	if !s.unlocked(sess, s.lockedCategories(wf)) {
		return nil, ErrForbidden
	}
	return wf, nil
}

// Schedule returns the schedule entries of a workflow.
func (s *WorkflowService) Schedule(ctx context.Context, sess *session.Session, id string) ([]schedule.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.Schedule", trace.WithAttributes(attribute.String("workflow.id", id)))
	defer span.End()

	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	wf, err := s.client.GetWorkflow(ctx, sess.APIKey, id)
	if err != nil {
		return nil, traceErr(span, err)
	}
	return s.safeExtract(wf), nil
}

// UpdateSchedule replaces the trigger schedule of a workflow and returns the
// entries read back from the upstream service.
func (s *WorkflowService) UpdateSchedule(ctx context.Context, sess *session.Session, id string, entries []schedule.Entry) ([]schedule.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.UpdateSchedule",
		trace.WithAttributes(attribute.String("workflow.id", id), attribute.Int("entries.count", len(entries))))
	defer span.End()

	normalized := make([]schedule.Entry, len(entries))
	for i, e := range entries {
		normalized[i] = schedule.Normalize(e)
	}

	wf, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, traceErr(span, fmt.Errorf("failed to update workflow schedule: %w", err))
	}
	previous := s.safeExtract(wf)

	var opts []schedule.RebuildOption
	if s.preserveModes {
		opts = append(opts, schedule.PreserveModes())
	}
	payload, err := schedule.Rebuild(wf, normalized, opts...)
	if err != nil {
		return nil, traceErr(span, fmt.Errorf("failed to update workflow schedule: %w", err))
	}
	if err := s.client.UpdateWorkflow(ctx, sess.APIKey, id, payload); err != nil {
		return nil, traceErr(span, fmt.Errorf("failed to update workflow schedule: %w", err))
	}

	result := normalized
	if confirmed, err := s.client.GetWorkflow(ctx, sess.APIKey, id); err != nil {
		s.logger.Warn("failed to re-read workflow after update", "workflow_id", id, "error", err)
	} else {
		result = s.safeExtract(confirmed)
		s.logger.Info("workflow schedule updated", "workflow_id", id, "entries", len(result))
	}

	s.record(ctx, sess, models.AuditActionUpdateSchedule, wf, previous, normalized)
	return result, nil
}

// SetActive activates or deactivates a workflow.
func (s *WorkflowService) SetActive(ctx context.Context, sess *session.Session, id string, active bool) error {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.SetActive",
		trace.WithAttributes(attribute.String("workflow.id", id), attribute.Bool("active", active)))
	defer span.End()

	wf, err := s.load(ctx, sess, id)
	if err != nil {
		return traceErr(span, err)
	}
	return traceErr(span, s.setActive(ctx, sess, wf, active))
}

// Toggle flips the active flag of a workflow and returns the new state.
func (s *WorkflowService) Toggle(ctx context.Context, sess *session.Session, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.Toggle", trace.WithAttributes(attribute.String("workflow.id", id)))
	defer span.End()

	wf, err := s.load(ctx, sess, id)
	if err != nil {
		return false, traceErr(span, err)
	}
	if err := s.setActive(ctx, sess, wf, !wf.Active); err != nil {
		return wf.Active, traceErr(span, err)
	}
	return !wf.Active, nil
}

func (s *WorkflowService) setActive(ctx context.Context, sess *session.Session, wf *models.Workflow, active bool) error {
	action := models.AuditActionActivate
	call := s.client.ActivateWorkflow
	if !active {
		action = models.AuditActionDeactivate
		call = s.client.DeactivateWorkflow
	}
	if err := call(ctx, sess.APIKey, wf.ID); err != nil {
		return err
	}
	s.record(ctx, sess, action, wf, map[string]bool{"active": wf.Active}, map[string]bool{"active": active})
	return nil
}

// Execute starts a manual run of a workflow.
func (s *WorkflowService) Execute(ctx context.Context, sess *session.Session, id string) (*models.Execution, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.Execute", trace.WithAttributes(attribute.String("workflow.id", id)))
	defer span.End()

	wf, err := s.load(ctx, sess, id)
	if err != nil {
		return nil, traceErr(span, err)
	}
	exec, err := s.client.ExecuteWorkflow(ctx, sess.APIKey, id)
	if err != nil {
		return nil, traceErr(span, err)
	}
	s.record(ctx, sess, models.AuditActionExecute, wf, nil, map[string]string{"executionId": exec.ID, "status": exec.Status})
	return exec, nil
}

// RecentAudit returns the audit entries within the retention window, newest first.
func (s *WorkflowService) RecentAudit(ctx context.Context) ([]*models.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.RecentAudit")
	defer span.End()

	entries, err := s.audit.Since(ctx, s.now().Add(-s.retention))
	if err != nil {
		return nil, traceErr(span, fmt.Errorf("failed to load audit log: %w", err))
	}
	return entries, nil
}

// record appends an audit entry. Failures are logged and never reach the caller.
func (s *WorkflowService) record(ctx context.Context, sess *session.Session, action models.AuditAction, wf *models.Workflow, oldValue, newValue any) {
	name, email := sess.Actor()
	entry := &models.AuditEntry{
		Action:       action,
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		OldValue:     rawJSON(oldValue),
		NewValue:     rawJSON(newValue),
		UserName:     name,
		UserEmail:    email,
	}
	if err := s.audit.Insert(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to write audit entry", "action", string(action), "workflow_id", wf.ID, "error", err)
	}
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
