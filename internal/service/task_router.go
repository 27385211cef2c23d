package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
)

// RouteRequest describes a clinical-work trigger
type RouteRequest struct {
	Trigger      domain.TriggerKind  `json:"trigger"`
	SubjectID    string              `json:"subject_id"`
	SubjectName  string              `json:"subject_name"`
	AssessmentID string              `json:"assessment_id,omitempty"`
	AssigneeID   string              `json:"assignee_id"`
	Priority     domain.TaskPriority `json:"priority,omitempty"`
	DueDate      *time.Time          `json:"due_date,omitempty"`
	Urgent       bool                `json:"urgent,omitempty"`
}

// RouteResult identifies the open task for a routed pair
type RouteResult struct {
	TaskID  string `json:"task_id"`
	Created bool   `json:"created"`
}

// TaskView is a listing row. AssessmentEligible is false for general tasks.
type TaskView struct {
	TaskID             string              `json:"task_id"`
	SubjectID          string              `json:"subject_id"`
	SubjectName        string              `json:"subject_name"`
	AssessmentID       string              `json:"assessment_id,omitempty"`
	AssessmentEligible bool                `json:"assessment_eligible"`
	Priority           domain.TaskPriority `json:"priority"`
	DueDate            time.Time           `json:"due_date"`
	Trigger            domain.TriggerKind  `json:"trigger"`
}

// NewTaskView projects a task for clients
func NewTaskView(t *domain.ReviewTask) TaskView {
	return TaskView{
		TaskID:             t.ID,
		SubjectID:          t.SubjectID,
		SubjectName:        t.SubjectName,
		AssessmentID:       t.AssessmentID,
		AssessmentEligible: t.HasAssessment(),
		Priority:           t.Priority,
		DueDate:            t.DueDate,
		Trigger:            t.Trigger,
	}
}

// TaskRouter materializes review tasks and exposes per-clinician listings.
type TaskRouter struct {
	tasks     domain.TaskStore
	cache     domain.TaskListCache
	publisher events.Publisher
	audit     audit.Store
	config    domain.RoutingConfig
	topic     string
	logger    *logrus.Logger
	now       func() time.Time
}

// NewTaskRouter creates a new task router. cache, publisher and auditStore may be nil.
func NewTaskRouter(
	tasks domain.TaskStore,
	cache domain.TaskListCache,
	publisher events.Publisher,
	auditStore audit.Store,
	cfg domain.RoutingConfig,
	topics events.Topics,
	logger *logrus.Logger,
) *TaskRouter {
	if cfg.UrgentDue <= 0 {
		cfg.UrgentDue = 24 * time.Hour
	}
	if cfg.StandardDue <= 0 {
		cfg.StandardDue = 72 * time.Hour
	}
	if cfg.TaskListLimit <= 0 {
		cfg.TaskListLimit = 200
	}
	return &TaskRouter{
		tasks:     tasks,
		cache:     cache,
		publisher: publisher,
		audit:     auditStore,
		config:    cfg,
		topic:     topics.TaskCompleted,
		logger:    logger,
		now:       time.Now,
	}
}

// Route creates an open task for (subject, assessment) or returns the one already open.
func (r *TaskRouter) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if err := r.validateRoute(&req); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	task := &domain.ReviewTask{
		ID:           uuid.New().String(),
		SubjectID:    req.SubjectID,
		SubjectName:  req.SubjectName,
		AssessmentID: req.AssessmentID,
		AssigneeID:   req.AssigneeID,
		Trigger:      req.Trigger,
		Priority:     req.Priority,
		Status:       domain.TaskOpen,
		DueDate:      r.dueDate(req, now),
		CreatedAt:    now,
	}

	created, err := r.tasks.UpsertOpenTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to route task: %w", err)
	}

	fields := logrus.Fields{
		"task_id":       task.ID,
		"assessment_id": task.AssessmentID,
		"clinician_id":  task.AssigneeID,
		"trigger":       req.Trigger,
	}
	if !created {
		r.logger.WithFields(fields).Debug("Open task already exists, routing is a no-op")
		return &RouteResult{TaskID: task.ID, Created: false}, nil
	}

	fields["priority"] = task.Priority
	r.logger.WithFields(fields).Info("Review task routed")
	r.invalidate(ctx, task.AssigneeID)
	recordAudit(ctx, r.audit, r.logger, audit.NewEntry(ctx, audit.ActionTaskRouted, task.ID, task.AssigneeID, map[string]any{
		"subject_id":    task.SubjectID,
		"assessment_id": task.AssessmentID,
		"trigger":       task.Trigger,
		"priority":      task.Priority,
	}))

	return &RouteResult{TaskID: task.ID, Created: true}, nil
}

// HandleUrgentIntake routes an intake task for an urgent intake signal
func (r *TaskRouter) HandleUrgentIntake(ctx context.Context, evt events.Event) error {
	var signal events.UrgentIntake
	if err := evt.Decode(&signal); err != nil {
		return err
	}

	result, err := r.Route(ctx, RouteRequest{
		Trigger:      domain.TriggerIntake,
		SubjectID:    signal.PatientID,
		SubjectName:  signal.SubjectName,
		AssessmentID: signal.AssessmentID,
		AssigneeID:   signal.ClinicianID,
		Urgent:       true,
	})
	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":       result.TaskID,
		"assessment_id": signal.AssessmentID,
		"created":       result.Created,
	}).Debug("Urgent intake routed")
	return nil
}

// ListOpenTasks returns a clinician's open tasks ordered by due date, then
// priority, then creation time.
func (r *TaskRouter) ListOpenTasks(ctx context.Context, clinicianID string) ([]TaskView, error) {
	if strings.TrimSpace(clinicianID) == "" {
		return nil, domain.NewValidationError("clinician id is required", "clinician_id")
	}

	if r.cache != nil {
		cached, ok, err := r.cache.GetTaskList(ctx, clinicianID)
		if err != nil {
			r.logger.WithError(err).Warn("Task list cache read failed")
		} else if ok {
			return toViews(cached), nil
		}
	}

	tasks, err := r.tasks.ListOpenTasks(ctx, clinicianID, r.config.TaskListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	SortTasks(tasks)

	if r.cache != nil {
		if err := r.cache.SetTaskList(ctx, clinicianID, tasks); err != nil {
			r.logger.WithError(err).Warn("Task list cache write failed")
		}
	}
	return toViews(tasks), nil
}

// CompleteTask closes an open task exactly once and raises task.completed.
func (r *TaskRouter) CompleteTask(ctx context.Context, taskID string) (*domain.ReviewTask, error) {
	task, err := r.tasks.CompleteTask(ctx, taskID, r.now().UTC())
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":       task.ID,
		"assessment_id": task.AssessmentID,
		"clinician_id":  task.AssigneeID,
	}).Info("Review task completed")

	r.invalidate(ctx, task.AssigneeID)
	recordAudit(ctx, r.audit, r.logger, audit.NewEntry(ctx, audit.ActionTaskCompleted, task.ID, task.AssigneeID, nil))

	if r.publisher != nil {
		completedAt := r.now().UTC()
		if task.CompletedAt != nil {
			completedAt = *task.CompletedAt
		}
		evt, err := events.NewEvent(r.topic, task.ID, events.TaskCompleted{
			TaskID:       task.ID,
			SubjectID:    task.SubjectID,
			AssessmentID: task.AssessmentID,
			AssigneeID:   task.AssigneeID,
			CompletedAt:  completedAt,
		})
		if err == nil {
			evt.CorrelationID = audit.CorrelationID(ctx)
			err = r.publisher.Publish(ctx, evt)
		}
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"task_id": task.ID,
				"error":   err,
			}).Warn("Failed to publish task completion")
		}
	}

	return task, nil
}

// GetTask returns a single task
func (r *TaskRouter) GetTask(ctx context.Context, taskID string) (*domain.ReviewTask, error) {
	return r.tasks.GetTask(ctx, taskID)
}

func (r *TaskRouter) validateRoute(req *RouteRequest) error {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.AssessmentID = strings.TrimSpace(req.AssessmentID)
	req.AssigneeID = strings.TrimSpace(req.AssigneeID)

	var missing []string
	if req.SubjectID == "" {
		missing = append(missing, "subject_id")
	}
	if req.AssigneeID == "" {
		missing = append(missing, "assignee_id")
	}
	if len(missing) > 0 {
		return domain.NewValidationError("missing routing fields", missing...)
	}

	if req.Trigger == "" {
		req.Trigger = domain.TriggerAssignment
	}
	if !req.Trigger.IsValid() {
		return domain.NewValidationError(fmt.Sprintf("%v: %s", domain.ErrInvalidTrigger, req.Trigger), "trigger")
	}

	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
		if req.Urgent {
			req.Priority = domain.PriorityHigh
		}
	}
	if !req.Priority.IsValid() {
		return domain.NewValidationError(fmt.Sprintf("%v: %s", domain.ErrInvalidPriority, req.Priority), "priority")
	}
	return nil
}

func (r *TaskRouter) dueDate(req RouteRequest, now time.Time) time.Time {
	if req.DueDate != nil && !req.DueDate.IsZero() {
		return req.DueDate.UTC()
	}
	if req.Urgent || req.Priority == domain.PriorityHigh {
		return now.Add(r.config.UrgentDue)
	}
	return now.Add(r.config.StandardDue)
}

func (r *TaskRouter) invalidate(ctx context.Context, clinicianID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateTaskList(ctx, clinicianID); err != nil {
		r.logger.WithFields(logrus.Fields{
			"clinician_id": clinicianID,
			"error":        err,
		}).Warn("Task list cache invalidation failed")
	}
}

// SortTasks orders tasks by due date, priority rank, then creation time.
func SortTasks(tasks []*domain.ReviewTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func toViews(tasks []*domain.ReviewTask) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, NewTaskView(t))
	}
	return views
}
