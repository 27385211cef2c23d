package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
)

const taskColumns = `id, subject_id, subject_name, assessment_id, assignee_id, trigger_kind,
	priority, status, due_date, created_at, completed_at`

// TaskRepository handles review task persistence
type TaskRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *pgxpool.Pool, logger *logrus.Logger) *TaskRepository {
	return &TaskRepository{
		db:  db,
		log: logger,
	}
}

func scanTask(row pgx.Row) (*domain.ReviewTask, error) {
	var t domain.ReviewTask
	var trigger, priority, status string
	err := row.Scan(
		&t.ID, &t.SubjectID, &t.SubjectName, &t.AssessmentID, &t.AssigneeID, &trigger,
		&priority, &status, &t.DueDate, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Trigger = domain.TriggerKind(trigger)
	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.DueDate = t.DueDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	if t.CompletedAt != nil {
		at := t.CompletedAt.UTC()
		t.CompletedAt = &at
	}
	return &t, nil
}

// UpsertOpenTask inserts task unless an open task for the same pair exists
func (r *TaskRepository) UpsertOpenTask(ctx context.Context, task *domain.ReviewTask) (bool, error) {
	// The conflicting row may be completed between the insert and the lookup
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO review_tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)
			ON CONFLICT (subject_id, assessment_id) WHERE status = 'Open' DO NOTHING`,
			task.ID, task.SubjectID, task.SubjectName, task.AssessmentID, task.AssigneeID, string(task.Trigger),
			string(task.Priority), string(domain.TaskOpen), task.DueDate, task.CreatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("inserting review task: %w", err)
		}
		if tag.RowsAffected() == 1 {
			task.Status = domain.TaskOpen
			return true, nil
		}

		existing, err := scanTask(r.db.QueryRow(ctx, `
			SELECT `+taskColumns+` FROM review_tasks
			WHERE subject_id = $1 AND assessment_id = $2 AND status = 'Open'`,
			task.SubjectID, task.AssessmentID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("loading open review task: %w", err)
		}

		r.log.WithFields(logrus.Fields{
			"task_id":    existing.ID,
			"subject_id": existing.SubjectID,
		}).Debug("Open task already exists for pair")
		*task = *existing
		return false, nil
	}
	return false, fmt.Errorf("upserting review task for subject %s: conflicting task kept changing", task.SubjectID)
}

// GetTask retrieves a task by ID
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*domain.ReviewTask, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM review_tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("review task not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting review task: %w", err)
	}
	return task, nil
}

// ListOpenTasks returns open tasks assigned to assigneeID ordered by due date,
// priority and creation time
func (r *TaskRepository) ListOpenTasks(ctx context.Context, assigneeID string, limit int) ([]*domain.ReviewTask, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM review_tasks
		WHERE assignee_id = $1 AND status = 'Open'
		ORDER BY due_date ASC,
			CASE priority WHEN 'High' THEN 0 WHEN 'Normal' THEN 1 ELSE 2 END,
			created_at ASC
		LIMIT $2`, assigneeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing open tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*domain.ReviewTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask flips an open task to Completed
func (r *TaskRepository) CompleteTask(ctx context.Context, id string, at time.Time) (*domain.ReviewTask, error) {
	task, err := scanTask(r.db.QueryRow(ctx, `
		UPDATE review_tasks SET status = 'Completed', completed_at = $2
		WHERE id = $1 AND status = 'Open'
		RETURNING `+taskColumns, id, at))
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("completing review task: %w", err)
	}

	if _, err := r.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("review task %s: %w", id, domain.ErrTaskClosed)
}
