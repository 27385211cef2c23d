package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/triage-review-server/internal/domain"
)

const taskColumns = `id, subject_id, subject_name, assessment_id, assignee_id, trigger_kind,
	priority, status, due_date, created_at, completed_at`

func scanTask(s scanner) (*domain.ReviewTask, error) {
	t := &domain.ReviewTask{}
	var trigger, priority, status string
	var completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.SubjectID, &t.SubjectName, &t.AssessmentID, &t.AssigneeID, &trigger,
		&priority, &status, &t.DueDate, &t.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Trigger = domain.TriggerKind(trigger)
	t.Priority = domain.TaskPriority(priority)
	t.Status = domain.TaskStatus(status)
	t.DueDate = t.DueDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.CompletedAt = nullTime(completedAt)
	return t, nil
}

// UpsertOpenTask inserts task unless an open task for the same pair exists
func (s *Store) UpsertOpenTask(ctx context.Context, task *domain.ReviewTask) (bool, error) {
	// A concurrent completion can close the conflicting row between the insert
	// and the lookup; retry in that case.
	for attempt := 0; attempt < 3; attempt++ {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO review_tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT (subject_id, assessment_id) WHERE status = 'Open' DO NOTHING
		`,
			task.ID, task.SubjectID, task.SubjectName, task.AssessmentID, task.AssigneeID, string(task.Trigger),
			string(task.Priority), string(domain.TaskOpen), task.DueDate, task.CreatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert task: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 1 {
			return true, nil
		}

		row := s.db.QueryRowContext(ctx, `
			SELECT `+taskColumns+` FROM review_tasks
			WHERE subject_id = ? AND assessment_id = ? AND status = 'Open'
		`, task.SubjectID, task.AssessmentID)
		existing, err := scanTask(row)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to load open task: %w", err)
		}
		*task = *existing
		return false, nil
	}
	return false, fmt.Errorf("failed to upsert task for subject %s: conflicting task kept changing", task.SubjectID)
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*domain.ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM review_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("review task not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListOpenTasks returns open tasks assigned to assigneeID
func (s *Store) ListOpenTasks(ctx context.Context, assigneeID string, limit int) ([]*domain.ReviewTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM review_tasks
		WHERE assignee_id = ? AND status = 'Open'
		ORDER BY due_date ASC,
			CASE priority WHEN 'High' THEN 0 WHEN 'Normal' THEN 1 ELSE 2 END,
			created_at ASC
		LIMIT ?
	`, assigneeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*domain.ReviewTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CompleteTask flips an open task to Completed
func (s *Store) CompleteTask(ctx context.Context, id string, at time.Time) (*domain.ReviewTask, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE review_tasks SET status = 'Completed', completed_at = ?
		WHERE id = ? AND status = 'Open'
	`, at, id)
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("review task %s: %w", id, domain.ErrTaskClosed)
	}
	return task, nil
}
