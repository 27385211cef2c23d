package mcp

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/service"
)

// TaskLister is the read side of the task router
type TaskLister interface {
	ListOpenTasks(ctx context.Context, clinicianID string) ([]service.TaskView, error)
}

// ReviewReader is the read side of the verdict engine
type ReviewReader interface {
	GetStatus(ctx context.Context, recordID string) (*service.ReviewStatusView, error)
}

// ClassifyRiskParams defines parameters for the classify_risk tool
type ClassifyRiskParams struct {
	domain.ClinicalAnswers
	WeightKg float64 `json:"weight_kg,omitempty"`
	HeightCm float64 `json:"height_cm,omitempty"`
}

// ClassifyRiskResult defines the result of the classify_risk tool
type ClassifyRiskResult struct {
	IsHighRisk bool     `json:"is_high_risk"`
	Alerts     []string `json:"alerts"`
	BMI        float64  `json:"bmi,omitempty"`
}

// ListOpenTasksParams defines parameters for the list_open_tasks tool
type ListOpenTasksParams struct {
	ClinicianID string `json:"clinician_id"`
}

// ListOpenTasksResult defines the result of the list_open_tasks tool
type ListOpenTasksResult struct {
	ClinicianID string             `json:"clinician_id"`
	Tasks       []service.TaskView `json:"tasks"`
}

// GetReviewStatusParams defines parameters for the get_review_status tool
type GetReviewStatusParams struct {
	RecordID string `json:"record_id"`
}

// Tools implements the read-only triage tools. Nothing here mutates state.
type Tools struct {
	tasks   TaskLister
	reviews ReviewReader
	logger  *logrus.Logger
}

// NewTools creates the tool set. tasks and reviews may be nil, in which case
// only classify_risk is registered.
func NewTools(tasks TaskLister, reviews ReviewReader, logger *logrus.Logger) *Tools {
	return &Tools{
		tasks:   tasks,
		reviews: reviews,
		logger:  logger,
	}
}

// ClassifyRisk evaluates intake answers without storing anything.
func (t *Tools) ClassifyRisk(ctx context.Context, params ClassifyRiskParams) (*ClassifyRiskResult, error) {
	if params.WeightKg < 0 || params.HeightCm < 0 {
		var fields []string
		if params.WeightKg < 0 {
			fields = append(fields, "weight_kg")
		}
		if params.HeightCm < 0 {
			fields = append(fields, "height_cm")
		}
		return nil, domain.NewValidationError("measurements must be positive", fields...)
	}

	risk := service.ClassifyRisk(params.ClinicalAnswers)
	return &ClassifyRiskResult{
		IsHighRisk: risk.IsHighRisk,
		Alerts:     risk.Alerts,
		BMI:        service.CalculateBMI(params.WeightKg, params.HeightCm),
	}, nil
}

// ListOpenTasks returns a clinician's work queue in display order.
func (t *Tools) ListOpenTasks(ctx context.Context, params ListOpenTasksParams) (*ListOpenTasksResult, error) {
	clinicianID := strings.TrimSpace(params.ClinicianID)
	tasks, err := t.tasks.ListOpenTasks(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []service.TaskView{}
	}
	return &ListOpenTasksResult{ClinicianID: clinicianID, Tasks: tasks}, nil
}

// GetReviewStatus returns the status and verdict of a peer review.
func (t *Tools) GetReviewStatus(ctx context.Context, params GetReviewStatusParams) (*service.ReviewStatusView, error) {
	recordID := strings.TrimSpace(params.RecordID)
	if recordID == "" {
		return nil, domain.NewValidationError("record id is required", "record_id")
	}
	return t.reviews.GetStatus(ctx, recordID)
}
