// Package domain contains core business entities and types for the clinical triage
// workflow: risk classification of patient intake, review task routing, and the
// single-verdict peer review sealing protocol.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Verdict represents a reviewer's tri-state decision on a clinical assessment.
// The numeric values are part of the external contract and must not change.
type Verdict int8

const (
	VerdictVeto    Verdict = -1
	VerdictNeutral Verdict = 0
	VerdictApprove Verdict = 1
)

// ReviewStatus represents the lifecycle state of a PeerReviewRecord.
// Pending is the only mutable state; Completed is terminal.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "Pending"
	ReviewCompleted ReviewStatus = "Completed"
)

// TaskPriority represents the urgency of a ReviewTask
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "High"
	PriorityNormal TaskPriority = "Normal"
	PriorityLow    TaskPriority = "Low"
)

// TaskStatus represents the completion state of a ReviewTask
type TaskStatus string

const (
	TaskOpen      TaskStatus = "Open"
	TaskCompleted TaskStatus = "Completed"
)

// TriggerKind identifies what caused a ReviewTask to be routed
type TriggerKind string

const (
	TriggerIntake           TriggerKind = "intake"
	TriggerAssessmentReview TriggerKind = "assessment_review"
	TriggerAssignment       TriggerKind = "assignment"
)

// Validation errors for enum parsing
var (
	ErrInvalidVerdict  = errors.New("invalid verdict")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrInvalidTrigger  = errors.New("invalid routing trigger")
)

// IsValid reports whether v is one of -1, 0 or +1.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictVeto, VerdictNeutral, VerdictApprove:
		return true
	default:
		return false
	}
}

// String returns a human-readable label for audit logs.
func (v Verdict) String() string {
	switch v {
	case VerdictVeto:
		return "reject"
	case VerdictNeutral:
		return "abstain"
	case VerdictApprove:
		return "approve"
	default:
		return fmt.Sprintf("Verdict(%d)", int8(v))
	}
}

// ParseVerdict converts a raw integer into a Verdict.
func ParseVerdict(raw int) (Verdict, error) {
	if raw < -1 || raw > 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidVerdict, raw)
	}
	return Verdict(raw), nil
}

// IsValid reports whether the status is a known lifecycle state.
func (s ReviewStatus) IsValid() bool {
	return s == ReviewPending || s == ReviewCompleted
}

// IsTerminal reports whether no further mutation is allowed.
func (s ReviewStatus) IsTerminal() bool {
	return s == ReviewCompleted
}

// String returns the string representation of the status
func (s ReviewStatus) String() string {
	return string(s)
}

// IsValid reports whether the priority is known
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank orders priorities for task listing; lower ranks sort first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// IsValid reports whether the trigger is known
func (k TriggerKind) IsValid() bool {
	switch k {
	case TriggerIntake, TriggerAssessmentReview, TriggerAssignment:
		return true
	default:
		return false
	}
}

// ClinicalAnswers holds the intake answers that drive risk classification.
type ClinicalAnswers struct {
	IsPregnant          bool `json:"is_pregnant"`
	HasActiveMalignancy bool `json:"has_active_malignancy"`
	HasPancreatitis     bool `json:"has_pancreatitis"`
	UsesInsulin         bool `json:"uses_insulin"`
}

// RiskClassification is derived from ClinicalAnswers and never persisted on its own.
// Alerts are always reported in the fixed order pregnancy, malignancy, pancreatitis, insulin.
type RiskClassification struct {
	IsHighRisk bool     `json:"is_high_risk"`
	Alerts     []string `json:"alerts"`
}

// IntakeSubmission is the structured onboarding payload for a prospective patient.
// Weight and height are pointers so that an absent value can be told apart from zero.
type IntakeSubmission struct {
	FirstName             string   `json:"first_name" validate:"required"`
	LastName              string   `json:"last_name" validate:"required"`
	Email                 string   `json:"email" validate:"required,email"`
	Phone                 string   `json:"phone,omitempty"`
	GovernmentID          string   `json:"government_id" validate:"required"`
	WeightKg              *float64 `json:"weight_kg" validate:"required,gt=0"`
	HeightCm              *float64 `json:"height_cm" validate:"required,gt=0"`
	ConsentDataProcessing bool     `json:"consent_data_processing" validate:"required"`
	ConsentTreatment      bool     `json:"consent_treatment" validate:"required"`

	ClinicalAnswers
}

// FullName returns the display name used as a task subject.
func (s IntakeSubmission) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Clinician is a referring or reviewing doctor addressable by a routing slug.
type Clinician struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

// PatientRecord is the composite record handed to storage on a successful intake.
type PatientRecord struct {
	ID           string             `json:"id"`
	AssessmentID string             `json:"assessment_id"`
	Submission   IntakeSubmission   `json:"submission"`
	Risk         RiskClassification `json:"risk"`
	BMI          float64            `json:"bmi"`
	ReferrerSlug string             `json:"referrer_slug,omitempty"`
	ClinicianID  string             `json:"clinician_id"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Assessment is the clinical assessment created alongside each accepted intake.
type Assessment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	ClinicianID string    `json:"clinician_id"`
	IsHighRisk  bool      `json:"is_high_risk"`
	Alerts      []string  `json:"alerts"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReviewTask is a unit of clinician work, optionally bound to an Assessment.
// An empty AssessmentID marks a general task.
type ReviewTask struct {
	ID           string       `json:"id"`
	SubjectID    string       `json:"subject_id"`
	SubjectName  string       `json:"subject_name"`
	AssessmentID string       `json:"assessment_id,omitempty"`
	AssigneeID   string       `json:"assignee_id"`
	Trigger      TriggerKind  `json:"trigger"`
	Priority     TaskPriority `json:"priority"`
	Status       TaskStatus   `json:"status"`
	DueDate      time.Time    `json:"due_date"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// HasAssessment reports whether assessment-based actions are allowed on the task.
func (t *ReviewTask) HasAssessment() bool {
	return t.AssessmentID != ""
}

// IsOpen reports whether the task still awaits the clinician
func (t *ReviewTask) IsOpen() bool {
	return t.Status == TaskOpen
}

// PeerReviewRecord is the object under vote. Verdict holds the sealed value and is
// only set once Status is Completed; ProposedVerdict is the mutable draft.
type PeerReviewRecord struct {
	ID              string       `json:"id"`
	AssessmentID    string       `json:"assessment_id"`
	ReviewerID      string       `json:"reviewer_id,omitempty"`
	Status          ReviewStatus `json:"status"`
	Verdict         *Verdict     `json:"verdict,omitempty"`
	ProposedVerdict *Verdict     `json:"proposed_verdict,omitempty"`
	SealedBy        string       `json:"sealed_by,omitempty"`
	SealedAt        *time.Time   `json:"sealed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// IsSealed reports whether the record reached its terminal state.
func (r *PeerReviewRecord) IsSealed() bool {
	return r.Status.IsTerminal()
}

// CurrentVerdict returns the sealed verdict once Completed, otherwise the last cast draft.
func (r *PeerReviewRecord) CurrentVerdict() *Verdict {
	if r.IsSealed() {
		return r.Verdict
	}
	return r.ProposedVerdict
}

// LogFields returns structured logging fields for audit trails.
func (r *PeerReviewRecord) LogFields() map[string]any {
	fields := map[string]any{
		"record_id":     r.ID,
		"assessment_id": r.AssessmentID,
		"status":        string(r.Status),
	}
	if v := r.CurrentVerdict(); v != nil {
		fields["verdict"] = int(*v)
	}
	return fields
}

// VerdictPtr is a helper for building records and requests.
func VerdictPtr(v Verdict) *Verdict {
	return &v
}
