package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
)

// IntakeResult is returned for an accepted intake
type IntakeResult struct {
	PatientID    string   `json:"patient_id"`
	AssessmentID string   `json:"assessment_id"`
	ClinicianID  string   `json:"clinician_id"`
	IsHighRisk   bool     `json:"is_high_risk"`
	Alerts       []string `json:"alerts"`
	BMI          float64  `json:"bmi"`
}

// IntakeService validates patient intakes, classifies their risk and persists them.
type IntakeService struct {
	patients  domain.PatientStore
	directory *ClinicianDirectory
	publisher events.Publisher
	audit     audit.Store
	breaker   *gobreaker.CircuitBreaker
	validate  *validator.Validate
	topic     string
	logger    *logrus.Logger
	now       func() time.Time
}

// NewIntakeService creates a new intake service. publisher and auditStore may be nil.
func NewIntakeService(
	patients domain.PatientStore,
	directory *ClinicianDirectory,
	publisher events.Publisher,
	auditStore audit.Store,
	breakerCfg domain.BreakerConfig,
	topics events.Topics,
	logger *logrus.Logger,
) *IntakeService {
	return &IntakeService{
		patients:  patients,
		directory: directory,
		publisher: publisher,
		audit:     auditStore,
		breaker:   NewStoreBreaker("intake-store", breakerCfg, logger),
		validate:  newIntakeValidator(),
		topic:     topics.UrgentIntake,
		logger:    logger,
		now:       time.Now,
	}
}

// NewStoreBreaker creates a circuit breaker guarding a storage dependency
func NewStoreBreaker(name string, cfg domain.BreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 3
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

func newIntakeValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Submit validates and persists an intake. referrerSlug may be empty.
func (s *IntakeService) Submit(ctx context.Context, submission domain.IntakeSubmission, referrerSlug string) (*IntakeResult, error) {
	normalizeSubmission(&submission)

	// Step 1: Reject the whole payload if any required field is missing
	if err := s.Validate(submission); err != nil {
		return nil, err
	}

	// Step 2: Derive risk and BMI
	risk := ClassifyRisk(submission.ClinicalAnswers)
	bmi := CalculateBMI(*submission.WeightKg, *submission.HeightCm)

	// Step 3: Route to the referring clinician
	clinicianID, err := s.directory.Resolve(ctx, referrerSlug)
	if err != nil {
		return nil, s.submissionFailed(submission, referrerSlug, err)
	}

	record := &domain.PatientRecord{
		ID:           uuid.New().String(),
		AssessmentID: uuid.New().String(),
		Submission:   submission,
		Risk:         risk,
		BMI:          bmi,
		ReferrerSlug: referrerSlug,
		ClinicianID:  clinicianID,
		CreatedAt:    s.now().UTC(),
	}

	// Step 4: Persist patient and assessment together
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.patients.CreateIntake(ctx, record)
	})
	if err != nil {
		return nil, s.submissionFailed(submission, referrerSlug, err)
	}

	fields := logrus.Fields{
		"patient_id":    record.ID,
		"assessment_id": record.AssessmentID,
		"clinician_id":  clinicianID,
		"is_high_risk":  risk.IsHighRisk,
		"alerts":        risk.Alerts,
	}
	s.logger.WithFields(fields).Info("Intake accepted")

	s.record(ctx, audit.NewEntry(ctx, audit.ActionIntakeAccepted, record.ID, clinicianID, map[string]any{
		"assessment_id": record.AssessmentID,
		"is_high_risk":  risk.IsHighRisk,
		"alerts":        risk.Alerts,
	}))

	// Step 5: Signal downstream routing for high-risk patients only
	if risk.IsHighRisk {
		s.raiseUrgent(ctx, record)
	}

	return &IntakeResult{
		PatientID:    record.ID,
		AssessmentID: record.AssessmentID,
		ClinicianID:  clinicianID,
		IsHighRisk:   risk.IsHighRisk,
		Alerts:       risk.Alerts,
		BMI:          bmi,
	}, nil
}

// Validate checks every required intake field and reports all failures together.
func (s *IntakeService) Validate(submission domain.IntakeSubmission) error {
	err := s.validate.Struct(submission)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate intake: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return domain.NewValidationError("missing or invalid intake fields", fields...)
}

func (s *IntakeService) submissionFailed(submission domain.IntakeSubmission, slug string, cause error) error {
	s.logger.WithFields(logrus.Fields{
		"referrer_slug": slug,
		"error":         cause,
	}).Error("Intake submission failed")
	return &domain.SubmissionFailedError{
		Payload:      submission,
		ReferrerSlug: slug,
		Cause:        cause,
	}
}

func (s *IntakeService) raiseUrgent(ctx context.Context, record *domain.PatientRecord) {
	if s.publisher == nil {
		return
	}

	evt, err := events.NewEvent(s.topic, record.AssessmentID, events.UrgentIntake{
		PatientID:    record.ID,
		AssessmentID: record.AssessmentID,
		SubjectName:  record.Submission.FullName(),
		ClinicianID:  record.ClinicianID,
		Alerts:       record.Risk.Alerts,
	})
	if err == nil {
		evt.CorrelationID = audit.CorrelationID(ctx)
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"patient_id":    record.ID,
			"assessment_id": record.AssessmentID,
			"error":         err,
		}).Warn("Failed to raise urgent intake signal")
	}
}

func (s *IntakeService) record(ctx context.Context, entry *audit.Entry) {
	recordAudit(ctx, s.audit, s.logger, entry)
}

func normalizeSubmission(sub *domain.IntakeSubmission) {
	sub.FirstName = strings.TrimSpace(sub.FirstName)
	sub.LastName = strings.TrimSpace(sub.LastName)
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Phone = strings.TrimSpace(sub.Phone)
	sub.GovernmentID = strings.TrimSpace(sub.GovernmentID)
}

// recordAudit writes entry best-effort; failures are logged and dropped.
func recordAudit(ctx context.Context, store audit.Store, logger *logrus.Logger, entry *audit.Entry) {
	if store == nil {
		return
	}
	if err := store.Record(ctx, entry); err != nil {
		logger.WithFields(logrus.Fields{
			"action":     entry.Action,
			"subject_id": entry.SubjectID,
			"error":      err,
		}).Warn("Failed to record audit entry")
	}
}
