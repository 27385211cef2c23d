// Package repository implements the triage stores on PostgreSQL with pgx.
// Guarded state transitions are single conditional statements so concurrent
// callers race on the database row rather than on process memory.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/database"
	"github.com/triage-review-server/internal/domain"
)

// PatientRepository handles patient, assessment and clinician persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// CreateIntake inserts the patient and its initial assessment in one transaction
func (r *PatientRepository) CreateIntake(ctx context.Context, record *domain.PatientRecord) error {
	alerts := record.Risk.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	sub := record.Submission

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (
				id, first_name, last_name, email, phone, government_id,
				weight_kg, height_cm, bmi,
				is_pregnant, has_active_malignancy, has_pancreatitis, uses_insulin,
				consent_data_processing, consent_treatment,
				referrer_slug, clinician_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			record.ID, sub.FirstName, sub.LastName, sub.Email, sub.Phone, sub.GovernmentID,
			*sub.WeightKg, *sub.HeightCm, record.BMI,
			sub.IsPregnant, sub.HasActiveMalignancy, sub.HasPancreatitis, sub.UsesInsulin,
			sub.ConsentDataProcessing, sub.ConsentTreatment,
			record.ReferrerSlug, record.ClinicianID, record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting patient: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO assessments (id, patient_id, clinician_id, is_high_risk, alerts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			record.AssessmentID, record.ID, record.ClinicianID, record.Risk.IsHighRisk, alerts, record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting assessment: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": record.ID,
			"error":      err,
		}).Error("Failed to create intake")
		return fmt.Errorf("creating intake: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id":    record.ID,
		"assessment_id": record.AssessmentID,
		"high_risk":     record.Risk.IsHighRisk,
	}).Info("Intake stored")
	return nil
}

// GetAssessment retrieves an assessment by ID
func (r *PatientRepository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	var a domain.Assessment
	err := r.db.QueryRow(ctx, `
		SELECT id, patient_id, clinician_id, is_high_risk, alerts, created_at
		FROM assessments
		WHERE id = $1`, id,
	).Scan(&a.ID, &a.PatientID, &a.ClinicianID, &a.IsHighRisk, &a.Alerts, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting assessment: %w", err)
	}
	if a.Alerts == nil {
		a.Alerts = []string{}
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// GetClinicianBySlug retrieves a clinician by routing slug
func (r *PatientRepository) GetClinicianBySlug(ctx context.Context, slug string) (*domain.Clinician, error) {
	var c domain.Clinician
	err := r.db.QueryRow(ctx, `
		SELECT id, slug, display_name, active
		FROM clinicians
		WHERE slug = $1`, slug,
	).Scan(&c.ID, &c.Slug, &c.DisplayName, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("clinician not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting clinician by slug: %w", err)
	}
	return &c, nil
}

// SaveClinician inserts or updates a clinician
func (r *PatientRepository) SaveClinician(ctx context.Context, c *domain.Clinician) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO clinicians (id, slug, display_name, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			display_name = EXCLUDED.display_name,
			active = EXCLUDED.active`,
		c.ID, c.Slug, c.DisplayName, c.Active,
	)
	if err != nil {
		return fmt.Errorf("saving clinician: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"clinician_id": c.ID,
		"slug":         c.Slug,
		"active":       c.Active,
	}).Info("Clinician saved")
	return nil
}
