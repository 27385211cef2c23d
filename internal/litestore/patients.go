package litestore

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
)

// CreateIntake inserts the patient and its initial assessment in one transaction
func (s *Store) CreateIntake(ctx context.Context, record *domain.PatientRecord) error {
	alerts, err := encodeAlerts(record.Risk.Alerts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub := record.Submission
	_, err = tx.ExecContext(ctx, `
		INSERT INTO patients (
			id, first_name, last_name, email, phone, government_id,
			weight_kg, height_cm, bmi,
			is_pregnant, has_active_malignancy, has_pancreatitis, uses_insulin,
			consent_data_processing, consent_treatment,
			referrer_slug, clinician_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, sub.FirstName, sub.LastName, sub.Email, sub.Phone, sub.GovernmentID,
		*sub.WeightKg, *sub.HeightCm, record.BMI,
		sub.IsPregnant, sub.HasActiveMalignancy, sub.HasPancreatitis, sub.UsesInsulin,
		sub.ConsentDataProcessing, sub.ConsentTreatment,
		record.ReferrerSlug, record.ClinicianID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO assessments (id, patient_id, clinician_id, is_high_risk, alerts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.AssessmentID, record.ID, record.ClinicianID, record.Risk.IsHighRisk, alerts, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit intake: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"patient_id":    record.ID,
		"assessment_id": record.AssessmentID,
	}).Debug("Intake stored")
	return nil
}

// GetAssessment retrieves an assessment by ID
func (s *Store) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, clinician_id, is_high_risk, alerts, created_at
		FROM assessments WHERE id = ?
	`, id)

	a := &domain.Assessment{}
	var alerts string
	err := row.Scan(&a.ID, &a.PatientID, &a.ClinicianID, &a.IsHighRisk, &alerts, &a.CreatedAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("assessment not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	if a.Alerts, err = decodeAlerts(alerts); err != nil {
		return nil, err
	}
	return a, nil
}

// GetClinicianBySlug retrieves a clinician by routing slug
func (s *Store) GetClinicianBySlug(ctx context.Context, slug string) (*domain.Clinician, error) {
	c := &domain.Clinician{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, display_name, active FROM clinicians WHERE slug = ?
	`, slug).Scan(&c.ID, &c.Slug, &c.DisplayName, &c.Active)
	if isNoRows(err) {
		return nil, fmt.Errorf("clinician not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clinician: %w", err)
	}
	return c, nil
}

// SaveClinician inserts or updates a clinician
func (s *Store) SaveClinician(ctx context.Context, c *domain.Clinician) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clinicians (id, slug, display_name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			display_name = excluded.display_name,
			active = excluded.active
	`, c.ID, c.Slug, c.DisplayName, c.Active)
	if err != nil {
		return fmt.Errorf("failed to save clinician: %w", err)
	}
	return nil
}
