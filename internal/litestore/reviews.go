package litestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/triage-review-server/internal/domain"
)

const reviewColumns = `id, assessment_id, reviewer_id, status, verdict, proposed_verdict,
	sealed_by, sealed_at, created_at`

func scanReview(s scanner) (*domain.PeerReviewRecord, error) {
	r := &domain.PeerReviewRecord{}
	var status string
	var verdict, proposed sql.NullInt64
	var sealedAt sql.NullTime

	err := s.Scan(&r.ID, &r.AssessmentID, &r.ReviewerID, &status, &verdict, &proposed,
		&r.SealedBy, &sealedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Status = domain.ReviewStatus(status)
	r.Verdict = nullVerdict(verdict)
	r.ProposedVerdict = nullVerdict(proposed)
	r.SealedAt = nullTime(sealedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// OpenReview creates a Pending record unless one exists for the assessment
func (s *Store) OpenReview(ctx context.Context, record *domain.PeerReviewRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO peer_reviews (id, assessment_id, reviewer_id, status, created_at)
		VALUES (?, ?, ?, 'Pending', ?)
		ON CONFLICT (assessment_id) DO NOTHING
	`, record.ID, record.AssessmentID, record.ReviewerID, record.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert peer review: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		record.Status = domain.ReviewPending
		return true, nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM peer_reviews WHERE assessment_id = ?`, record.AssessmentID)
	existing, err := scanReview(row)
	if err != nil {
		return false, fmt.Errorf("failed to load existing peer review: %w", err)
	}
	*record = *existing
	return false, nil
}

// GetReview retrieves a peer review by ID
func (s *Store) GetReview(ctx context.Context, id string) (*domain.PeerReviewRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM peer_reviews WHERE id = ?`, id)
	record, err := scanReview(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("peer review not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer review: %w", err)
	}
	return record, nil
}

// SetProposedVerdict stores a draft verdict while the record is Pending
func (s *Store) SetProposedVerdict(ctx context.Context, id string, verdict domain.Verdict) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE peer_reviews SET proposed_verdict = ?
		WHERE id = ? AND status = 'Pending'
	`, int64(verdict), id)
	if err != nil {
		return false, fmt.Errorf("failed to set proposed verdict: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetReview(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Seal flips a Pending record to Completed in a single conditional update
func (s *Store) Seal(ctx context.Context, id string, verdict *domain.Verdict, sealedBy string, at time.Time) (*domain.PeerReviewRecord, error) {
	v := verdictArg(verdict)
	result, err := s.db.ExecContext(ctx, `
		UPDATE peer_reviews
		SET status = 'Completed',
			verdict = COALESCE(?, proposed_verdict),
			sealed_by = ?,
			sealed_at = ?
		WHERE id = ? AND status = 'Pending' AND COALESCE(?, proposed_verdict) IS NOT NULL
	`, v, sealedBy, at, id, v)
	if err != nil {
		return nil, fmt.Errorf("failed to seal peer review: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	// Completed is terminal, so the row read back is the sealed state. The
	// read must not fail on the caller's deadline once the update committed.
	current, err := s.GetReview(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	switch {
	case n == 1:
		return current, nil
	case current.IsSealed():
		return nil, fmt.Errorf("peer review %s: %w", id, domain.ErrAlreadySealed)
	default:
		return nil, fmt.Errorf("peer review %s: %w", id, domain.ErrNoVerdict)
	}
}
