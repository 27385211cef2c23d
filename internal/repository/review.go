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

const reviewColumns = `id, assessment_id, reviewer_id, status, verdict, proposed_verdict,
	sealed_by, sealed_at, created_at`

// PeerReviewRepository handles peer review persistence
type PeerReviewRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPeerReviewRepository creates a new peer review repository
func NewPeerReviewRepository(db *pgxpool.Pool, logger *logrus.Logger) *PeerReviewRepository {
	return &PeerReviewRepository{
		db:  db,
		log: logger,
	}
}

func scanReview(row pgx.Row) (*domain.PeerReviewRecord, error) {
	var rec domain.PeerReviewRecord
	var status string
	var verdict, proposed *int16
	err := row.Scan(&rec.ID, &rec.AssessmentID, &rec.ReviewerID, &status, &verdict, &proposed,
		&rec.SealedBy, &rec.SealedAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.ReviewStatus(status)
	rec.Verdict = verdictFromColumn(verdict)
	rec.ProposedVerdict = verdictFromColumn(proposed)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.SealedAt != nil {
		at := rec.SealedAt.UTC()
		rec.SealedAt = &at
	}
	return &rec, nil
}

func verdictFromColumn(v *int16) *domain.Verdict {
	if v == nil {
		return nil
	}
	return domain.VerdictPtr(domain.Verdict(*v))
}

func verdictColumn(v *domain.Verdict) *int16 {
	if v == nil {
		return nil
	}
	n := int16(*v)
	return &n
}

// OpenReview creates a Pending record unless one exists for the assessment
func (r *PeerReviewRepository) OpenReview(ctx context.Context, record *domain.PeerReviewRecord) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO peer_reviews (id, assessment_id, reviewer_id, status, created_at)
		VALUES ($1, $2, $3, 'Pending', $4)
		ON CONFLICT (assessment_id) DO NOTHING`,
		record.ID, record.AssessmentID, record.ReviewerID, record.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting peer review: %w", err)
	}
	if tag.RowsAffected() == 1 {
		record.Status = domain.ReviewPending
		return true, nil
	}

	existing, err := scanReview(r.db.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM peer_reviews WHERE assessment_id = $1`, record.AssessmentID))
	if err != nil {
		return false, fmt.Errorf("loading existing peer review: %w", err)
	}
	*record = *existing
	return false, nil
}

// GetReview retrieves a peer review by ID
func (r *PeerReviewRepository) GetReview(ctx context.Context, id string) (*domain.PeerReviewRecord, error) {
	record, err := scanReview(r.db.QueryRow(ctx, `SELECT `+reviewColumns+` FROM peer_reviews WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("peer review not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting peer review: %w", err)
	}
	return record, nil
}

// SetProposedVerdict stores a draft verdict while the record is Pending
func (r *PeerReviewRepository) SetProposedVerdict(ctx context.Context, id string, verdict domain.Verdict) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE peer_reviews SET proposed_verdict = $2
		WHERE id = $1 AND status = 'Pending'`, id, int16(verdict))
	if err != nil {
		return false, fmt.Errorf("setting proposed verdict: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetReview(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Seal flips a Pending record to Completed in a single conditional update.
// Whoever's statement matches status = 'Pending' first wins; every other
// caller sees zero rows and is told why.
func (r *PeerReviewRepository) Seal(ctx context.Context, id string, verdict *domain.Verdict, sealedBy string, at time.Time) (*domain.PeerReviewRecord, error) {
	record, err := scanReview(r.db.QueryRow(ctx, `
		UPDATE peer_reviews
		SET status = 'Completed',
			verdict = COALESCE($2::smallint, proposed_verdict),
			sealed_by = $3,
			sealed_at = $4
		WHERE id = $1 AND status = 'Pending' AND COALESCE($2::smallint, proposed_verdict) IS NOT NULL
		RETURNING `+reviewColumns, id, verdictColumn(verdict), sealedBy, at))
	if err == nil {
		r.log.WithFields(logrus.Fields(record.LogFields())).Info("Peer review sealed")
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sealing peer review: %w", err)
	}

	current, err := r.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsSealed() {
		return nil, fmt.Errorf("peer review %s: %w", id, domain.ErrAlreadySealed)
	}
	return nil, fmt.Errorf("peer review %s: %w", id, domain.ErrNoVerdict)
}
