package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
)

// ReviewStatusView is the authoritative state of a peer review as seen by clients.
// Locked mirrors Status and is never tracked separately.
type ReviewStatusView struct {
	RecordID     string              `json:"record_id"`
	AssessmentID string              `json:"assessment_id"`
	Status       domain.ReviewStatus `json:"status"`
	Verdict      *domain.Verdict     `json:"verdict"`
	Locked       bool                `json:"locked"`
	SealedAt     *time.Time          `json:"sealed_at,omitempty"`
}

// NewReviewStatusView projects a record for clients
func NewReviewStatusView(r *domain.PeerReviewRecord) *ReviewStatusView {
	return &ReviewStatusView{
		RecordID:     r.ID,
		AssessmentID: r.AssessmentID,
		Status:       r.Status,
		Verdict:      r.CurrentVerdict(),
		Locked:       r.IsSealed(),
		SealedAt:     r.SealedAt,
	}
}

// VerdictEngine runs the Pending -> Completed peer review state machine. The
// first successful Submit seals the record; every later mutation is rejected.
type VerdictEngine struct {
	reviews   domain.PeerReviewStore
	patients  domain.PatientStore
	observers []domain.ReviewObserver
	audit     audit.Store
	config    domain.ReviewConfig
	logger    *logrus.Logger
	now       func() time.Time

	inflight sync.WaitGroup
}

// NewVerdictEngine creates a new verdict engine. auditStore may be nil.
func NewVerdictEngine(
	reviews domain.PeerReviewStore,
	patients domain.PatientStore,
	auditStore audit.Store,
	cfg domain.ReviewConfig,
	logger *logrus.Logger,
	observers ...domain.ReviewObserver,
) *VerdictEngine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ObserverTimeout <= 0 {
		cfg.ObserverTimeout = 10 * time.Second
	}
	return &VerdictEngine{
		reviews:   reviews,
		patients:  patients,
		observers: observers,
		audit:     auditStore,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// OpenReview creates the Pending record for an assessment, or returns the existing one.
func (e *VerdictEngine) OpenReview(ctx context.Context, assessmentID, reviewerID string) (*domain.PeerReviewRecord, error) {
	assessmentID = strings.TrimSpace(assessmentID)
	if assessmentID == "" {
		return nil, domain.NewValidationError("assessment id is required", "assessment_id")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	if _, err := e.patients.GetAssessment(ctx, assessmentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("assessment", assessmentID)
		}
		return nil, fmt.Errorf("failed to load assessment %s: %w", assessmentID, err)
	}

	record := &domain.PeerReviewRecord{
		ID:           uuid.New().String(),
		AssessmentID: assessmentID,
		ReviewerID:   reviewerID,
		Status:       domain.ReviewPending,
		CreatedAt:    e.now().UTC(),
	}

	created, err := e.reviews.OpenReview(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to open peer review: %w", err)
	}

	if created {
		e.logger.WithFields(logrus.Fields(record.LogFields())).Info("Peer review opened")
		recordAudit(ctx, e.audit, e.logger, audit.NewEntry(ctx, audit.ActionReviewOpened, record.ID, reviewerID, map[string]string{
			"assessment_id": assessmentID,
		}))
	}
	return record, nil
}

// HandleTaskCompleted opens the peer review for the assessment of a completed task.
// General tasks carry no assessment and are ignored.
func (e *VerdictEngine) HandleTaskCompleted(ctx context.Context, evt events.Event) error {
	var completed events.TaskCompleted
	if err := evt.Decode(&completed); err != nil {
		return err
	}
	if completed.AssessmentID == "" {
		return nil
	}

	_, err := e.OpenReview(ctx, completed.AssessmentID, "")
	return err
}

// GetStatus returns the current status and verdict. It has no side effects.
func (e *VerdictEngine) GetStatus(ctx context.Context, recordID string) (*ReviewStatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	record, err := e.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return NewReviewStatusView(record), nil
}

// CastVote records a draft verdict. On a sealed record it is a silent no-op and
// the unchanged status is returned.
func (e *VerdictEngine) CastVote(ctx context.Context, recordID string, verdict domain.Verdict, reviewerID string) (*ReviewStatusView, error) {
	if !verdict.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("%v: %d", domain.ErrInvalidVerdict, verdict), "verdict")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	applied, err := e.reviews.SetProposedVerdict(ctx, recordID, verdict)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("peer_review", recordID)
		}
		return nil, fmt.Errorf("failed to cast vote on peer review %s: %w", recordID, err)
	}

	fields := logrus.Fields{
		"record_id": recordID,
		"verdict":   int(verdict),
	}
	if applied {
		e.logger.WithFields(fields).Info("Vote cast")
		recordAudit(ctx, e.audit, e.logger, audit.NewEntry(ctx, audit.ActionReviewVoteCast, recordID, reviewerID, map[string]int{"verdict": int(verdict)}))
	} else {
		e.logger.WithFields(fields).Debug("Vote ignored, peer review already sealed")
		recordAudit(ctx, e.audit, e.logger, audit.NewEntry(ctx, audit.ActionReviewVoteIgnored, recordID, reviewerID, map[string]int{"verdict": int(verdict)}))
	}

	record, err := e.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return NewReviewStatusView(record), nil
}

// Submit seals the record with verdict, or with the last cast draft when verdict
// is nil. Exactly one concurrent caller wins; the others get AlreadySealedError.
func (e *VerdictEngine) Submit(ctx context.Context, recordID string, verdict *domain.Verdict, reviewerID string) (*ReviewStatusView, error) {
	if verdict != nil && !verdict.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("%v: %d", domain.ErrInvalidVerdict, *verdict), "verdict")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	record, err := e.reviews.Seal(ctx, recordID, verdict, reviewerID, e.now().UTC())
	switch {
	case errors.Is(err, domain.ErrAlreadySealed):
		e.logger.WithField("record_id", recordID).Warn("Seal rejected, peer review already sealed")
		recordAudit(ctx, e.audit, e.logger, audit.NewEntry(ctx, audit.ActionReviewSealReject, recordID, reviewerID, nil))
		return nil, &domain.AlreadySealedError{RecordID: recordID}
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.NewNotFoundError("peer_review", recordID)
	case errors.Is(err, domain.ErrNoVerdict):
		return nil, domain.NewValidationError("no verdict cast or supplied", "verdict")
	case err != nil:
		return nil, fmt.Errorf("failed to seal peer review %s: %w", recordID, err)
	}

	e.logger.WithFields(logrus.Fields(record.LogFields())).Info("Peer review sealed")
	recordAudit(ctx, e.audit, e.logger, audit.NewEntry(ctx, audit.ActionReviewSealed, recordID, reviewerID, map[string]int{
		"verdict": int(*record.Verdict),
	}))

	e.notify(ctx, record)
	return NewReviewStatusView(record), nil
}

// AuditTrail returns the recorded actions for a peer review
func (e *VerdictEngine) AuditTrail(ctx context.Context, recordID string, limit int) ([]*audit.Entry, error) {
	if e.audit == nil {
		return []*audit.Entry{}, nil
	}
	if _, err := e.load(ctx, recordID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return e.audit.ListBySubject(ctx, recordID, limit)
}

// Wait blocks until in-flight observer notifications finish.
func (e *VerdictEngine) Wait() {
	e.inflight.Wait()
}

func (e *VerdictEngine) load(ctx context.Context, recordID string) (*domain.PeerReviewRecord, error) {
	record, err := e.reviews.GetReview(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("peer_review", recordID)
		}
		return nil, fmt.Errorf("failed to load peer review %s: %w", recordID, err)
	}
	return record, nil
}

// notify dispatches the sealed record to observers without blocking the caller.
func (e *VerdictEngine) notify(ctx context.Context, record *domain.PeerReviewRecord) {
	base := context.WithoutCancel(ctx)
	for _, observer := range e.observers {
		e.inflight.Add(1)
		go func(observer domain.ReviewObserver) {
			defer e.inflight.Done()

			octx, cancel := context.WithTimeout(base, e.config.ObserverTimeout)
			defer cancel()

			if err := observer.ReviewSealed(octx, record); err != nil {
				e.logger.WithFields(logrus.Fields{
					"record_id": record.ID,
					"observer":  fmt.Sprintf("%T", observer),
					"error":     err,
				}).Warn("Review observer failed")
			}
		}(observer)
	}
}
