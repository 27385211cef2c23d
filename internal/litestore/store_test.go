package litestore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-review-server/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, err := Open(filepath.Join(t.TempDir(), "triage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func floatPtr(f float64) *float64 { return &f }

func seedIntake(t *testing.T, store *Store, patientID, assessmentID string) {
	t.Helper()
	err := store.CreateIntake(context.Background(), &domain.PatientRecord{
		ID:           patientID,
		AssessmentID: assessmentID,
		Submission: domain.IntakeSubmission{
			FirstName:             "Ada",
			LastName:              "Byron",
			Email:                 "ada@example.com",
			GovernmentID:          "X-1",
			WeightKg:              floatPtr(60),
			HeightCm:              floatPtr(165),
			ConsentDataProcessing: true,
			ConsentTreatment:      true,
			ClinicalAnswers:       domain.ClinicalAnswers{IsPregnant: true},
		},
		Risk:        domain.RiskClassification{IsHighRisk: true, Alerts: []string{"Pregnancy/Breastfeeding"}},
		BMI:         22,
		ClinicianID: "doc-1",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCreateIntakeAndGetAssessment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedIntake(t, store, "p-1", "a-1")

	a, err := store.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", a.PatientID)
	assert.Equal(t, "doc-1", a.ClinicianID)
	assert.True(t, a.IsHighRisk)
	assert.Equal(t, []string{"Pregnancy/Breastfeeding"}, a.Alerts)

	_, err = store.GetAssessment(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateIntakeIsAtomic(t *testing.T) {
	store := newTestStore(t)
	seedIntake(t, store, "p-1", "a-1")

	// Same assessment ID fails on the second insert; the new patient must not persist.
	err := store.CreateIntake(context.Background(), &domain.PatientRecord{
		ID:           "p-2",
		AssessmentID: "a-1",
		Submission: domain.IntakeSubmission{
			FirstName: "B", LastName: "C", Email: "b@example.com", GovernmentID: "Y",
			WeightKg: floatPtr(70), HeightCm: floatPtr(170),
			ConsentDataProcessing: true, ConsentTreatment: true,
		},
		ClinicianID: "doc-1",
		CreatedAt:   time.Now().UTC(),
	})
	require.Error(t, err)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM patients WHERE id = 'p-2'").Scan(&count))
	assert.Zero(t, count)
}

func TestClinicians(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveClinician(ctx, &domain.Clinician{ID: "doc-1", Slug: "dr-house", DisplayName: "G. House", Active: true}))
	c, err := store.GetClinicianBySlug(ctx, "dr-house")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", c.ID)
	assert.True(t, c.Active)

	require.NoError(t, store.SaveClinician(ctx, &domain.Clinician{ID: "doc-1", Slug: "dr-house", DisplayName: "G. House", Active: false}))
	c, err = store.GetClinicianBySlug(ctx, "dr-house")
	require.NoError(t, err)
	assert.False(t, c.Active)

	_, err = store.GetClinicianBySlug(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func newTask(id, subject, assessment string, due time.Time, priority domain.TaskPriority) *domain.ReviewTask {
	return &domain.ReviewTask{
		ID:           id,
		SubjectID:    subject,
		SubjectName:  "Ada Byron",
		AssessmentID: assessment,
		AssigneeID:   "doc-1",
		Trigger:      domain.TriggerAssessmentReview,
		Priority:     priority,
		Status:       domain.TaskOpen,
		DueDate:      due,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestUpsertOpenTaskIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Hour)

	first := newTask("t-1", "p-1", "a-1", due, domain.PriorityHigh)
	created, err := store.UpsertOpenTask(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := newTask("t-2", "p-1", "a-1", due, domain.PriorityLow)
	created, err = store.UpsertOpenTask(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "t-1", second.ID)
	assert.Equal(t, domain.PriorityHigh, second.Priority)

	// A general task for the same subject is a different pair
	general := newTask("t-3", "p-1", "", due, domain.PriorityNormal)
	created, err = store.UpsertOpenTask(ctx, general)
	require.NoError(t, err)
	assert.True(t, created)

	tasks, err := store.ListOpenTasks(ctx, "doc-1", 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestUpsertOpenTaskConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Hour)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	createdCount := 0
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := newTask("t-"+string(rune('a'+i)), "p-1", "a-1", due, domain.PriorityNormal)
			created, err := store.UpsertOpenTask(ctx, task)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[i] = task.ID
			if created {
				createdCount++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCompleteTaskOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertOpenTask(ctx, newTask("t-1", "p-1", "a-1", time.Now().UTC(), domain.PriorityNormal))
	require.NoError(t, err)

	done, err := store.CompleteTask(ctx, "t-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = store.CompleteTask(ctx, "t-1", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrTaskClosed)

	_, err = store.CompleteTask(ctx, "missing", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A completed pair can be routed again as a fresh task
	created, err := store.UpsertOpenTask(ctx, newTask("t-2", "p-1", "a-1", time.Now().UTC(), domain.PriorityNormal))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestListOpenTasksOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	for _, task := range []*domain.ReviewTask{
		newTask("late", "p-1", "a-1", base.Add(48*time.Hour), domain.PriorityHigh),
		newTask("soon-low", "p-2", "a-2", base, domain.PriorityLow),
		newTask("soon-high", "p-3", "a-3", base, domain.PriorityHigh),
		newTask("mid", "p-4", "", base.Add(time.Hour), domain.PriorityNormal),
	} {
		_, err := store.UpsertOpenTask(ctx, task)
		require.NoError(t, err)
	}

	tasks, err := store.ListOpenTasks(ctx, "doc-1", 10)
	require.NoError(t, err)
	var order []string
	for _, task := range tasks {
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"soon-high", "soon-low", "mid", "late"}, order)

	other, err := store.ListOpenTasks(ctx, "doc-2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func openReview(t *testing.T, store *Store, id, assessmentID string) *domain.PeerReviewRecord {
	t.Helper()
	record := &domain.PeerReviewRecord{ID: id, AssessmentID: assessmentID, Status: domain.ReviewPending, CreatedAt: time.Now().UTC()}
	_, err := store.OpenReview(context.Background(), record)
	require.NoError(t, err)
	return record
}

func TestOpenReviewIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &domain.PeerReviewRecord{ID: "r-1", AssessmentID: "a-1", CreatedAt: time.Now().UTC()}
	created, err := store.OpenReview(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.ReviewPending, first.Status)

	again := &domain.PeerReviewRecord{ID: "r-2", AssessmentID: "a-1", CreatedAt: time.Now().UTC()}
	created, err = store.OpenReview(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r-1", again.ID)
}

func TestSealWithProposedVerdict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	openReview(t, store, "r-1", "a-1")

	applied, err := store.SetProposedVerdict(ctx, "r-1", domain.VerdictVeto)
	require.NoError(t, err)
	assert.True(t, applied)

	sealed, err := store.Seal(ctx, "r-1", nil, "doc-2", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, sealed.Status)
	require.NotNil(t, sealed.Verdict)
	assert.Equal(t, domain.VerdictVeto, *sealed.Verdict)
	assert.Equal(t, "doc-2", sealed.SealedBy)
	assert.NotNil(t, sealed.SealedAt)

	// Sealed records ignore drafts and reject a second seal
	applied, err = store.SetProposedVerdict(ctx, "r-1", domain.VerdictApprove)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = store.Seal(ctx, "r-1", domain.VerdictPtr(domain.VerdictApprove), "doc-3", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrAlreadySealed)

	current, err := store.GetReview(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictVeto, *current.Verdict)
}

func TestSealErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	openReview(t, store, "r-1", "a-1")

	_, err := store.Seal(ctx, "r-1", nil, "doc-2", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNoVerdict)

	_, err = store.Seal(ctx, "missing", domain.VerdictPtr(domain.VerdictApprove), "doc-2", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.SetProposedVerdict(ctx, "missing", domain.VerdictApprove)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Explicit verdict wins over the draft
	_, err = store.SetProposedVerdict(ctx, "r-1", domain.VerdictVeto)
	require.NoError(t, err)
	sealed, err := store.Seal(ctx, "r-1", domain.VerdictPtr(domain.VerdictNeutral), "doc-2", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictNeutral, *sealed.Verdict)
}

func TestSealConcurrentExactlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	openReview(t, store, "r-1", "a-1")

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []domain.Verdict
	sealedErrs := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := domain.Verdict(i%3 - 1)
			_, err := store.Seal(ctx, "r-1", &v, "doc", time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, v)
			case errors.Is(err, domain.ErrAlreadySealed):
				sealedErrs++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, sealedErrs)

	final, err := store.GetReview(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], *final.Verdict)
}
