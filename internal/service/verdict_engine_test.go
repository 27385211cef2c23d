package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
)

// openTestReview creates an intake and opens a peer review on its assessment.
func openTestReview(t *testing.T, env *testEnv) *domain.PeerReviewRecord {
	t.Helper()
	result, err := env.intake.Submit(context.Background(), validSubmission(), "dr-house")
	require.NoError(t, err)

	record, err := env.engine.OpenReview(context.Background(), result.AssessmentID, "doc-peer")
	require.NoError(t, err)
	return record
}

func TestOpenReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)
	assert.Equal(t, domain.ReviewPending, record.Status)

	again, err := env.engine.OpenReview(ctx, record.AssessmentID, "doc-other")
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)

	_, err = env.engine.OpenReview(ctx, "no-such-assessment", "doc-peer")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.engine.OpenReview(ctx, "", "doc-peer")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitSealsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)

	status, err := env.engine.Submit(ctx, record.ID, domain.VerdictPtr(domain.VerdictApprove), "doc-peer")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, status.Status)
	assert.True(t, status.Locked)
	require.NotNil(t, status.Verdict)
	assert.Equal(t, domain.VerdictApprove, *status.Verdict)

	for _, v := range []domain.Verdict{domain.VerdictVeto, domain.VerdictNeutral, domain.VerdictApprove} {
		_, err = env.engine.Submit(ctx, record.ID, domain.VerdictPtr(v), "doc-late")
		var sealed *domain.AlreadySealedError
		require.True(t, errors.As(err, &sealed), "expected AlreadySealedError, got %v", err)
		assert.Equal(t, record.ID, sealed.RecordID)
	}
	_, err = env.engine.Submit(ctx, record.ID, nil, "doc-late")
	assert.ErrorIs(t, err, domain.ErrAlreadySealed)

	current, err := env.engine.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictApprove, *current.Verdict)
}

func TestCastVoteThenSubmit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)

	status, err := env.engine.CastVote(ctx, record.ID, domain.VerdictApprove, "doc-peer")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPending, status.Status)
	assert.False(t, status.Locked)
	assert.Equal(t, domain.VerdictApprove, *status.Verdict)

	_, err = env.engine.CastVote(ctx, record.ID, domain.VerdictNeutral, "doc-peer")
	require.NoError(t, err)

	status, err = env.engine.Submit(ctx, record.ID, nil, "doc-peer")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictNeutral, *status.Verdict)
}

func TestCastVoteOnSealedIsSilentNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)

	_, err := env.engine.Submit(ctx, record.ID, domain.VerdictPtr(domain.VerdictVeto), "doc-peer")
	require.NoError(t, err)

	status, err := env.engine.CastVote(ctx, record.ID, domain.VerdictApprove, "doc-late")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, status.Status)
	assert.Equal(t, domain.VerdictVeto, *status.Verdict)

	entries, err := env.engine.AuditTrail(ctx, record.ID, 0)
	require.NoError(t, err)
	var actions []audit.Action
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []audit.Action{audit.ActionReviewOpened, audit.ActionReviewSealed, audit.ActionReviewVoteIgnored}, actions)
}

func TestVerdictEngineErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)

	_, err := env.engine.Submit(ctx, record.ID, nil, "doc-peer")
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"verdict"}, verr.Fields)

	_, err = env.engine.CastVote(ctx, record.ID, domain.Verdict(2), "doc-peer")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.engine.Submit(ctx, record.ID, domain.VerdictPtr(domain.Verdict(-3)), "doc-peer")
	assert.ErrorIs(t, err, domain.ErrValidation)

	var nf *domain.NotFoundError
	_, err = env.engine.GetStatus(ctx, "missing")
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)

	_, err = env.engine.CastVote(ctx, "missing", domain.VerdictApprove, "doc-peer")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.engine.Submit(ctx, "missing", domain.VerdictPtr(domain.VerdictApprove), "doc-peer")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Record untouched by the failed calls
	status, err := env.engine.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPending, status.Status)
	assert.Nil(t, status.Verdict)
}

func TestConcurrentSubmitExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record := openTestReview(t, env)

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []domain.Verdict
	rejected := 0

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v := domain.Verdict(i%3 - 1)
			_, err := env.engine.Submit(ctx, record.ID, &v, "doc-peer")

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, v)
				return
			}
			if errors.Is(err, domain.ErrAlreadySealed) {
				rejected++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, rejected)

	status, err := env.engine.GetStatus(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *status.Verdict)

	env.engine.Wait()
	assert.Len(t, env.observer.sealed(), 1, "observers are notified once")
}

type failingObserver struct{}

func (failingObserver) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	return errors.New("websocket gone")
}

type slowObserver struct{}

func (slowObserver) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestObserverFailuresDoNotAffectSeal(t *testing.T) {
	env := newTestEnv(t)
	env.engine = NewVerdictEngine(env.store, env.store, env.audit, domain.ReviewConfig{
		RequestTimeout:  time.Second,
		ObserverTimeout: 2 * time.Second,
	}, testLogger(), failingObserver{}, slowObserver{}, env.observer)
	record := openTestReview(t, env)

	start := time.Now()
	status, err := env.engine.Submit(context.Background(), record.ID, domain.VerdictPtr(domain.VerdictApprove), "doc-peer")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "submit must not wait for observers")
	assert.Equal(t, domain.ReviewCompleted, status.Status)

	env.engine.Wait()
	assert.Len(t, env.observer.sealed(), 1)
}

func TestSubmitHonoursRequestTimeout(t *testing.T) {
	env := newTestEnv(t)
	record := openTestReview(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Submit(ctx, record.ID, domain.VerdictPtr(domain.VerdictApprove), "doc-peer")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	status, err := env.engine.GetStatus(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewPending, status.Status, "no state change on an abandoned request")
}

func TestTriagePipelineEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Intake with pregnancy flagged
	sub := validSubmission()
	sub.IsPregnant = true
	intake, err := env.intake.Submit(ctx, sub, "dr-house")
	require.NoError(t, err)
	assert.True(t, intake.IsHighRisk)
	assert.Equal(t, []string{AlertPregnancy}, intake.Alerts)

	// The urgent signal routed a task bound to the new assessment
	tasks, err := env.router.ListOpenTasks(ctx, "doc-house")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, intake.AssessmentID, tasks[0].AssessmentID)
	assert.True(t, tasks[0].AssessmentEligible)

	// Completing the task opens the peer review
	_, err = env.router.CompleteTask(ctx, tasks[0].TaskID)
	require.NoError(t, err)

	record, err := env.engine.OpenReview(ctx, intake.AssessmentID, "doc-peer")
	require.NoError(t, err)
	entries, err := env.audit.ListBySubject(ctx, record.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "review was opened by the task.completed handler")

	// Reviewer vetoes and seals
	_, err = env.engine.CastVote(ctx, record.ID, domain.VerdictVeto, "doc-peer")
	require.NoError(t, err)
	status, err := env.engine.Submit(ctx, record.ID, nil, "doc-peer")
	require.NoError(t, err)

	assert.Equal(t, domain.ReviewCompleted, status.Status)
	assert.Equal(t, domain.VerdictVeto, *status.Verdict)

	env.engine.Wait()
	sealed := env.observer.sealed()
	require.Len(t, sealed, 1)
	assert.Equal(t, record.ID, sealed[0].ID)
}
