package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/triage-review-server/internal/audit"
	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/events"
	"github.com/triage-review-server/internal/litestore"
)

const defaultClinician = "doc-default"

type testEnv struct {
	store     *litestore.Store
	audit     *audit.SQLiteStore
	bus       *events.MemoryBus
	directory *ClinicianDirectory
	intake    *IntakeService
	router    *TaskRouter
	engine    *VerdictEngine
	observer  *recordingObserver
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func floatPtr(f float64) *float64 { return &f }

func validSubmission() domain.IntakeSubmission {
	return domain.IntakeSubmission{
		FirstName:             "Ada",
		LastName:              "Byron",
		Email:                 "ada@example.com",
		GovernmentID:          "GB-123456",
		WeightKg:              floatPtr(70),
		HeightCm:              floatPtr(175),
		ConsentDataProcessing: true,
		ConsentTreatment:      true,
	}
}

// newTestEnv wires the full pipeline on SQLite and the in-process bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	store, err := litestore.Open(filepath.Join(dir, "triage.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auditStore, err := audit.NewSQLiteStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	require.NoError(t, store.SaveClinician(context.Background(), &domain.Clinician{
		ID: "doc-house", Slug: "dr-house", DisplayName: "G. House", Active: true,
	}))

	directory, err := NewClinicianDirectory(store, defaultClinician, 16, logger)
	require.NoError(t, err)

	bus := events.NewMemoryBus(logger)
	topics := events.DefaultTopics()
	observer := &recordingObserver{}

	env := &testEnv{
		store:     store,
		audit:     auditStore,
		bus:       bus,
		directory: directory,
		observer:  observer,
		intake:    NewIntakeService(store, directory, bus, auditStore, domain.BreakerConfig{MaxRequests: 1}, topics, logger),
		router: NewTaskRouter(store, nil, bus, auditStore, domain.RoutingConfig{
			UrgentDue:   24 * time.Hour,
			StandardDue: 72 * time.Hour,
		}, topics, logger),
		engine: NewVerdictEngine(store, store, auditStore, domain.ReviewConfig{
			RequestTimeout:  2 * time.Second,
			ObserverTimeout: time.Second,
		}, logger, observer),
	}

	bus.Subscribe(topics.UrgentIntake, env.router.HandleUrgentIntake)
	bus.Subscribe(topics.TaskCompleted, env.engine.HandleTaskCompleted)
	return env
}

type recordingObserver struct {
	mu      sync.Mutex
	records []*domain.PeerReviewRecord
}

func (o *recordingObserver) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *recordingObserver) sealed() []*domain.PeerReviewRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*domain.PeerReviewRecord(nil), o.records...)
}

// mockPatientStore is a testify mock of domain.PatientStore
type mockPatientStore struct {
	mock.Mock
}

func (m *mockPatientStore) CreateIntake(ctx context.Context, record *domain.PatientRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockPatientStore) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Assessment), args.Error(1)
}

// mockClinicianStore is a testify mock of domain.ClinicianStore
type mockClinicianStore struct {
	mock.Mock
}

func (m *mockClinicianStore) GetClinicianBySlug(ctx context.Context, slug string) (*domain.Clinician, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Clinician), args.Error(1)
}

func (m *mockClinicianStore) SaveClinician(ctx context.Context, c *domain.Clinician) error {
	return m.Called(ctx, c).Error(0)
}

// mockTaskCache is a testify mock of domain.TaskListCache
type mockTaskCache struct {
	mock.Mock
}

func (m *mockTaskCache) GetTaskList(ctx context.Context, clinicianID string) ([]*domain.ReviewTask, bool, error) {
	args := m.Called(ctx, clinicianID)
	tasks, _ := args.Get(0).([]*domain.ReviewTask)
	return tasks, args.Bool(1), args.Error(2)
}

func (m *mockTaskCache) SetTaskList(ctx context.Context, clinicianID string, tasks []*domain.ReviewTask) error {
	return m.Called(ctx, clinicianID, tasks).Error(0)
}

func (m *mockTaskCache) InvalidateTaskList(ctx context.Context, clinicianID string) error {
	return m.Called(ctx, clinicianID).Error(0)
}
