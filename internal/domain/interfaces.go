package domain

import (
	"context"
	"time"
)

// PatientStore persists accepted intakes. CreateIntake writes the patient and its
// initial assessment atomically.
type PatientStore interface {
	CreateIntake(ctx context.Context, record *PatientRecord) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
}

// ClinicianStore resolves routing slugs to clinicians
type ClinicianStore interface {
	GetClinicianBySlug(ctx context.Context, slug string) (*Clinician, error)
	// SaveClinician inserts or updates a clinician keyed by ID.
	SaveClinician(ctx context.Context, clinician *Clinician) error
}

// TaskStore persists review tasks.
type TaskStore interface {
	// UpsertOpenTask inserts task unless an open task for the same (subject, assessment)
	// pair exists. On a no-op task is overwritten with the existing row and created is false.
	UpsertOpenTask(ctx context.Context, task *ReviewTask) (created bool, err error)
	GetTask(ctx context.Context, id string) (*ReviewTask, error)
	ListOpenTasks(ctx context.Context, assigneeID string, limit int) ([]*ReviewTask, error)
	// CompleteTask flips an open task to Completed. It returns ErrTaskClosed when the
	// task was already completed.
	CompleteTask(ctx context.Context, id string, at time.Time) (*ReviewTask, error)
}

// PeerReviewStore persists peer review records. Every mutating call is a single
// conditional write guarded by status = Pending.
type PeerReviewStore interface {
	// OpenReview creates a Pending record unless one exists for the assessment, in which
	// case record is overwritten with the existing row and created is false.
	OpenReview(ctx context.Context, record *PeerReviewRecord) (created bool, err error)
	GetReview(ctx context.Context, id string) (*PeerReviewRecord, error)
	// SetProposedVerdict stores a draft verdict. applied is false when the record is sealed.
	SetProposedVerdict(ctx context.Context, id string, verdict Verdict) (applied bool, err error)
	// Seal atomically writes the verdict and flips status to Completed. A nil verdict
	// seals the last proposed one. It returns ErrAlreadySealed, ErrNotFound or ErrNoVerdict.
	Seal(ctx context.Context, id string, verdict *Verdict, sealedBy string, at time.Time) (*PeerReviewRecord, error)
}

// ReviewObserver is notified after a record reaches Completed. Delivery is
// fire-and-forget and not part of the sealing contract.
type ReviewObserver interface {
	ReviewSealed(ctx context.Context, record *PeerReviewRecord) error
}

// TaskListCache caches per-clinician open task listings
type TaskListCache interface {
	GetTaskList(ctx context.Context, clinicianID string) ([]*ReviewTask, bool, error)
	SetTaskList(ctx context.Context, clinicianID string, tasks []*ReviewTask) error
	InvalidateTaskList(ctx context.Context, clinicianID string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
