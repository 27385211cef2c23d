// Package audit provides an append-only trail of triage and review actions.
// Entries are written best-effort by the services and read back per subject.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Action names a recorded state change.
type Action string

const (
	ActionIntakeAccepted    Action = "intake.accepted"
	ActionTaskRouted        Action = "task.routed"
	ActionTaskCompleted     Action = "task.completed"
	ActionReviewOpened      Action = "review.opened"
	ActionReviewVoteCast    Action = "review.vote_cast"
	ActionReviewVoteIgnored Action = "review.vote_ignored"
	ActionReviewSealed      Action = "review.sealed"
	ActionReviewSealReject  Action = "review.seal_rejected"
)

// Entry is a single audit line. Details never carry patient identity fields.
type Entry struct {
	ID            int64           `json:"id,omitempty"`
	Action        Action          `json:"action"`
	SubjectID     string          `json:"subject_id"`     // record, task or patient ID
	ActorID       string          `json:"actor_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEntry builds an entry, marshaling details when non-nil.
func NewEntry(ctx context.Context, action Action, subjectID, actorID string, details any) *Entry {
	entry := &Entry{
		Action:        action,
		SubjectID:     subjectID,
		ActorID:       actorID,
		CorrelationID: CorrelationID(ctx),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	return entry
}

// Store defines the interface for audit storage operations.
type Store interface {
	// Record appends entry and assigns its ID and CreatedAt.
	Record(ctx context.Context, entry *Entry) error

	// ListBySubject returns the entries for one subject, oldest first.
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*Entry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every entry to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Entries    []*Entry  `json:"entries"`
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

func encodeExport(writer io.Writer, entries []*Entry) error {
	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(entries),
		Entries:    entries,
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
