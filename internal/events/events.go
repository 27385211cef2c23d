// Package events carries the cross-component signals of the triage pipeline:
// urgent intakes consumed by the task router, task completions consumed by the
// verdict engine, and sealed reviews consumed by external observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triage-review-server/internal/domain"
)

// Default topic names
const (
	TopicUrgentIntake  = "intake.urgent"
	TopicTaskCompleted = "task.completed"
	TopicReviewSealed  = "review.sealed"
)

// Topics maps each signal to the topic it is published on
type Topics struct {
	UrgentIntake  string
	TaskCompleted string
	ReviewSealed  string
}

// DefaultTopics returns the built-in topic names.
func DefaultTopics() Topics {
	return Topics{
		UrgentIntake:  TopicUrgentIntake,
		TaskCompleted: TopicTaskCompleted,
		ReviewSealed:  TopicReviewSealed,
	}
}

// TopicsFromConfig fills blanks in cfg with the defaults.
func TopicsFromConfig(cfg domain.TopicsConfig) Topics {
	t := DefaultTopics()
	if cfg.UrgentIntake != "" {
		t.UrgentIntake = cfg.UrgentIntake
	}
	if cfg.TaskCompleted != "" {
		t.TaskCompleted = cfg.TaskCompleted
	}
	if cfg.ReviewSealed != "" {
		t.ReviewSealed = cfg.ReviewSealed
	}
	return t
}

// Event is the envelope written to every transport.
type Event struct {
	Topic         string          `json:"topic"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent marshals payload into a new envelope.
func NewEvent(topic, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	return Event{
		Topic:      topic,
		Key:        key,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Topic, err)
	}
	return nil
}

// Handler processes a single event
type Handler func(ctx context.Context, evt Event) error

// Publisher sends events to subscribers
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber registers handlers per topic
type Subscriber interface {
	Subscribe(topic string, handler Handler)
}

// UrgentIntake is raised by the intake service for high-risk submissions.
type UrgentIntake struct {
	PatientID    string   `json:"patient_id"`
	AssessmentID string   `json:"assessment_id"`
	SubjectName  string   `json:"subject_name"`
	ClinicianID  string   `json:"clinician_id"`
	Alerts       []string `json:"alerts"`
}

// TaskCompleted is raised when a clinician completes a review task.
type TaskCompleted struct {
	TaskID       string    `json:"task_id"`
	SubjectID    string    `json:"subject_id"`
	AssessmentID string    `json:"assessment_id,omitempty"`
	AssigneeID   string    `json:"assignee_id"`
	CompletedAt  time.Time `json:"completed_at"`
}

// ReviewSealed is raised once a peer review reaches Completed.
type ReviewSealed struct {
	RecordID     string    `json:"record_id"`
	AssessmentID string    `json:"assessment_id"`
	Verdict      int       `json:"verdict"`
	SealedBy     string    `json:"sealed_by,omitempty"`
	SealedAt     time.Time `json:"sealed_at"`
}

// NewReviewSealed builds the payload from a sealed record.
func NewReviewSealed(record *domain.PeerReviewRecord) ReviewSealed {
	payload := ReviewSealed{
		RecordID:     record.ID,
		AssessmentID: record.AssessmentID,
		SealedBy:     record.SealedBy,
	}
	if record.Verdict != nil {
		payload.Verdict = int(*record.Verdict)
	}
	if record.SealedAt != nil {
		payload.SealedAt = *record.SealedAt
	}
	return payload
}

// SealedPublisher adapts a Publisher into a domain.ReviewObserver.
type SealedPublisher struct {
	publisher Publisher
	topic     string
}

// NewSealedPublisher creates an observer that publishes sealed reviews on topic.
func NewSealedPublisher(publisher Publisher, topic string) *SealedPublisher {
	return &SealedPublisher{publisher: publisher, topic: topic}
}

// ReviewSealed implements domain.ReviewObserver
func (p *SealedPublisher) ReviewSealed(ctx context.Context, record *domain.PeerReviewRecord) error {
	evt, err := NewEvent(p.topic, record.ID, NewReviewSealed(record))
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, evt)
}
