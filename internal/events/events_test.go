package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-review-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestNewEventRoundTrip(t *testing.T) {
	evt, err := NewEvent(TopicUrgentIntake, "a-1", UrgentIntake{
		PatientID:    "p-1",
		AssessmentID: "a-1",
		Alerts:       []string{"Insulin Use"},
	})
	require.NoError(t, err)
	assert.Equal(t, TopicUrgentIntake, evt.Topic)
	assert.Equal(t, "a-1", evt.Key)
	assert.False(t, evt.OccurredAt.IsZero())

	var payload UrgentIntake
	require.NoError(t, evt.Decode(&payload))
	assert.Equal(t, "p-1", payload.PatientID)
	assert.Equal(t, []string{"Insulin Use"}, payload.Alerts)
}

func TestTopicsFromConfig(t *testing.T) {
	topics := TopicsFromConfig(domain.TopicsConfig{ReviewSealed: "custom.sealed"})
	assert.Equal(t, TopicUrgentIntake, topics.UrgentIntake)
	assert.Equal(t, TopicTaskCompleted, topics.TaskCompleted)
	assert.Equal(t, "custom.sealed", topics.ReviewSealed)
}

func TestMemoryBusDeliversToAllHandlers(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	var got []string

	bus.Subscribe("t", func(ctx context.Context, evt Event) error {
		got = append(got, "first:"+evt.Key)
		return errors.New("boom")
	})
	bus.Subscribe("t", func(ctx context.Context, evt Event) error {
		got = append(got, "second:"+evt.Key)
		return nil
	})
	bus.Subscribe("other", func(ctx context.Context, evt Event) error {
		got = append(got, "other")
		return nil
	})

	err := bus.Publish(context.Background(), Event{Topic: "t", Key: "k"})
	assert.Error(t, err)
	assert.Equal(t, []string{"first:k", "second:k"}, got)
}

func TestMemoryBusWithoutSubscribers(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	assert.NoError(t, bus.Publish(context.Background(), Event{Topic: "nobody"}))
}

func TestSealedPublisher(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	var received ReviewSealed
	bus.Subscribe(TopicReviewSealed, func(ctx context.Context, evt Event) error {
		return evt.Decode(&received)
	})

	sealedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &domain.PeerReviewRecord{
		ID:           "rec-1",
		AssessmentID: "a-1",
		Status:       domain.ReviewCompleted,
		Verdict:      domain.VerdictPtr(domain.VerdictVeto),
		SealedAt:     &sealedAt,
	}

	require.NoError(t, NewSealedPublisher(bus, TopicReviewSealed).ReviewSealed(context.Background(), record))
	assert.Equal(t, "rec-1", received.RecordID)
	assert.Equal(t, -1, received.Verdict)
	assert.True(t, received.SealedAt.Equal(sealedAt))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	writer := &fakeWriter{}
	pub := newKafkaPublisher(writer, testLogger())

	evt, err := NewEvent(TopicTaskCompleted, "task-1", TaskCompleted{TaskID: "task-1"})
	require.NoError(t, err)
	evt.CorrelationID = "corr-1"

	require.NoError(t, pub.Publish(context.Background(), evt))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, TopicTaskCompleted, msg.Topic)
	assert.Equal(t, []byte("task-1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "corr-1", string(msg.Headers[0].Value))

	decoded, err := fromMessage(msg)
	require.NoError(t, err)
	var payload TaskCompleted
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "task-1", payload.TaskID)
}

func TestKafkaPublisherError(t *testing.T) {
	pub := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, testLogger())
	err := pub.Publish(context.Background(), Event{Topic: "t", Key: "k"})
	assert.ErrorContains(t, err, "broker down")
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaSubscriberDispatchesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	sub := NewKafkaSubscriber([]string{"localhost:9092"}, "triage", testLogger())
	sub.newReader = func(topic string) messageReader { return reader }

	handled := make(chan string, 2)
	sub.Subscribe(TopicUrgentIntake, func(ctx context.Context, evt Event) error {
		handled <- evt.Key
		return errors.New("handler failure is not fatal")
	})

	evt, err := NewEvent(TopicUrgentIntake, "a-1", UrgentIntake{AssessmentID: "a-1"})
	require.NoError(t, err)
	msg, err := toMessage(evt)
	require.NoError(t, err)
	msg.Offset = 7
	reader.msgs <- msg
	reader.msgs <- kafka.Message{Topic: TopicUrgentIntake, Offset: 8, Value: []byte("not json")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case key := <-handled:
		assert.Equal(t, "a-1", key)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	assert.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return len(reader.committed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
