package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const correlationHeader = "correlation_id"

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to Kafka, one topic per event type. Messages are
// keyed by Event.Key so all events for one record land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	log    *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers
func NewKafkaPublisher(brokers []string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: logger}
}

// Publish writes evt to its topic
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := toMessage(evt)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithFields(logrus.Fields{
			"topic": evt.Topic,
			"key":   evt.Key,
			"error": err,
		}).Error("Failed to publish event")
		return fmt.Errorf("publishing to %s: %w", evt.Topic, err)
	}

	p.log.WithFields(logrus.Fields{
		"topic": evt.Topic,
		"key":   evt.Key,
	}).Debug("Event published")
	return nil
}

// Close flushes pending writes
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(evt Event) (kafka.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event: %w", err)
	}
	msg := kafka.Message{
		Topic: evt.Topic,
		Key:   []byte(evt.Key),
		Value: body,
		Time:  evt.OccurredAt,
	}
	if evt.CorrelationID != "" {
		msg.Headers = []kafka.Header{{Key: correlationHeader, Value: []byte(evt.CorrelationID)}}
	}
	return msg, nil
}

func fromMessage(msg kafka.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return Event{}, fmt.Errorf("decoding message at %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if evt.Topic == "" {
		evt.Topic = msg.Topic
	}
	return evt, nil
}

// messageReader is the subset of *kafka.Reader used by KafkaSubscriber
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber consumes topics through a consumer group and dispatches each
// message to the handlers registered for its topic.
type KafkaSubscriber struct {
	brokers   []string
	groupID   string
	log       *logrus.Logger
	newReader func(topic string) messageReader

	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewKafkaSubscriber creates a subscriber bound to a consumer group
func NewKafkaSubscriber(brokers []string, groupID string, logger *logrus.Logger) *KafkaSubscriber {
	s := &KafkaSubscriber{
		brokers:  brokers,
		groupID:  groupID,
		log:      logger,
		handlers: make(map[string][]Handler),
	}
	s.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  s.brokers,
			GroupID:  s.groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}
	return s
}

// Subscribe registers handler for topic. Must be called before Run.
func (s *KafkaSubscriber) Subscribe(topic string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], handler)
}

// Run consumes every subscribed topic until ctx is cancelled.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	s.mu.Lock()
	topics := make(map[string][]Handler, len(s.handlers))
	for topic, hs := range s.handlers {
		topics[topic] = append([]Handler(nil), hs...)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for topic, handlers := range topics {
		reader := s.newReader(topic)
		wg.Add(1)
		go func(topic string, reader messageReader, handlers []Handler) {
			defer wg.Done()
			defer reader.Close()
			s.consume(ctx, topic, reader, handlers)
		}(topic, reader, handlers)
	}

	s.log.WithFields(logrus.Fields{
		"group_id": s.groupID,
		"topics":   len(topics),
	}).Info("Kafka subscriber started")

	wg.Wait()
	return ctx.Err()
}

func (s *KafkaSubscriber) consume(ctx context.Context, topic string, reader messageReader, handlers []Handler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			s.log.WithFields(logrus.Fields{
				"topic": topic,
				"error": err,
			}).Error("Failed to fetch message")
			continue
		}

		evt, err := fromMessage(msg)
		if err != nil {
			s.log.WithField("error", err).Warn("Skipping undecodable message")
		} else {
			for _, h := range handlers {
				if herr := h(ctx, evt); herr != nil {
					// handlers are idempotent, failed messages are still committed
					s.log.WithFields(logrus.Fields{
						"topic":  topic,
						"key":    evt.Key,
						"offset": msg.Offset,
						"error":  herr,
					}).Error("Event handler failed")
				}
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.log.WithFields(logrus.Fields{
				"topic":  topic,
				"offset": msg.Offset,
				"error":  err,
			}).Warn("Failed to commit offset")
		}
	}
}
