// Package publish emits new and changed canonical events to downstream
// consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// Change is one persisted event plus what happened to it.
type Change struct {
	Event           models.CanonicalEvent `json:"event"`
	IsNew           bool                  `json:"is_new"`
	SeverityChanged bool                  `json:"severity_changed"`
	PreviousSev     models.Severity       `json:"previous_severity,omitempty"`
	Feed            string                `json:"feed"`
	At              time.Time             `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, changes []Change) error
	Close() error
}

// Nop drops everything; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, []Change) error { return nil }
func (Nop) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes one message per change, keyed by external id so a
// given disaster always lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(changes))
	for i := range changes {
		msg, err := serializeToMessage(changes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("error publishing %d changes: %w", len(msgs), err)
	}
	p.logger.Debug("published changes", "count", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(c Change) (kafkago.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.Event.ExternalID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "feed", Value: []byte(c.Feed)},
			{Key: "disaster_type", Value: []byte(c.Event.Type)},
			{Key: "severity", Value: []byte(c.Event.Severity)},
			{Key: "is_new", Value: []byte(strconv.FormatBool(c.IsNew))},
		},
		Time: c.At,
	}, nil
}
