package audit

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// KafkaParams configures the audit event stream.
type KafkaParams struct {
	Brokers []string
	Topic   string
}

// Validate ensures the required params are set.
func (p KafkaParams) Validate() error {
	if len(p.Brokers) == 0 {
		return errors.New("audit: kafka brokers are required")
	}
	if p.Topic == "" {
		return errors.New("audit: kafka topic is required")
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every entry to a Kafka topic keyed by subject id, so
// the events for one record stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a publisher over a synchronous kafka-go writer.
func NewKafkaPublisher(params KafkaParams) (*KafkaPublisher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(params.Brokers...),
		Topic:        params.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish serialises the entry and writes it.
func (p *KafkaPublisher) Publish(ctx context.Context, entry Entry) error {
	if p == nil || p.writer == nil {
		return errors.New("audit: kafka publisher not initialised")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.SubjectID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
