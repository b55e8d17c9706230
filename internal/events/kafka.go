/**
 * @description
 * This file implements the Kafka publisher for ledger events. Every completed
 * transfer emits one LEDGER_UPDATED event per ledger entry so downstream
 * consumers (reporting, reconciliation, analytics) can rebuild account activity
 * without reading the primary database.
 *
 * @dependencies
 * - github.com/segmentio/kafka-go: Kafka client used for the durable writer.
 * - github.com/google/uuid: Message keys for partition distribution.
 */
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/paygrid/transfer-service/internal/domain"
)

// KafkaLedgerPublisher publishes ledger events to a Kafka topic.
type KafkaLedgerPublisher struct {
	writer *kafka.Writer
}

// NewKafkaLedgerPublisher creates a writer for the given brokers and topic.
// Writes are batched with a short linger so single-transfer publishes do not
// stall the request path.
func NewKafkaLedgerPublisher(brokers []string, topic string) *KafkaLedgerPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaLedgerPublisher{writer: writer}
}

// PublishLedgerUpdated sends one message per ledger event in a single batch.
func (p *KafkaLedgerPublisher) PublishLedgerUpdated(ctx context.Context, events []domain.LedgerUpdatedEvent) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(uuid.New().String()),
			Value: payload,
			Time:  time.Now(),
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		log.Printf("level=error component=kafka_publisher msg=\"write failed\" topic=%s count=%d err=%v", p.writer.Topic, len(messages), err)
		return err
	}
	return nil
}

// Close flushes pending batches and releases the writer.
func (p *KafkaLedgerPublisher) Close() error {
	return p.writer.Close()
}
