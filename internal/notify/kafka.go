package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// KafkaDispatcher publishes donation events to a Kafka topic
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafkaDispatcher wraps an existing producer. The producer must be
// configured with Return.Successes.
func NewKafkaDispatcher(producer sarama.SyncProducer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic, now: time.Now}
}

// ProducerConfig is the sarama configuration used for donation events
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	return config
}

// DialKafka connects a sync producer to brokers
func DialKafka(brokers []string, topic string) (*KafkaDispatcher, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	log.WithFields(log.Fields{
		"brokers": brokers,
		"topic":   topic,
	}).Info("Kafka producer initialized")
	return NewKafkaDispatcher(producer, topic), nil
}

// Notify implements Dispatcher. The transaction id is the message key so all
// events for one transaction land on one partition.
func (k *KafkaDispatcher) Notify(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Event{
		EventType:  EventDonationCompleted,
		EventID:    uuid.NewString(),
		OccurredAt: k.now().UTC(),
		Data:       EventData{TransactionID: transactionID},
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", EventDonationCompleted, err)
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(transactionID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("send %s event: %w", EventDonationCompleted, err)
	}

	log.WithFields(log.Fields{
		"transaction_id": transactionID,
		"topic":          k.topic,
		"partition":      partition,
		"offset":         offset,
	}).Debug("Published donation event")
	return nil
}

// Close closes the underlying producer
func (k *KafkaDispatcher) Close() error {
	return k.producer.Close()
}
