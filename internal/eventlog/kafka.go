package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// Kafka produces detection events onto a topic, keyed by session so one
// session's events land on one partition in order.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create Kafka producer: %w", err)
	}
	return &Kafka{producer: producer, topic: topic}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) LogEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.producer.Close() }
