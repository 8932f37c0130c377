package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// KafkaWriter publishes events to a kafka topic through a sync producer.
type KafkaWriter struct {
	producer sarama.SyncProducer
}

// NewKafkaWriter dials the brokers with base, or with a default sync-producer
// config when base is nil. The sync producer needs Return.Successes set, so
// it is forced either way.
func NewKafkaWriter(brokers []string, clientID string, version string, base *sarama.Config) (*KafkaWriter, error) {
	cfg := base
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.ClientID = clientID
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	}
	cfg.Producer.Return.Successes = true
	if version != "" {
		v, err := sarama.ParseKafkaVersion(version)
		if err != nil {
			return nil, fmt.Errorf("parsing kafka version %q: %w", version, err)
		}
		cfg.Version = v
	}

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return &KafkaWriter{producer: producer}, nil
}

func (k *KafkaWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.ID(), err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(e.ID()),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (k *KafkaWriter) Close(_ context.Context) error {
	return k.producer.Close()
}
