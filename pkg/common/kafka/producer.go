package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Producer struct {
	writer *kafka.Writer
	now    func() time.Time
}

func NewProducer(topic string) *Producer {
	cfg := config.Load()
	return NewProducerForBrokers(cfg.KafkaBrokers, topic)
}

func NewProducerForBrokers(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}

	return &Producer{writer: writer, now: time.Now}
}

// PublishEvent writes one event. The key is the job id when data carries
// one so every event of an import lands on the same partition.
func (p *Producer) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	message, event, err := p.buildMessage(eventType, source, data)
	if err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"key":        string(message.Key),
	})
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		log.WithError(err).Error("failed to publish import event")
		return fmt.Errorf("publishing %s: %w", eventType, err)
	}
	log.WithField("topic", p.writer.Topic).Debug("import event published")
	return nil
}

func (p *Producer) buildMessage(eventType, source string, data map[string]interface{}) (kafka.Message, models.Event, error) {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: p.now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, event, fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	key := event.ID
	if jobID, ok := data["job_id"].(string); ok && jobID != "" {
		key = jobID
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(source)},
			{Key: "occurred-at", Value: []byte(event.Timestamp.Format(time.RFC3339Nano))},
		},
	}, event, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
