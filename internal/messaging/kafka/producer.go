package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	producerMaxRetries  = 5
	producerSendTimeout = 10 * time.Second
)

// Producer — синхронный продюсер потока уведомлений checkout: события чеков и
// low-stock сигналы уходят в topic уведомлений, недоставленные конверты — в DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer настраивает продюсер с идемпотентной доставкой: подтверждение
// всеми in-sync репликами и ровно один запрос в полёте, чтобы уведомление о
// покупке не продублировалось при ретраях брокера.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = producerMaxRetries
	config.Producer.Timeout = producerSendTimeout
	config.Producer.Return.Successes = true
	// JSON-конверты outbox хорошо сжимаются.
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // требование идемпотентного продюсера

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует событие в JSON и отправляет его с заданным ключом.
// Ключ (ID чека или товара) фиксирует партицию: события одного агрегата
// читаются в порядке публикации.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(eventData),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает продюсер, дожидаясь отправки буферизованных сообщений.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
