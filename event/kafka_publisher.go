package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.uber.org/zap"
)

// KafkaPublisher Kafka 发布接口（解耦 sarama）
type KafkaPublisher interface {
	PublishJSON(ctx context.Context, topic string, key string, payload any) error
	Close() error
}

// SaramaPublisher 基于 sarama.SyncProducer 的发布器
type SaramaPublisher struct {
	producer sarama.SyncProducer
	logger   *logger.CtxZapLogger
}

// NewSaramaPublisher 连接 broker 并创建同步生产者
func NewSaramaPublisher(cfg KafkaConfig, log *logger.CtxZapLogger) (*SaramaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewSaramaPublisherWithProducer(producer, log), nil
}

// NewSaramaPublisherWithProducer 使用已有的生产者（测试注入 mocks.SyncProducer）
func NewSaramaPublisherWithProducer(producer sarama.SyncProducer, log *logger.CtxZapLogger) *SaramaPublisher {
	if log == nil {
		log = logger.GetLogger("event")
	}
	return &SaramaPublisher{producer: producer, logger: log}
}

// PublishJSON 序列化并同步发送
func (p *SaramaPublisher) PublishJSON(ctx context.Context, topic string, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	p.logger.DebugCtx(ctx, "Kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
