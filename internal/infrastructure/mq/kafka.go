package mq

import (
	"thriftledger/internal/config"
	"thriftledger/pkg/logger"

	"github.com/IBM/sarama"
)

// Publisher 消息投递接口，OutboxSender 只依赖它
type Publisher interface {
	Publish(topic, key, value string) error
}

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) *KafkaPublisher {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Version = sarama.V2_1_0_0
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1 // 幂等生产者要求

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		logger.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	logger.Info("Kafka 生产者创建成功")
	return NewKafkaPublisher(producer)
}

// Publish 发送消息到 Kafka，同一个 key 落到同一分区
func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close 关闭 Kafka 生产者
func (p *KafkaPublisher) Close() {
	if p != nil && p.producer != nil {
		if err := p.producer.Close(); err != nil {
			logger.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}
