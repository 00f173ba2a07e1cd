// Package kafka 提供了向 Kafka 发送事件的生产者。
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"marketai-go/internal/config"
	"marketai-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// Producer 以异步方式写入单个 topic，写入失败只记录日志。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者，brokers 以逗号分隔。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Errorf("写入 Kafka 失败，丢弃 %d 条消息: %v", len(messages), err)
			}
		},
	}
	log.Infof("Kafka 生产者初始化成功, topic=%s", cfg.Topic)
	return &Producer{writer: w}
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// newMessage 把 v 编码为 JSON 消息；同一个 key 的消息进入同一分区。
func newMessage(key string, v interface{}) (kafka.Message, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}, nil
}

// Publish 发送一条 JSON 消息。Async 模式下立即返回，投递结果由 Completion 记录。
func (p *Producer) Publish(ctx context.Context, key string, v interface{}) error {
	msg, err := newMessage(key, v)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close 刷新缓冲区中的消息并关闭连接。
func (p *Producer) Close() error {
	return p.writer.Close()
}
