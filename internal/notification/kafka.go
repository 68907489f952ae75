package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/schema"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// Producer 把通知写入 Kafka，按接收者分区保证同一用户有序
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建
func NewProducer(cfg KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish 发送
func (p *Producer) Publish(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(n.UserID), Value: data}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close 关闭
func (p *Producer) Close() error {
	return p.writer.Close()
}

// HandlerFunc 处理一条通知
type HandlerFunc func(ctx context.Context, n model.Notification) error

// Consumer 消费通知主题
type Consumer struct {
	reader *kafka.Reader
	handle HandlerFunc
	logger *slog.Logger
}

// NewConsumer 创建
func NewConsumer(cfg KafkaConfig, h HandlerFunc) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          cfg.Topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}),
		handle: h,
		logger: slog.Default(),
	}
}

// Run 循环读取直到 ctx 结束，处理失败的消息记录日志后仍提交
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("Failed to close kafka reader", "error", err)
		}
	}()

	cfg := c.reader.Config()
	c.logger.Info("Notification consumer started", "group", cfg.GroupID, "topic", cfg.Topic, "brokers", cfg.Brokers)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Notification consumer shutting down")
				return nil
			}
			c.logger.Error("Failed to fetch notification", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		n, err := schema.DecodeNotification(m.Value)
		if err != nil {
			c.logger.Warn("Dropping malformed notification", "offset", m.Offset, "error", err)
		} else if err := c.handle(ctx, *n); err != nil {
			c.logger.Error("Failed to handle notification", "id", n.ID, "userId", n.UserID, "error", err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to commit notification offset", "error", err)
		}
	}
}
