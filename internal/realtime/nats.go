package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	sharedConfig "sudooom.planverse/shared/config"
)

// Client NATS 客户端封装
type Client struct {
	conn      *nats.Conn
	listeners listeners
	logger    *slog.Logger
}

// NewClient 连接 NATS，断线和重连会通知到 OnStateChange 注册的回调
func NewClient(cfg sharedConfig.NATSConfig) (*Client, error) {
	c := &Client{logger: slog.Default()}

	opts := []nats.Option{
		nats.Name("planverse"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("Disconnected from NATS", "error", err)
			c.listeners.notify(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
			c.listeners.notify(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect nats: %w", err)
	}
	c.conn = conn
	return c, nil
}

// Conn 底层连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Connected 连接状态
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// OnStateChange 注册连接状态回调
func (c *Client) OnStateChange(l StateListener) func() {
	return c.listeners.add(l)
}

// Publish 发布变更
func (c *Client) Publish(ch Change) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("realtime: marshal change: %w", err)
	}
	subject := Subject(ch.Table, ch.Topic)
	if err := c.conn.Publish(subject, data); err != nil {
		c.logger.Error("Failed to publish change", "subject", subject, "error", err)
		return err
	}
	c.logger.Debug("Published change", "subject", subject, "type", ch.Type)
	return nil
}

// Subscribe 订阅某张表某个主题的变更，topic 为 "*" 时订阅整张表
func (c *Client) Subscribe(table, topic string, h Handler) (Subscription, error) {
	subject := Subject(table, topic)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ch Change
		if err := json.Unmarshal(msg.Data, &ch); err != nil {
			c.logger.Warn("Dropping malformed change", "subject", msg.Subject, "error", err)
			return
		}
		if tbl, tp, ok := parseSubject(msg.Subject); ok {
			ch.Table, ch.Topic = tbl, tp
		}
		h(ch)
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}
	return sub, nil
}
