// Package functions 经 NATS request/reply 调用平台云函数，熔断保护
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"sudooom.planverse/internal/metrics"
	appErrors "sudooom.planverse/shared/errors"
)

const subjectPrefix = "planverse.fn."

// Requester NATS 请求，*nats.Conn 满足
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Config 熔断与超时
type Config struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

// reply 云函数统一返回格式
type reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RemoteError 云函数执行失败
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("function %s failed: %s", e.Function, e.Message)
}

// Client 云函数客户端
type Client struct {
	nc      Requester
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient 创建
func NewClient(nc Requester, cfg Config, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	logger := slog.Default()

	st := gobreaker.Settings{
		Name:        "functions",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// 函数自身返回的业务错误不计入熔断
		IsSuccessful: func(err error) bool {
			var remote *RemoteError
			return err == nil || errors.As(err, &remote)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		nc:      nc,
		cfg:     cfg,
		cb:      gobreaker.NewCircuitBreaker(st),
		metrics: m,
		logger:  logger,
	}
}

// Invoke 调用云函数，payload 和 out 均为 JSON，out 可为 nil
func (c *Client) Invoke(ctx context.Context, name string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}

	res, err := c.cb.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		msg, err := c.nc.RequestWithContext(ctx, subjectPrefix+name, body)
		if err != nil {
			return nil, err
		}
		var r reply
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return nil, fmt.Errorf("decode %s reply: %w", name, err)
		}
		if !r.OK {
			return nil, &RemoteError{Function: name, Message: r.Error}
		}
		return r.Data, nil
	})
	if err != nil {
		var remote *RemoteError
		switch {
		case errors.As(err, &remote):
			c.metrics.FunctionCall(name, "error")
			return err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.metrics.FunctionCall(name, "rejected")
		default:
			c.metrics.FunctionCall(name, "failed")
		}
		c.logger.Warn("Function call failed", "function", name, "error", err)
		return appErrors.ErrFunctionUnavailable.Wrap(err)
	}
	c.metrics.FunctionCall(name, "ok")

	data, _ := res.(json.RawMessage)
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

// State 熔断器状态
func (c *Client) State() string {
	return c.cb.State().String()
}
