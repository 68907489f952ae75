// Package repository 基于 pgx 的数据访问，每次写入后把行变更发布到实时通道
package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.planverse/internal/realtime"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Publisher 行变更出口
type Publisher interface {
	Publish(c realtime.Change) error
}

// DB 查询接口，*pgxpool.Pool 与 pgx.Tx 都满足
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type base struct {
	db     *pgxpool.Pool
	bus    Publisher
	logger *slog.Logger
}

func newBase(db *pgxpool.Pool, bus Publisher) base {
	return base{db: db, bus: bus, logger: slog.Default()}
}

// publish 发布失败只记录日志，订阅方靠轮询和兜底拉取补齐
func (b *base) publish(typ realtime.EventType, table, topic string, record any) {
	if b.bus == nil {
		return
	}
	c, err := realtime.NewChange(typ, table, topic, record)
	if err != nil {
		b.logger.Error("Failed to encode change", "table", table, "error", err)
		return
	}
	if typ == realtime.Delete {
		c.Old = c.Record
	}
	if err := b.bus.Publish(c); err != nil {
		b.logger.Warn("Failed to publish change", "table", table, "topic", topic, "error", err)
	}
}

// inTx 在事务中执行 fn
func (b *base) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// NewPool 创建连接池并检查连通性
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
