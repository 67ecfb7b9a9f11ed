package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler はキューから受け取ったメッセージ本文を処理する。
// エラーを返したメッセージは再投入せずに破棄される。
type Handler func(ctx context.Context, body []byte) error

const maxBackoff = 30 * time.Second

// Consume はキューを購読し、ctxがキャンセルされるまでメッセージをhandlerに渡す。
// 接続が切れた場合は指数バックオフで再接続する。
func Consume(ctx context.Context, url, queueName string, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("rabbitmq: dial failed",
				slog.String("queue", queueName),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queueName, handler, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("rabbitmq: consume loop ended, reconnecting",
			slog.String("queue", queueName),
			slog.String("error", fmt.Sprint(err)),
		)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queueName string, handler Handler, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		logger.Warn("rabbitmq: set QoS failed", slog.String("error", err.Error()))
	}
	if _, err := declare(ch, queueName); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := handler(ctx, d.Body); err != nil {
				logger.Error("rabbitmq: handle message failed",
					slog.String("queue", queueName),
					slog.String("error", err.Error()),
				)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
