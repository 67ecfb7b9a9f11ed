// Package queue はRabbitMQへのメッセージ送受信を提供する。
// キューはすべてdurableで宣言し、メッセージは永続化モードで送信する。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ContactQueue は問い合わせメッセージのキュー名。
const ContactQueue = "contact.messages"

// ErrClosed はClose後にPublishが呼び出された場合のエラー。
var ErrClosed = errors.New("publisher is closed")

// Publisher はRabbitMQへJSONメッセージを送信する。
// 接続は最初の送信時に確立し、失敗した場合は次の送信で再接続する。
type Publisher struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

// NewPublisher はPublisherの新しいインスタンスを生成する。
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{url: url, logger: logger}
}

// Publish はvをJSONに変換してキューへ送信する。
func (p *Publisher) Publish(ctx context.Context, queueName string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connectLocked()
	if err != nil {
		return err
	}

	if err := publish(ctx, conn, queueName, body); err != nil {
		// 次回の送信で接続し直す
		_ = conn.Close()
		p.conn = nil
		p.logger.Warn("rabbitmq: publish failed",
			slog.String("queue", queueName),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (p *Publisher) connectLocked() (*amqp.Connection, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func publish(ctx context.Context, conn *amqp.Connection, queueName string, body []byte) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch, queueName); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func declare(ch *amqp.Channel, queueName string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return q, fmt.Errorf("queue declare: %w", err)
	}
	return q, nil
}

// Close は接続を閉じる。以降のPublishはErrClosedを返す。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
