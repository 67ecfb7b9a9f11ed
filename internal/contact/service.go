// Package contact は問い合わせフォームの受付を提供する。
// 受け付けたメッセージはキューへ送信し、workerが非同期に処理する。
package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/queue"
)

// 入力値の上限（文字数）。
const (
	MaxSubjectLength = 200
	MaxMessageLength = 5000
)

// Publisher はメッセージキューへの送信インターフェース。
type Publisher interface {
	Publish(ctx context.Context, queueName string, v any) error
}

// Sanitizer は自由記述のサニタイズインターフェース。
type Sanitizer interface {
	Text(raw string) string
}

// Request は問い合わせフォームの入力。
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Message はキューへ送信する問い合わせメッセージ。
type Message struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"` // ログイン中の送信者のみ
	CreatedAt time.Time `json:"created_at"`
}

// Service は問い合わせのサービス層。
type Service struct {
	publisher Publisher
	sanitizer Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(publisher Publisher, sanitizer Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		publisher: publisher,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit は入力を検証・サニタイズしてキューへ送信する。
// userIDはログインしていない場合は空文字列。
func (s *Service) Submit(ctx context.Context, req Request, userID string) (*Message, error) {
	msg := Message{
		Name:    s.sanitizer.Text(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Subject: s.sanitizer.Text(req.Subject),
		Message: s.sanitizer.Text(req.Message),
		UserID:  userID,
	}
	if msg.Name == "" || msg.Email == "" || msg.Subject == "" || msg.Message == "" {
		return nil, model.NewMissingFieldsError()
	}
	if addr, err := mail.ParseAddress(msg.Email); err != nil || addr.Address != msg.Email {
		return nil, model.NewInvalidEmailError(msg.Email)
	}
	if utf8.RuneCountInString(msg.Subject) > MaxSubjectLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("subject must be at most %d characters", MaxSubjectLength))
	}
	if utf8.RuneCountInString(msg.Message) > MaxMessageLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("message must be at most %d characters", MaxMessageLength))
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now().UTC()

	if err := s.publisher.Publish(ctx, queue.ContactQueue, msg); err != nil {
		s.logger.Error("問い合わせの送信に失敗しました",
			slog.String("contact_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewQueueUnavailableError()
	}

	s.logger.Info("問い合わせを受け付けました",
		slog.String("contact_id", msg.ID),
		slog.String("user_id", userID),
	)
	return &msg, nil
}

// LogHandler はキューから受け取った問い合わせを構造化ログに記録するハンドラーを返す。
// workerサブコマンドが使用する。
func LogHandler(logger *slog.Logger) queue.Handler {
	return func(_ context.Context, body []byte) error {
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("問い合わせメッセージの解析に失敗しました: %w", err)
		}
		if msg.ID == "" {
			return fmt.Errorf("問い合わせメッセージにIDがありません")
		}
		logger.Info("問い合わせを受信しました",
			slog.String("contact_id", msg.ID),
			slog.String("name", msg.Name),
			slog.String("email", msg.Email),
			slog.String("subject", msg.Subject),
			slog.Int("message_length", utf8.RuneCountInString(msg.Message)),
			slog.String("user_id", msg.UserID),
			slog.Time("created_at", msg.CreatedAt),
		)
		return nil
	}
}
