package contact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/queue"
	"github.com/hitoshi/hirescout/internal/security"
)

type mockPublisher struct {
	err       error
	queueName string
	published []any
}

func (m *mockPublisher) Publish(_ context.Context, queueName string, v any) error {
	if m.err != nil {
		return m.err
	}
	m.queueName = queueName
	m.published = append(m.published, v)
	return nil
}

func newTestService(pub *mockPublisher) *Service {
	s := NewService(pub, security.NewContentSanitizer(), nil)
	s.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func validRequest() Request {
	return Request{
		Name:    "Ann",
		Email:   "ann@example.com",
		Subject: "Pricing",
		Message: "Do you offer team plans?",
	}
}

func requireAPICode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, code, apiErr.Code)
}

func TestSubmit_PublishesSanitizedMessage(t *testing.T) {
	pub := &mockPublisher{}
	req := validRequest()
	req.Message = "<b>Hi</b> there<script>steal()</script>"

	msg, err := newTestService(pub).Submit(context.Background(), req, "user-1")
	require.NoError(t, err)

	assert.Equal(t, queue.ContactQueue, pub.queueName)
	require.Len(t, pub.published, 1)
	sent := pub.published[0].(Message)
	assert.Equal(t, "Hi there", sent.Message)
	assert.Equal(t, "user-1", sent.UserID)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, *msg, sent)
}

func TestSubmit_MissingFields(t *testing.T) {
	pub := &mockPublisher{}
	s := newTestService(pub)

	for name, mutate := range map[string]func(*Request){
		"name":    func(r *Request) { r.Name = "" },
		"email":   func(r *Request) { r.Email = "  " },
		"subject": func(r *Request) { r.Subject = "<i></i>" },
		"message": func(r *Request) { r.Message = "" },
	} {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := s.Submit(context.Background(), req, "")
			requireAPICode(t, err, model.ErrCodeMissingFields)
		})
	}
	assert.Empty(t, pub.published)
}

func TestSubmit_InvalidEmail(t *testing.T) {
	s := newTestService(&mockPublisher{})
	for _, email := range []string{"not-an-email", "Ann <ann@example.com>", "ann@"} {
		req := validRequest()
		req.Email = email
		_, err := s.Submit(context.Background(), req, "")
		requireAPICode(t, err, model.ErrCodeInvalidEmail)
	}
}

func TestSubmit_TooLong(t *testing.T) {
	s := newTestService(&mockPublisher{})

	req := validRequest()
	req.Subject = strings.Repeat("あ", MaxSubjectLength+1)
	_, err := s.Submit(context.Background(), req, "")
	requireAPICode(t, err, model.ErrCodeInvalidRequest)

	req = validRequest()
	req.Message = strings.Repeat("x", MaxMessageLength+1)
	_, err = s.Submit(context.Background(), req, "")
	requireAPICode(t, err, model.ErrCodeInvalidRequest)

	req = validRequest()
	req.Subject = strings.Repeat("あ", MaxSubjectLength)
	_, err = s.Submit(context.Background(), req, "")
	assert.NoError(t, err)
}

func TestSubmit_PublishFailure_QueueUnavailable(t *testing.T) {
	pub := &mockPublisher{err: errors.New("connection refused")}
	_, err := newTestService(pub).Submit(context.Background(), validRequest(), "")
	requireAPICode(t, err, model.ErrCodeQueueUnavailable)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handle := LogHandler(logger)

	body, err := json.Marshal(Message{ID: "c-1", Name: "Ann", Email: "ann@example.com", Subject: "Hi", Message: "hello"})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), body))
	assert.Contains(t, buf.String(), `"contact_id":"c-1"`)
	assert.Contains(t, buf.String(), `"message_length":5`)

	assert.Error(t, handle(context.Background(), []byte("{broken")))
	assert.Error(t, handle(context.Background(), []byte(`{"name":"no id"}`)))
}
