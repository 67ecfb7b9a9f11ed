package supabase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

const (
	testAnonKey   = "anon-key"
	testJWTSecret = "super-secret-jwt-token-with-at-least-32-characters"
)

// signToken はテスト用のアクセストークンを発行する。
func signToken(t *testing.T, secret, sub, email string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// mapStorage はメモリ上のSessionStorage。
type mapStorage struct {
	mu      sync.Mutex
	data    map[string]model.AuthSession
	loadErr error
	deletes int
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: make(map[string]model.AuthSession)}
}

func (s *mapStorage) Load(_ context.Context, key string) (*model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *mapStorage) Save(_ context.Context, key string, session *model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = *session
	return nil
}

func (s *mapStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	s.deletes++
	return nil
}

func (s *mapStorage) get(key string) (model.AuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

var _ backend.SessionStorage = (*mapStorage)(nil)

// eventLog は購読したイベントを記録する。
type eventLog struct {
	mu     sync.Mutex
	events []backend.AuthEvent
	last   *model.AuthSession
}

func (l *eventLog) listener(event backend.AuthEvent, s *model.AuthSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.last = s
}

func (l *eventLog) snapshot() []backend.AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backend.AuthEvent(nil), l.events...)
}

func (l *eventLog) lastSession() *model.AuthSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}
