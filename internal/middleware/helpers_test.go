package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/session"
	"github.com/hitoshi/hirescout/internal/session/sessiontest"
)

// startController はメモリ実装のバックエンドでコントローラを起動する。
// profileがnilでない場合はそのユーザーでログイン済みの状態から開始する。
func startController(t *testing.T, profile *model.Profile) *session.Controller {
	t.Helper()
	b, auth, store := sessiontest.NewBackend()
	if profile != nil {
		auth.RestoreSession(model.Identity{ID: profile.ID, Email: profile.Email})
		store.PutProfile(*profile)
	}
	ctrl := session.NewController(b, session.Options{})
	ctrl.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.WaitReady(ctx); err != nil {
		t.Fatalf("controller did not become ready: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return ctrl
}

func userProfile(id string, role model.Role) *model.Profile {
	return &model.Profile{ID: id, Email: id + "@example.com", Name: id, Role: role, PrepCount: 5}
}

// stubSource は固定のコントローラを返すControllerSource。
type stubSource struct {
	ctrl  *session.Controller
	err   error
	calls []string
}

func (s *stubSource) Get(id string) (*session.Controller, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	return s.ctrl, nil
}
