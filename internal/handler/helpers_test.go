package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/hirescout/internal/middleware"
	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/session"
	"github.com/hitoshi/hirescout/internal/session/sessiontest"
)

// testEnv はメモリ実装のバックエンドで起動したコントローラ一式。
type testEnv struct {
	ctrl  *session.Controller
	auth  *sessiontest.Auth
	store *sessiontest.Store
}

// newTestEnv はコントローラを起動する。
// profileがnilでない場合はそのユーザーでログイン済みの状態から開始する。
func newTestEnv(t *testing.T, profile *model.Profile) *testEnv {
	t.Helper()
	b, auth, store := sessiontest.NewBackend()
	if profile != nil {
		auth.RestoreSession(model.Identity{ID: profile.ID, Email: profile.Email})
		store.PutProfile(*profile)
	}
	ctrl := session.NewController(b, session.Options{
		Now: func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) },
	})
	ctrl.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.WaitReady(ctx); err != nil {
		t.Fatalf("controller did not become ready: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return &testEnv{ctrl: ctrl, auth: auth, store: store}
}

func testProfile(id string, role model.Role) *model.Profile {
	return &model.Profile{
		ID:        id,
		Email:     id + "@example.com",
		Name:      id,
		Role:      role,
		PrepCount: model.DefaultPrepCount,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// newJSONRequest はJSONボディ付きのリクエストを生成し、コントローラをコンテキストに注入する。
func newJSONRequest(t *testing.T, ctrl *session.Controller, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ctrl != nil {
		req = req.WithContext(middleware.ContextWithController(req.Context(), "browser-1", ctrl))
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%q)", err, w.Body.String())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body
}

// stubLinks はValidateURLを常に許可し、CheckReachableは設定したエラーを返す。
type stubLinks struct {
	reachErr error
	checked  []string
}

func (s *stubLinks) ValidateURL(string) error { return nil }

func (s *stubLinks) CheckReachable(_ context.Context, rawURL string) error {
	s.checked = append(s.checked, rawURL)
	return s.reachErr
}

// staticSource は常に同じコントローラを返すControllerSource。
type staticSource struct {
	ctrl *session.Controller
}

func (s *staticSource) Get(string) (*session.Controller, error) {
	return s.ctrl, nil
}
