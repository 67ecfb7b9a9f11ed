package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/session"
)

// fakePostgREST は匿名キーでのprofiles書き込みを行レベルセキュリティ違反として拒否する。
type fakePostgREST struct {
	mu      sync.Mutex
	inserts []*http.Request
}

func (p *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/rest/v1/profiles":
		p.mu.Lock()
		p.inserts = append(p.inserts, r.Clone(context.Background()))
		p.mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer "+testAnonKey {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"code":    "42501",
				"message": `new row violates row-level security policy for table "profiles"`,
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet && r.URL.Path == "/rest/v1/profiles":
		writeJSON(w, http.StatusNotAcceptable, map[string]any{"code": "PGRST116", "message": "no rows"})
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (p *fakePostgREST) insertRequests() []*http.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*http.Request(nil), p.inserts...)
}

// newSignUpController は認証サービスとデータAPIを同じテストサーバーで提供するコントローラを返す。
func newSignUpController(t *testing.T, g *fakeGoTrue, rest *fakePostgREST) *session.Controller {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/rest/v1/") {
			rest.ServeHTTP(w, r)
			return
		}
		g.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := Config{URL: server.URL, AnonKey: testAnonKey, JWTSecret: testJWTSecret, HTTPClient: server.Client()}
	auth, err := NewAuthClient(cfg, AuthOptions{Storage: newMapStorage(), StorageKey: "browser-1"})
	require.NoError(t, err)
	restClient, err := NewRestClient(cfg, auth)
	require.NoError(t, err)

	ctrl := session.NewController(backend.Backend{
		Auth:      auth,
		Profiles:  restClient,
		Analytics: restClient,
	}, session.Options{})
	ctrl.Start()
	t.Cleanup(ctrl.Close)
	require.NoError(t, ctrl.WaitReady(context.Background()))
	return ctrl
}

func TestSignUp_EmailConfirmationRequired_LeavesProfileToTrigger(t *testing.T) {
	g := newFakeGoTrue(t)
	g.confirmEmail = true
	rest := &fakePostgREST{}
	ctrl := newSignUpController(t, g, rest)

	res := ctrl.SignUp(context.Background(), "bob@example.com", "pw123456", "Bob")

	assert.True(t, res.Success, "error = %q", res.Error)
	assert.Empty(t, rest.insertRequests(), "セッションがない場合は匿名キーで書き込まないこと")
	assert.Nil(t, ctrl.Identity())
	assert.Nil(t, ctrl.Profile())
}

func TestSignUp_WithSession_UpsertsProfileAsUser(t *testing.T) {
	g := newFakeGoTrue(t)
	rest := &fakePostgREST{}
	ctrl := newSignUpController(t, g, rest)

	res := ctrl.SignUp(context.Background(), "bob@example.com", "pw123456", "Bob")

	require.True(t, res.Success, "error = %q", res.Error)
	inserts := rest.insertRequests()
	require.Len(t, inserts, 1)
	assert.NotEqual(t, "Bearer "+testAnonKey, inserts[0].Header.Get("Authorization"))
	assert.Equal(t, "id", inserts[0].URL.Query().Get("on_conflict"))
	assert.Contains(t, inserts[0].Header.Get("Prefer"), "resolution=merge-duplicates")

	require.Eventually(t, func() bool { return ctrl.Identity() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "uid-bob@example.com", ctrl.Identity().ID)
}

func TestRestClient_RequiresSession(t *testing.T) {
	c := newTestRestClient(t, func(http.ResponseWriter, *http.Request) {}, nil)

	var store backend.ProfileStore = c
	scoped, ok := store.(backend.SessionScoped)
	require.True(t, ok)
	assert.True(t, scoped.RequiresSession())
}
