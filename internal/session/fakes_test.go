package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// --- モック定義 ---

type fakeSubscription struct {
	auth *fakeAuth
	id   int
}

func (s *fakeSubscription) Unsubscribe() {
	s.auth.mu.Lock()
	defer s.auth.mu.Unlock()
	delete(s.auth.listeners, s.id)
	s.auth.unsubscribed++
}

// fakeAuth はイベントを呼び出し元のgoroutineで同期的に配送する認証サービスのモック。
type fakeAuth struct {
	mu           sync.Mutex
	session      *model.AuthSession
	users        map[string]string // email -> password
	listeners    map[int]backend.AuthStateListener
	nextID       int
	unsubscribed int
	closed       bool

	signUpErr  error
	signOutErr error
	getSessErr error

	signUpNoUser      bool // エラーなしでユーザーを返さない
	signUpWithSession bool // サインアップと同時にログイン状態にする
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users:     make(map[string]string),
		listeners: make(map[int]backend.AuthStateListener),
	}
}

func (a *fakeAuth) GetSession(_ context.Context) (*model.AuthSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.getSessErr != nil {
		return nil, a.getSessErr
	}
	return a.session, nil
}

func (a *fakeAuth) OnAuthStateChange(listener backend.AuthStateListener) backend.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.listeners[a.nextID] = listener
	return &fakeSubscription{auth: a, id: a.nextID}
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, email, password string) error {
	a.mu.Lock()
	pw, ok := a.users[email]
	if !ok || pw != password {
		a.mu.Unlock()
		return errors.New("Invalid login credentials")
	}
	s := sessionFor("user-"+email, email)
	a.session = s
	a.mu.Unlock()

	a.emit(backend.EventSignedIn, s)
	return nil
}

func (a *fakeAuth) SignUp(_ context.Context, email, password string, metadata map[string]any) (*model.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.signUpErr != nil {
		return nil, a.signUpErr
	}
	if _, exists := a.users[email]; exists {
		return nil, errors.New("User already registered")
	}
	a.users[email] = password
	if a.signUpNoUser {
		return nil, nil
	}
	identity := &model.Identity{ID: "user-" + email, Email: email, Metadata: metadata}
	if a.signUpWithSession {
		a.session = &model.AuthSession{AccessToken: "token-" + identity.ID, User: *identity}
	}
	return identity, nil
}

func (a *fakeAuth) SignOut(_ context.Context) error {
	a.mu.Lock()
	a.session = nil
	err := a.signOutErr
	a.mu.Unlock()

	a.emit(backend.EventSignedOut, nil)
	return err
}

func (a *fakeAuth) GetUser(_ context.Context) (*model.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	u := a.session.User
	return &u, nil
}

func (a *fakeAuth) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// emit は登録済みのリスナーへ同期的にイベントを配送する。
func (a *fakeAuth) emit(event backend.AuthEvent, s *model.AuthSession) {
	a.mu.Lock()
	listeners := make([]backend.AuthStateListener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()

	for _, l := range listeners {
		l(event, s)
	}
}

func sessionFor(id, email string) *model.AuthSession {
	return &model.AuthSession{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         model.Identity{ID: id, Email: email},
	}
}

// fakeProfiles はメモリ上のprofilesテーブル。
type fakeProfiles struct {
	mu          sync.Mutex
	rows        map[string]model.Profile
	updateCalls int
	lastUpdate  time.Time

	findFn          func(ctx context.Context, id string) (*model.Profile, error)
	insertErr       error
	updateErr       error
	requiresSession bool
	insertCalls     int
}

func (p *fakeProfiles) RequiresSession() bool { return p.requiresSession }

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{rows: make(map[string]model.Profile)}
}

func (p *fakeProfiles) FindProfile(ctx context.Context, id string) (*model.Profile, error) {
	if p.findFn != nil {
		return p.findFn(ctx, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &row, nil
}

func (p *fakeProfiles) InsertProfile(_ context.Context, profile *model.Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertCalls++
	if p.insertErr != nil {
		return p.insertErr
	}
	p.rows[profile.ID] = *profile
	return nil
}

func (p *fakeProfiles) UpdateProfile(_ context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateCalls++
	if p.updateErr != nil {
		return p.updateErr
	}
	row, ok := p.rows[id]
	if !ok {
		return backend.ErrNotFound
	}
	row = row.Merge(update)
	row.UpdatedAt = updatedAt
	p.rows[id] = row
	p.lastUpdate = updatedAt
	return nil
}

func (p *fakeProfiles) ListProfiles(_ context.Context) ([]*model.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.Profile, 0, len(p.rows))
	for _, row := range p.rows {
		r := row
		out = append(out, &r)
	}
	return out, nil
}

func (p *fakeProfiles) ListPrepCounts(_ context.Context) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.rows))
	for _, row := range p.rows {
		out = append(out, row.PrepCount)
	}
	return out, nil
}

// fakeAnalytics はメモリ上のusage_analyticsテーブル。
type fakeAnalytics struct {
	mu        sync.Mutex
	events    []model.UsageEvent
	insertErr error
}

func (a *fakeAnalytics) InsertUsage(_ context.Context, event *model.UsageEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.insertErr != nil {
		return a.insertErr
	}
	a.events = append(a.events, *event)
	return nil
}

func (a *fakeAnalytics) ListRecentUsage(_ context.Context, limit int) ([]*model.UsageEventWithProfile, error) {
	return nil, nil
}

func (a *fakeAnalytics) recorded() []model.UsageEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.UsageEvent(nil), a.events...)
}

// fakeRecorder は操作結果の記録回数を数える。
type fakeRecorder struct {
	mu                sync.Mutex
	operations        map[string]int
	analyticsFailures int
}

func (r *fakeRecorder) RecordAuthOperation(operation string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operations == nil {
		r.operations = make(map[string]int)
	}
	key := operation + ":fail"
	if success {
		key = operation + ":ok"
	}
	r.operations[key]++
}

func (r *fakeRecorder) RecordProfileFetch(bool) {}

func (r *fakeRecorder) RecordAnalyticsFailure(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyticsFailures++
}

// --- compile-time interface checks ---
var _ backend.Auth = (*fakeAuth)(nil)
var _ backend.ProfileStore = (*fakeProfiles)(nil)
var _ backend.AnalyticsStore = (*fakeAnalytics)(nil)
var _ Recorder = (*fakeRecorder)(nil)
