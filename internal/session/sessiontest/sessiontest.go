// Package sessiontest はセッションコントローラを使うパッケージのテスト用に、
// メモリ上で動作する認証サービスとテーブルストアを提供する。
//
// 認証状態の変化は呼び出し元のゴルーチンで同期的に配送されるため、
// SignInなどの操作から戻った時点でコントローラの状態は更新済みになる。
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
var ErrInvalidCredentials = errors.New("Invalid login credentials")

// ErrUserExists は登録済みのメールアドレスでサインアップした場合のエラー。
var ErrUserExists = errors.New("User already registered")

type account struct {
	identity model.Identity
	password string
}

// Auth はbackend.AuthとAccountCreatorのメモリ実装。
type Auth struct {
	mu        sync.Mutex
	accounts  map[string]*account
	session   *model.AuthSession
	listeners map[int]backend.AuthStateListener
	nextID    int
	closed    bool

	// SignOutErr が設定されている場合、SignOutはこのエラーを返す（状態はクリアする）。
	SignOutErr error
}

// NewAuth はAuthを生成する。
func NewAuth() *Auth {
	return &Auth{
		accounts:  make(map[string]*account),
		listeners: make(map[int]backend.AuthStateListener),
	}
}

// AddAccount はアカウントを登録する。
func (a *Auth) AddAccount(id, email, password string) model.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	identity := model.Identity{ID: id, Email: email}
	a.accounts[email] = &account{identity: identity, password: password}
	return identity
}

// RestoreSession は保存済みセッションがある状態を作る（Start前に呼び出す）。
func (a *Auth) RestoreSession(identity model.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = newSession(identity)
}

// Closed はCloseが呼び出されたかを返す。
func (a *Auth) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func newSession(identity model.Identity) *model.AuthSession {
	return &model.AuthSession{
		AccessToken:  "access-" + identity.ID,
		RefreshToken: "refresh-" + identity.ID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         identity,
	}
}

func (a *Auth) GetSession(context.Context) (*model.AuthSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	s := *a.session
	return &s, nil
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.release) }

func (a *Auth) OnAuthStateChange(listener backend.AuthStateListener) backend.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = listener
	return &subscription{release: func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}}
}

func (a *Auth) emit(event backend.AuthEvent, s *model.AuthSession) {
	a.mu.Lock()
	ids := make([]int, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]backend.AuthStateListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, a.listeners[id])
	}
	a.mu.Unlock()

	for _, l := range listeners {
		var copied *model.AuthSession
		if s != nil {
			c := *s
			copied = &c
		}
		l(event, copied)
	}
}

func (a *Auth) SignInWithPassword(_ context.Context, email, password string) error {
	a.mu.Lock()
	acc, ok := a.accounts[email]
	if !ok || acc.password != password {
		a.mu.Unlock()
		return ErrInvalidCredentials
	}
	a.session = newSession(acc.identity)
	s := a.session
	a.mu.Unlock()

	a.emit(backend.EventSignedIn, s)
	return nil
}

func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Identity, error) {
	identity, err := a.CreateAccount(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.session = newSession(*identity)
	s := a.session
	a.mu.Unlock()

	a.emit(backend.EventSignedIn, s)
	return identity, nil
}

// CreateAccount はログイン状態を変えずにアカウントを作成する。
func (a *Auth) CreateAccount(_ context.Context, email, password string, metadata map[string]any) (*model.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.accounts[email]; exists {
		return nil, ErrUserExists
	}
	identity := model.Identity{ID: fmt.Sprintf("user-%d", len(a.accounts)+1), Email: email, Metadata: metadata}
	a.accounts[email] = &account{identity: identity, password: password}
	return &identity, nil
}

func (a *Auth) SignOut(context.Context) error {
	a.mu.Lock()
	a.session = nil
	err := a.SignOutErr
	a.mu.Unlock()

	a.emit(backend.EventSignedOut, nil)
	return err
}

func (a *Auth) GetUser(context.Context) (*model.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	u := a.session.User
	return &u, nil
}

func (a *Auth) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Store はProfileStoreとAnalyticsStoreのメモリ実装。
type Store struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
	usage    []model.UsageEvent
}

// NewStore はStoreを生成する。
func NewStore() *Store {
	return &Store{profiles: make(map[string]model.Profile)}
}

// PutProfile はプロフィールを直接登録する。
func (s *Store) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Usage は記録された利用ログを返す。
func (s *Store) Usage() []model.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.UsageEvent(nil), s.usage...)
}

func (s *Store) FindProfile(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return &p, nil
}

func (s *Store) InsertProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; exists {
		return fmt.Errorf("duplicate key value violates unique constraint \"profiles_pkey\"")
	}
	s.profiles[p.ID] = *p
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, id string, u model.ProfileUpdate, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return backend.ErrNotFound
	}
	merged := p.Merge(u)
	merged.UpdatedAt = updatedAt
	s.profiles[id] = merged
	return nil
}

func (s *Store) ListProfiles(context.Context) ([]*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPrepCounts(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.PrepCount)
	}
	return out, nil
}

func (s *Store) InsertUsage(_ context.Context, e *model.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *e)
	return nil
}

func (s *Store) ListRecentUsage(_ context.Context, limit int) ([]*model.UsageEventWithProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.UsageEventWithProfile, 0, len(s.usage))
	for i := len(s.usage) - 1; i >= 0 && len(out) < limit; i-- {
		e := &model.UsageEventWithProfile{UsageEvent: s.usage[i]}
		if p, ok := s.profiles[e.UserID]; ok {
			e.ProfileName, e.ProfileEmail = p.Name, p.Email
		}
		out = append(out, e)
	}
	return out, nil
}

// NewBackend はメモリ実装一式を返す。
func NewBackend() (backend.Backend, *Auth, *Store) {
	auth := NewAuth()
	store := NewStore()
	return backend.Backend{
		Auth:      auth,
		Profiles:  store,
		Analytics: store,
		Accounts:  auth,
	}, auth, store
}
