package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

const (
	// defaultRefreshMargin は有効期限のどれだけ前にトークンを更新するか。
	defaultRefreshMargin = 60 * time.Second
	// refreshRetryInterval は一時的な障害でトークン更新に失敗した場合の再試行間隔。
	refreshRetryInterval = 30 * time.Second
)

// tokenResponse はトークン発行エンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	RefreshToken string          `json:"refresh_token"`
	User         *model.Identity `json:"user"`
}

// signUpResponse はサインアップのレスポンス。
// メール確認が不要な場合はセッション、必要な場合はユーザーのみが返される。
type signUpResponse struct {
	tokenResponse
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata"`
}

func (r *signUpResponse) identity() *model.Identity {
	if r.User != nil {
		return r.User
	}
	if r.ID == "" {
		return nil
	}
	return &model.Identity{ID: r.ID, Email: r.Email, Metadata: r.Metadata}
}

// signUp はサインアップエンドポイントを呼び出す。
func signUp(ctx context.Context, t *transport, email, password string, metadata map[string]any) (*signUpResponse, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var resp signUpResponse
	if err := t.do(ctx, request{method: http.MethodPost, path: "/auth/v1/signup", body: body}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthOptions はAuthClientの生成オプション。
type AuthOptions struct {
	Storage       backend.SessionStorage // nilの場合はセッションを永続化しない
	StorageKey    string
	RefreshMargin time.Duration
	Now           func() time.Time
}

type listenerEntry struct {
	id       int
	listener backend.AuthStateListener
}

type pendingEvent struct {
	event   backend.AuthEvent
	session *model.AuthSession
}

// AuthClient は認証サービスのクライアント。
// 1インスタンスが1つのログイン状態を保持し、状態変化を購読者へ発生順に配送する。
// セッションはSessionStorageへ永続化され、有効期限の前に自動で更新される。
type AuthClient struct {
	t             *transport
	secret        []byte
	storage       backend.SessionStorage
	storageKey    string
	refreshMargin time.Duration
	now           func() time.Time
	logger        *slog.Logger

	loadMu    sync.Mutex
	persistMu sync.Mutex

	mu           sync.Mutex
	session      *model.AuthSession
	loaded       bool
	closed       bool
	listeners    []listenerEntry
	nextID       int
	pending      []pendingEvent
	refreshTimer *time.Timer

	wake      chan struct{}
	stop      chan struct{}
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	closeOnce sync.Once
}

var _ backend.Auth = (*AuthClient)(nil)

// NewAuthClient はAuthClientを生成し、イベント配送goroutineを開始する。
func NewAuthClient(cfg Config, opts AuthOptions) (*AuthClient, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &AuthClient{
		t:             t,
		secret:        []byte(cfg.JWTSecret),
		storage:       opts.Storage,
		storageKey:    opts.StorageKey,
		refreshMargin: opts.RefreshMargin,
		now:           opts.Now,
		logger:        t.logger,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		bgCtx:         ctx,
		bgCancel:      cancel,
	}

	go c.dispatchLoop()

	return c, nil
}

// GetSession は現在のセッションを返す。
// 初回呼び出し時にSessionStorageから復元し、期限切れの場合は更新を試みる。
func (c *AuthClient) GetSession(ctx context.Context) (*model.AuthSession, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySession(c.session), nil
}

// AccessToken は現在のアクセストークンを返す。セッションがない場合は空文字列。
func (c *AuthClient) AccessToken(ctx context.Context) (string, error) {
	s, err := c.GetSession(ctx)
	if err != nil || s == nil {
		return "", err
	}
	return s.AccessToken, nil
}

// OnAuthStateChange は認証状態の変化を購読する。
func (c *AuthClient) OnAuthStateChange(listener backend.AuthStateListener) backend.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: listener})

	return &subscription{release: func() { c.removeListener(id) }}
}

// SignInWithPassword はメールアドレスとパスワードでログインし、SIGNED_INを発行する。
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) error {
	var tr tokenResponse
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		return err
	}

	s, err := c.toSession(&tr)
	if err != nil {
		return err
	}
	c.setSession(ctx, s, backend.EventSignedIn)
	return nil
}

// SignUp はアカウントを作成する。
// レスポンスにセッションが含まれる場合はログイン状態になりSIGNED_INを発行する。
func (c *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Identity, error) {
	resp, err := signUp(ctx, c.t, email, password, metadata)
	if err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		s, err := c.toSession(&resp.tokenResponse)
		if err != nil {
			return nil, err
		}
		c.setSession(ctx, s, backend.EventSignedIn)
		user := s.User
		return &user, nil
	}
	return resp.identity(), nil
}

// SignOut はセッションを無効化する。
// 認証サービスへの通知が失敗してもローカルのセッションは破棄し、SIGNED_OUTを発行する。
func (c *AuthClient) SignOut(ctx context.Context) error {
	if err := c.ensureLoaded(ctx); err != nil {
		c.logger.Warn("ログアウト前のセッション復元に失敗しました", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	s := copySession(c.session)
	c.mu.Unlock()

	var err error
	if s != nil {
		err = c.t.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: s.AccessToken,
		}, nil)
		switch StatusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			// セッションは既に無効
			err = nil
		}
	}

	c.clearSession(ctx, backend.EventSignedOut)
	return err
}

// GetUser は現在のセッションに紐づくユーザーを認証サービスから取得する。
func (c *AuthClient) GetUser(ctx context.Context) (*model.Identity, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	var user model.Identity
	if err := c.t.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", bearer: s.AccessToken}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Close はトークン更新とイベント配送を停止する。
func (c *AuthClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.listeners = nil
		c.pending = nil
		if c.refreshTimer != nil {
			c.refreshTimer.Stop()
			c.refreshTimer = nil
		}
		c.mu.Unlock()

		close(c.stop)
		c.bgCancel()
	})
}

// ensureLoaded はSessionStorageからセッションを一度だけ復元する。
// ストレージや認証サービスの一時的な障害の場合は復元済みとせず、次回再試行する。
func (c *AuthClient) ensureLoaded(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}

	var (
		stored    *model.AuthSession
		refreshed bool
		discarded bool
	)
	if c.storage != nil {
		s, err := c.storage.Load(ctx, c.storageKey)
		if err != nil {
			return fmt.Errorf("failed to load auth session: %w", err)
		}
		stored = s
	}

	if stored != nil && stored.Expired(c.now().Add(c.refreshMargin)) {
		if stored.RefreshToken == "" {
			stored = nil
			discarded = true
		} else {
			s, err := c.refresh(ctx, stored.RefreshToken)
			switch {
			case err == nil:
				stored = s
				refreshed = true
			case isRetryable(err):
				return fmt.Errorf("failed to refresh auth session: %w", err)
			default:
				c.logger.Info("保存済みセッションの更新が拒否されたため破棄します",
					slog.String("error", err.Error()),
				)
				stored = nil
				discarded = true
			}
		}
	}

	c.mu.Lock()
	if c.loaded {
		// 復元中に別の操作がセッションを確定させた
		c.mu.Unlock()
		return nil
	}
	c.loaded = true
	c.session = stored
	c.scheduleRefreshLocked()
	if refreshed {
		c.emitLocked(backend.EventTokenRefreshed, stored)
	}
	c.mu.Unlock()

	if refreshed || discarded {
		c.persist(ctx)
	}
	return nil
}

// refresh はリフレッシュトークンで新しいセッションを取得する。
func (c *AuthClient) refresh(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	var tr tokenResponse
	err := c.t.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &tr)
	if err != nil {
		return nil, err
	}
	return c.toSession(&tr)
}

// refreshInBackground はタイマーから呼び出され、セッションを更新してTOKEN_REFRESHEDを発行する。
func (c *AuthClient) refreshInBackground() {
	c.mu.Lock()
	if c.closed || c.session == nil {
		c.mu.Unlock()
		return
	}
	refreshToken := c.session.RefreshToken
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.bgCtx, defaultTimeout)
	defer cancel()

	s, err := c.refresh(ctx, refreshToken)

	c.mu.Lock()
	if c.closed || c.session == nil || c.session.RefreshToken != refreshToken {
		// 更新中にログアウト・再ログインされた
		c.mu.Unlock()
		return
	}

	if err != nil {
		if isRetryable(err) {
			c.logger.Warn("トークンの更新に失敗しました。再試行します",
				slog.String("error", err.Error()),
			)
			c.refreshTimer = time.AfterFunc(refreshRetryInterval, c.refreshInBackground)
			c.mu.Unlock()
			return
		}
		c.logger.Info("トークンの更新が拒否されたためセッションを破棄します",
			slog.String("error", err.Error()),
		)
		c.session = nil
		c.emitLocked(backend.EventSignedOut, nil)
		c.mu.Unlock()
		c.persist(ctx)
		return
	}

	c.session = s
	c.scheduleRefreshLocked()
	c.emitLocked(backend.EventTokenRefreshed, s)
	c.mu.Unlock()
	c.persist(ctx)
}

// setSession はセッションを確定させ、イベントを発行して永続化する。
func (c *AuthClient) setSession(ctx context.Context, s *model.AuthSession, event backend.AuthEvent) {
	c.mu.Lock()
	c.session = s
	c.loaded = true
	c.scheduleRefreshLocked()
	c.emitLocked(event, s)
	c.mu.Unlock()

	c.persist(ctx)
}

// clearSession はセッションを破棄し、イベントを発行して永続化を削除する。
func (c *AuthClient) clearSession(ctx context.Context, event backend.AuthEvent) {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.scheduleRefreshLocked()
	c.emitLocked(event, nil)
	c.mu.Unlock()

	c.persist(ctx)
}

// persist は現在のセッションをSessionStorageへ書き込む。
// 呼び出し順に関わらず最新の状態が最後に書き込まれる。
func (c *AuthClient) persist(ctx context.Context) {
	if c.storage == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	s := copySession(c.session)
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var err error
	if s == nil {
		err = c.storage.Delete(ctx, c.storageKey)
	} else {
		err = c.storage.Save(ctx, c.storageKey, s)
	}
	if err != nil {
		c.logger.Error("セッションの永続化に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// scheduleRefreshLocked は現在のセッションの有効期限に合わせて更新タイマーを再設定する。
func (c *AuthClient) scheduleRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	s := c.session
	if c.closed || s == nil || s.RefreshToken == "" || s.ExpiresAt.IsZero() {
		return
	}

	delay := s.ExpiresAt.Sub(c.now()) - c.refreshMargin
	if delay < 0 {
		delay = 0
	}
	c.refreshTimer = time.AfterFunc(delay, c.refreshInBackground)
}

// toSession はトークンレスポンスからセッションを組み立てる。
// ユーザー情報がレスポンスにない場合はアクセストークンのクレームから補う。
func (c *AuthClient) toSession(tr *tokenResponse) (*model.AuthSession, error) {
	claims, err := parseAccessToken(tr.AccessToken, c.secret)
	if err != nil {
		return nil, err
	}

	var user model.Identity
	if tr.User != nil {
		user = *tr.User
		if claims.Subject != "" && claims.Subject != user.ID {
			return nil, errors.New("access token subject does not match user")
		}
	} else {
		if claims.Subject == "" {
			return nil, errors.New("access token has no subject")
		}
		user = model.Identity{ID: claims.Subject, Email: claims.Email}
	}

	s := &model.AuthSession{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		User:         user,
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// emitLocked はイベントを配送キューに追加する。c.muを保持して呼び出すこと。
func (c *AuthClient) emitLocked(event backend.AuthEvent, s *model.AuthSession) {
	if c.closed {
		return
	}
	c.pending = append(c.pending, pendingEvent{event: event, session: copySession(s)})
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop はキューに積まれたイベントを発生順に購読者へ配送する。
func (c *AuthClient) dispatchLoop() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			ev := c.pending[0]
			c.pending = c.pending[1:]
			listeners := make([]backend.AuthStateListener, 0, len(c.listeners))
			for _, e := range c.listeners {
				listeners = append(listeners, e.listener)
			}
			c.mu.Unlock()

			for _, l := range listeners {
				l(ev.event, copySession(ev.session))
			}
		}
	}
}

func (c *AuthClient) removeListener(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// subscription は購読の解除を1回だけ行う。
type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

// isRetryable は通信障害・サーバー障害のように再試行で回復し得るエラーかを返す。
func isRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}

func copySession(s *model.AuthSession) *model.AuthSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
