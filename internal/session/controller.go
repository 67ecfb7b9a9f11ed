// Package session はログイン状態・プロフィール・管理者権限を一元管理するコントローラを提供する。
//
// Controllerはブラウザ1つ分のアプリケーションシェルに対応し、
// 認証サービスのセッション変化を購読してプロフィールを同期する。
// UI（HTTPハンドラー）は状態の読み取りと5つの操作の呼び出しのみを行う。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// 操作名（メトリクスのラベルに使用する）。
const (
	OperationSignIn        = "sign_in"
	OperationSignUp        = "sign_up"
	OperationSignOut       = "sign_out"
	OperationUpdateProfile = "update_profile"
)

// Recorder はコントローラの操作結果を記録するインターフェース。
type Recorder interface {
	RecordAuthOperation(operation string, success bool)
	RecordProfileFetch(success bool)
	RecordAnalyticsFailure(action string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthOperation(string, bool) {}
func (nopRecorder) RecordProfileFetch(bool) {}
func (nopRecorder) RecordAnalyticsFailure(string) {}

// Options はControllerの生成オプション。
type Options struct {
	Logger           *slog.Logger
	Recorder         Recorder
	Now              func() time.Time
	DefaultPrepCount int // サインアップ時に付与するクレジット数（0の場合はmodel.DefaultPrepCount）
}

// Snapshot はある時点のコントローラの状態。
type Snapshot struct {
	Identity       *model.Identity `json:"identity"`
	Profile        *model.Profile  `json:"profile"`
	SessionPresent bool            `json:"sessionPresent"`
	IsLoading      bool            `json:"isLoading"`
	IsAdmin        bool            `json:"isAdmin"`
}

// Controller はログイン状態とプロフィールの唯一の保持者。
//
// 状態は自身の操作と認証状態変化のコールバックからのみ変更される。
// プロフィール取得は要求時点のユーザーIDと世代番号に紐づけられ、
// 完了時に現在のユーザーと一致しない結果は破棄される。
type Controller struct {
	backend          backend.Backend
	logger           *slog.Logger
	recorder         Recorder
	now              func() time.Time
	defaultPrepCount int
	notices          *NoticeBox

	mu             sync.RWMutex
	identity       *model.Identity
	profile        *model.Profile
	sessionPresent bool
	loading        bool
	generation     uint64
	closed         bool

	ready     chan struct{}
	readyOnce sync.Once

	sub       backend.Subscription
	startOnce sync.Once
	closeOnce sync.Once

	bgCtx     context.Context
	bgCancel  context.CancelFunc
	starting  sync.WaitGroup
	analytics sync.WaitGroup
}

// NewController はControllerを生成する。Startを呼び出すまで外部サービスには接続しない。
func NewController(b backend.Backend, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultPrepCount <= 0 {
		opts.DefaultPrepCount = model.DefaultPrepCount
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:          b,
		logger:           opts.Logger,
		recorder:         opts.Recorder,
		now:              opts.Now,
		defaultPrepCount: opts.DefaultPrepCount,
		notices:          NewNoticeBox(defaultNoticeCapacity),
		loading:          true,
		ready:            make(chan struct{}),
		bgCtx:            ctx,
		bgCancel:         cancel,
	}
}

// Start は認証状態の購読を開始し、既存セッションの確認をバックグラウンドで行う。
// 購読を先に登録するため、確認中に発生したイベントも取りこぼさない。
// 2回目以降の呼び出しは何もしない。
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		sub := c.backend.Auth.OnAuthStateChange(c.onAuthStateChange)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		c.sub = sub
		c.mu.Unlock()

		c.starting.Add(1)
		go func() {
			defer c.starting.Done()

			session, err := c.backend.Auth.GetSession(c.bgCtx)
			if err != nil {
				c.logger.Warn("既存セッションの取得に失敗しました",
					slog.String("error", err.Error()),
				)
				session = nil
			}
			c.applySession(c.bgCtx, session)
		}()
	})
}

// WaitReady は最初のセッション・プロフィール解決が完了するまで待機する。
func (c *Controller) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close は購読を解除し、バックグラウンド処理の完了を待ってから認証クライアントを停止する。
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sub := c.sub
		c.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		c.bgCancel()
		c.starting.Wait()
		c.analytics.Wait()
		c.backend.Auth.Close()
		c.markReady()
	})
}

// Snapshot は現在の状態のコピーを返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		SessionPresent: c.sessionPresent,
		IsLoading:      c.loading,
		IsAdmin:        model.IsAdmin(c.profile),
	}
	if c.identity != nil {
		id := *c.identity
		snap.Identity = &id
	}
	if c.profile != nil {
		p := *c.profile
		snap.Profile = &p
	}
	return snap
}

// Identity は現在のログインユーザーを返す。未ログインの場合はnil。
func (c *Controller) Identity() *model.Identity {
	return c.Snapshot().Identity
}

// Profile は現在のプロフィールを返す。未取得の場合はnil。
func (c *Controller) Profile() *model.Profile {
	return c.Snapshot().Profile
}

// IsLoading は最初の状態解決が完了していない場合にtrueを返す。
func (c *Controller) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// IsAdmin は現在のプロフィールのロールがadminの場合にtrueを返す。
func (c *Controller) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.IsAdmin(c.profile)
}

// Backend はコントローラが利用している外部サービス一式を返す。
func (c *Controller) Backend() backend.Backend {
	return c.backend
}

// DrainNotices は未読の通知を取り出す。
func (c *Controller) DrainNotices() []model.Notice {
	return c.notices.Drain()
}

// SignIn はメールアドレスとパスワードでログインする。
// 成功時の状態反映は認証状態変化の購読経由で非同期に行われる。
func (c *Controller) SignIn(ctx context.Context, email, password string) model.Result {
	if err := c.backend.Auth.SignInWithPassword(ctx, email, password); err != nil {
		c.recorder.RecordAuthOperation(OperationSignIn, false)
		c.logger.Info("ログインに失敗しました",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return model.Fail(err)
	}

	c.recorder.RecordAuthOperation(OperationSignIn, true)
	c.logUsage(model.ActionSignIn, map[string]any{"email": email}, "")
	return model.OK()
}

// SignUp はアカウントを作成し、続けてプロフィール行を作成する。
// プロフィールはrole=user、クレジット数はデフォルト値で作成される。
// アカウント作成が失敗した場合はプロフィールを作成しない。
// メール確認待ちでセッションが発行されない場合、行レベルセキュリティ下のストアには書き込まず
// handle_new_userトリガーによる作成に任せる。
func (c *Controller) SignUp(ctx context.Context, email, password, name string) model.Result {
	identity, err := c.backend.Auth.SignUp(ctx, email, password, map[string]any{"name": name})
	if err != nil {
		c.recorder.RecordAuthOperation(OperationSignUp, false)
		return model.Fail(err)
	}
	if identity == nil {
		c.recorder.RecordAuthOperation(OperationSignUp, false)
		c.logger.Error("サインアップの応答にユーザーが含まれていません", slog.String("email", email))
		return model.FailMessage("sign-up response did not include a user")
	}

	if !c.canInsertProfile(ctx, identity.ID) {
		// メール確認待ち。プロフィールはauth.usersのトリガーが作成する
		c.recorder.RecordAuthOperation(OperationSignUp, true)
		c.logger.Info("セッションが未発行のためプロフィール作成をトリガーに委ねます",
			slog.String("user_id", identity.ID),
		)
		return model.OK()
	}

	profile := model.NewProfile(*identity, name, model.RoleUser, c.defaultPrepCount, c.now())
	if err := c.backend.Profiles.InsertProfile(ctx, &profile); err != nil {
		c.recorder.RecordAuthOperation(OperationSignUp, false)
		c.logger.Error("プロフィールの作成に失敗しました",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return model.Fail(err)
	}
	c.adoptProfile(&profile)

	c.recorder.RecordAuthOperation(OperationSignUp, true)
	c.logger.Info("新規ユーザーを作成しました",
		slog.String("user_id", identity.ID),
		slog.String("email", identity.Email),
	)
	c.logUsage(model.ActionSignUp, map[string]any{"email": email, "name": name}, identity.ID)
	return model.OK()
}

// canInsertProfile はサインアップ直後にプロフィール行を書き込めるかを返す。
// セッションを要するストアでは、サインアップしたユーザー本人のセッションがある場合に限る。
func (c *Controller) canInsertProfile(ctx context.Context, userID string) bool {
	scoped, ok := c.backend.Profiles.(backend.SessionScoped)
	if !ok || !scoped.RequiresSession() {
		return true
	}
	s, err := c.backend.Auth.GetSession(ctx)
	if err != nil || s == nil {
		return false
	}
	return s.User.ID == userID
}

// SignOut はセッションを無効化する。
// 失敗した場合は通知を積むだけで呼び出し元にはエラーを返さない。
// いずれの場合もローカルの状態は即座にクリアする。
func (c *Controller) SignOut(ctx context.Context) {
	if err := c.backend.Auth.SignOut(ctx); err != nil {
		c.recorder.RecordAuthOperation(OperationSignOut, false)
		c.logger.Warn("ログアウトに失敗しました", slog.String("error", err.Error()))
		c.notices.Notify(model.Notice{
			Title:   "Error",
			Message: err.Error(),
			Variant: model.NoticeVariantDestructive,
		})
	} else {
		c.recorder.RecordAuthOperation(OperationSignOut, true)
	}

	c.applySession(ctx, nil)
}

// UpdateProfile はログイン中ユーザーのプロフィールを部分更新する。
// ログインしていない場合は外部サービスを呼び出さずに失敗を返す。
// 成功時は同じ部分更新をローカルのプロフィールにも反映する。
func (c *Controller) UpdateProfile(ctx context.Context, update model.ProfileUpdate) model.Result {
	identity := c.Identity()
	if identity == nil {
		return model.Fail(model.ErrNoUserLoggedIn)
	}

	if err := c.backend.Profiles.UpdateProfile(ctx, identity.ID, update, c.now()); err != nil {
		c.recorder.RecordAuthOperation(OperationUpdateProfile, false)
		return model.Fail(err)
	}

	c.mu.Lock()
	if c.profile != nil && c.identity != nil && c.identity.ID == identity.ID {
		merged := c.profile.Merge(update)
		c.profile = &merged
	}
	c.mu.Unlock()

	c.recorder.RecordAuthOperation(OperationUpdateProfile, true)
	return model.OK()
}

// onAuthStateChange は認証サービスからの通知を受け取る。
func (c *Controller) onAuthStateChange(event backend.AuthEvent, session *model.AuthSession) {
	c.logger.Debug("認証状態が変化しました", slog.String("event", string(event)))
	c.applySession(c.bgCtx, session)
}

// applySession はセッションの有無を状態に反映する。
// 起動時の確認と購読イベントの両方がここに集約され、最後に観測した値が優先される。
func (c *Controller) applySession(ctx context.Context, session *model.AuthSession) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation

	if session == nil {
		c.sessionPresent = false
		c.identity = nil
		c.profile = nil
		c.loading = false
		c.mu.Unlock()
		c.markReady()
		return
	}

	user := session.User
	c.sessionPresent = true
	c.identity = &user
	if c.profile != nil && c.profile.ID != user.ID {
		c.profile = nil
	}
	c.mu.Unlock()

	c.fetchProfile(ctx, gen, user.ID)
}

// fetchProfile はプロフィールを取得し、要求時点の世代とユーザーが有効な場合のみ反映する。
func (c *Controller) fetchProfile(ctx context.Context, gen uint64, userID string) {
	profile, err := c.backend.Profiles.FindProfile(ctx, userID)

	c.mu.Lock()
	if gen != c.generation || c.identity == nil || c.identity.ID != userID {
		c.mu.Unlock()
		c.logger.Debug("古いプロフィール取得結果を破棄しました", slog.String("user_id", userID))
		return
	}

	if err != nil {
		c.recorder.RecordProfileFetch(false)
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("Error fetching profile",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		c.recorder.RecordProfileFetch(true)
		c.profile = profile
	}
	c.loading = false
	c.mu.Unlock()

	c.markReady()
}

// adoptProfile は作成直後のプロフィールを、現在のユーザーと一致しかつ未取得の場合に反映する。
func (c *Controller) adoptProfile(profile *model.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == nil || c.identity.ID != profile.ID || c.profile != nil {
		return
	}
	p := *profile
	c.profile = &p
}

// logUsage は利用ログをバックグラウンドで記録する。
// userIDが空の場合は現在のユーザー、なければ認証サービスのユーザーを使用する。
// 失敗はログに記録するのみで呼び出し元には伝えない。
func (c *Controller) logUsage(action string, details map[string]any, userID string) {
	if c.backend.Analytics == nil {
		return
	}
	if userID == "" {
		if identity := c.Identity(); identity != nil {
			userID = identity.ID
		}
	}

	c.analytics.Add(1)
	go func() {
		defer c.analytics.Done()

		ctx := context.WithoutCancel(c.bgCtx)
		if userID == "" {
			user, err := c.backend.Auth.GetUser(ctx)
			if err != nil || user == nil {
				return
			}
			userID = user.ID
		}

		event := &model.UsageEvent{
			UserID:    userID,
			Action:    action,
			Details:   details,
			CreatedAt: c.now(),
		}
		if err := c.backend.Analytics.InsertUsage(ctx, event); err != nil {
			c.recorder.RecordAnalyticsFailure(action)
			c.logger.Error("Error logging analytics",
				slog.String("action", action),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}
