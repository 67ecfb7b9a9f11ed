// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/session"
)

// BrowserSessionCookieName はブラウザセッションIDを保持するCookieの名前。
const BrowserSessionCookieName = "hs_browser_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	browserSessionIDKey = contextKey("browser_session_id")
	controllerKey       = contextKey("controller")
)

// ControllerSource はブラウザセッションIDに対応するコントローラを返す。
// session.Registryが実装する。
type ControllerSource interface {
	Get(browserSessionID string) (*session.Controller, error)
}

// BrowserSessionConfig はブラウザセッションミドルウェアの設定。
type BrowserSessionConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       time.Duration // Cookieの有効期間
	ReadyTimeout time.Duration // コントローラの初回セッション解決を待つ上限
}

// controllerSlot はリクエストに紐づくコントローラの解決状態。
// 新規発行したブラウザセッションIDでは、状態を変更する操作がEnsureControllerを呼ぶまで
// コントローラを生成しない。
type controllerSlot struct {
	id           string
	source       ControllerSource
	readyTimeout time.Duration

	once sync.Once
	ctrl *session.Controller
	err  error
}

func (s *controllerSlot) resolve(ctx context.Context) (*session.Controller, error) {
	s.once.Do(func() {
		if s.source == nil {
			return
		}
		ctrl, err := s.source.Get(s.id)
		if err != nil {
			s.err = err
			return
		}
		// 初回のセッション解決を待つ。間に合わない場合はisLoadingのまま処理を続ける
		if s.readyTimeout > 0 {
			waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
			_ = ctrl.WaitReady(waitCtx)
			cancel()
		}
		s.ctrl = ctrl
	})
	return s.ctrl, s.err
}

// NewBrowserSessionMiddleware はCookieからブラウザセッションIDを読み取り、
// 対応するセッションコントローラをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または不正な値の場合は新しいIDを発行するが、コントローラは生成しない。
func NewBrowserSessionMiddleware(source ControllerSource, config BrowserSessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slot := &controllerSlot{source: source, readyTimeout: config.ReadyTimeout}

			slot.id = browserSessionID(r)
			if slot.id == "" {
				slot.id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserSessionCookieName,
					Value:    slot.id,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   int(config.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			} else if _, err := slot.resolve(r.Context()); err != nil {
				WriteControllerError(w, err)
				return
			}

			noteUserID(r.Context(), func() string {
				if slot.ctrl != nil {
					if identity := slot.ctrl.Identity(); identity != nil {
						return identity.ID
					}
				}
				return ""
			})
			next.ServeHTTP(w, r.WithContext(contextWithSlot(r.Context(), slot)))
		})
	}
}

// WriteControllerError はコントローラの取得失敗をレスポンスに書き込む。
// レジストリ停止中は503、それ以外は500を返す。
func WriteControllerError(w http.ResponseWriter, err error) {
	slog.Error("failed to get session controller",
		slog.String("error", err.Error()),
	)
	if errors.Is(err, session.ErrRegistryClosed) {
		WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUpstreamError("サーバーを停止しています。"))
		return
	}
	WriteInternalServerError(w)
}

// browserSessionID はCookieのブラウザセッションIDを返す。UUID形式でない値は無視する。
func browserSessionID(r *http.Request) string {
	cookie, err := r.Cookie(BrowserSessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return ""
	}
	return cookie.Value
}

// RequireIdentity はログイン中のユーザーがいない場合に401を返すミドルウェア。
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := ControllerFromContext(r.Context())
		if !ok || ctrl.Identity() == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin は管理者でない場合に403を返すミドルウェア。
// 未ログインの場合は401を返す。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := ControllerFromContext(r.Context())
		if !ok || ctrl.Identity() == nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if !ctrl.IsAdmin() {
			slog.Warn("admin access denied",
				slog.String("user_id", ctrl.Identity().ID),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ControllerFromContext はリクエストコンテキストから生成済みのセッションコントローラを取得する。
// 新規発行したブラウザセッションIDでまだ生成されていない場合はfalseを返す。
func ControllerFromContext(ctx context.Context) (*session.Controller, bool) {
	slot, ok := ctx.Value(controllerKey).(*controllerSlot)
	if !ok || slot.ctrl == nil {
		return nil, false
	}
	return slot.ctrl, true
}

// EnsureController はリクエストのセッションコントローラを返し、未生成であれば生成する。
// ログイン・サインアップなどセッションを作り出す操作でのみ使用する。
func EnsureController(ctx context.Context) (*session.Controller, error) {
	slot, ok := ctx.Value(controllerKey).(*controllerSlot)
	if !ok {
		return nil, fmt.Errorf("browser session not found in context")
	}
	ctrl, err := slot.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("browser session has no controller source")
	}
	return ctrl, nil
}

// BrowserSessionIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
func BrowserSessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserSessionIDKey).(string)
	return id
}

// UserIDFromContext はログイン中のユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	ctrl, ok := ControllerFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("session controller not found in context")
	}
	identity := ctrl.Identity()
	if identity == nil {
		return "", fmt.Errorf("no user logged in")
	}
	return identity.ID, nil
}

// ContextWithController はコンテキストにブラウザセッションIDとコントローラを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithController(ctx context.Context, browserSessionID string, ctrl *session.Controller) context.Context {
	slot := &controllerSlot{id: browserSessionID, ctrl: ctrl}
	slot.once.Do(func() {})
	return contextWithSlot(ctx, slot)
}

func contextWithSlot(ctx context.Context, slot *controllerSlot) context.Context {
	ctx = context.WithValue(ctx, browserSessionIDKey, slot.id)
	return context.WithValue(ctx, controllerKey, slot)
}
