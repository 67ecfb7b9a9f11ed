// Package backend は認証・データベースサービス（ホスティング型）との契約を定義する。
// 実装はHTTP経由のsupabaseパッケージと、直接接続のrepositoryパッケージが提供する。
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/hirescout/internal/model"
)

// ErrNotFound は対象の行が存在しない場合のエラー。
var ErrNotFound = errors.New("row not found")

// ErrNoSession はログインセッションが必要な操作をセッションなしで呼び出した場合のエラー。
var ErrNoSession = errors.New("auth session missing")

// AuthEvent は認証状態の変化を表すイベント種別。
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthStateListener は認証状態の変化を受け取るコールバック。
// sessionがnilの場合はログアウト状態を表す。
type AuthStateListener func(event AuthEvent, session *model.AuthSession)

// Subscription は認証状態の購読を表す。
// Unsubscribeは複数回呼び出しても安全でなければならない。
type Subscription interface {
	Unsubscribe()
}

// Auth はホスティング型認証サービスのクライアントインターフェース。
// 1インスタンスが1つのログイン状態（ブラウザ1つ分）を保持する。
type Auth interface {
	// GetSession は現在のセッションを返す。存在しない場合はnilを返す。
	GetSession(ctx context.Context) (*model.AuthSession, error)

	// OnAuthStateChange は認証状態の変化を購読する。
	// イベントは認証サービスが発行した順序で配送される。
	OnAuthStateChange(listener AuthStateListener) Subscription

	// SignInWithPassword はメールアドレスとパスワードでログインする。
	SignInWithPassword(ctx context.Context, email, password string) error

	// SignUp はアカウントを作成する。metadataはユーザーの補助情報として保存される。
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Identity, error)

	// SignOut はセッションを無効化する。
	SignOut(ctx context.Context) error

	// GetUser は現在のセッションに紐づくユーザーを返す。セッションがない場合はnilを返す。
	GetUser(ctx context.Context) (*model.Identity, error)

	// Close はバックグラウンド処理（トークン更新、イベント配送）を停止する。
	Close()
}

// AccountCreator は現在のログイン状態に影響を与えずにアカウントを作成する。
// 管理画面からの管理者アカウント作成で使用する。
type AccountCreator interface {
	CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*model.Identity, error)
}

// ProfileStore はprofilesテーブルの操作インターフェース。
type ProfileStore interface {
	// FindProfile は指定IDのプロフィールを取得する。見つからない場合はErrNotFoundを返す。
	FindProfile(ctx context.Context, id string) (*model.Profile, error)

	// InsertProfile はプロフィールを作成する。
	InsertProfile(ctx context.Context, profile *model.Profile) error

	// UpdateProfile は指定IDのプロフィールを部分更新する。
	// 更新対象のカラムに加えてupdated_atを設定する。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) error

	// ListProfiles は全プロフィールをcreated_at降順で返す。
	ListProfiles(ctx context.Context) ([]*model.Profile, error)

	// ListPrepCounts は全プロフィールのprep_countを返す。
	ListPrepCounts(ctx context.Context) ([]int, error)
}

// SessionScoped はログインユーザーのアクセストークンで行レベルセキュリティを通過するストアが実装する。
// サインアップでセッションが発行されなかった場合、このストアへのプロフィール作成は行わず
// データベースのhandle_new_userトリガーに任せる。
type SessionScoped interface {
	RequiresSession() bool
}

// AnalyticsStore はusage_analyticsテーブルの操作インターフェース。
type AnalyticsStore interface {
	// InsertUsage は利用ログを1件記録する。
	InsertUsage(ctx context.Context, event *model.UsageEvent) error

	// ListRecentUsage は利用ログをcreated_at降順で最大limit件返す。
	ListRecentUsage(ctx context.Context, limit int) ([]*model.UsageEventWithProfile, error)
}

// SessionStorage は認証セッションの永続化インターフェース。
// ブラウザのローカルストレージに相当し、キーはブラウザセッションIDを想定する。
type SessionStorage interface {
	// Load は保存済みのセッションを返す。存在しない場合はnilを返す。
	Load(ctx context.Context, key string) (*model.AuthSession, error)
	// Save はセッションを保存する。
	Save(ctx context.Context, key string, session *model.AuthSession) error
	// Delete はセッションを削除する。
	Delete(ctx context.Context, key string) error
}

// Backend は1つのコントローラが利用する外部サービス一式。
type Backend struct {
	Auth      Auth
	Profiles  ProfileStore
	Analytics AnalyticsStore
	Accounts  AccountCreator
}
