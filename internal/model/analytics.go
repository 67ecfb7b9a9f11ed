package model

import "time"

// 利用ログのアクション名。
const (
	ActionSignIn = "sign_in"
	ActionSignUp = "sign_up"
)

// UsageEvent はusage_analyticsテーブルの1行を表す。
type UsageEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// UsageEventWithProfile は利用ログとユーザーの表示名・メールアドレスを結合したもの。
// 管理画面の利用状況一覧で使用する。
type UsageEventWithProfile struct {
	UsageEvent
	ProfileName  string `json:"profile_name"`
	ProfileEmail string `json:"profile_email"`
}
