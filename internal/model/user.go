// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証サービスが発行したユーザー（プリンシパル）を表す。
// 所有者は外部の認証サービスであり、アプリケーションはセッション中の参照のみ保持する。
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// AuthSession は認証サービスが発行したログインセッションを表す。
// トークンの検証・更新は認証サービス側の責務であり、ここでは存在の有無のみを扱う。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired は指定時刻時点でセッションの有効期限が切れているかを返す。
// ExpiresAtがゼロ値の場合は期限なしとして扱う。
func (s *AuthSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}
