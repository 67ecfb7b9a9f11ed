// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, admin, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrNoUserLoggedIn はログイン中のユーザーがいない状態でプロフィール更新を試みた場合のエラー。
// メッセージはResultのErrorにそのまま格納される。
var ErrNoUserLoggedIn = errors.New("No user logged in")

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeMissingFields    = "MISSING_FIELDS"
	ErrCodeInvalidYear      = "INVALID_GRADUATION_YEAR"
	ErrCodeInvalidResume    = "INVALID_RESUME"
	ErrCodeInvalidPrepCount = "INVALID_PREP_COUNT"
	ErrCodeProfileNotFound  = "PROFILE_NOT_FOUND"
	ErrCodeUpstreamFailed   = "UPSTREAM_FAILED"
	ErrCodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	ErrCodeInvalidEmail     = "INVALID_EMAIL"
	ErrCodeEmptyProfileEdit = "EMPTY_PROFILE_UPDATE"
)

// NewUnauthorizedError は未ログインエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は管理者権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作には管理者権限が必要です。",
		Category: "admin",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewMissingFieldsError は必須項目が未入力の場合のエラーを生成する。
func NewMissingFieldsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingFields,
		Message:  "Please fill in all fields",
		Category: "validation",
		Action:   "すべての項目を入力してください。",
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidYearError は卒業年の形式が不正な場合のエラーを生成する。
func NewInvalidYearError(year string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidYear,
		Message:  fmt.Sprintf("無効な卒業年です: %s", year),
		Category: "validation",
		Action:   "卒業年は4桁の西暦で入力してください。",
	}
}

// NewInvalidResumeError は履歴書の参照が不正な場合のエラーを生成する。
func NewInvalidResumeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResume,
		Message:  fmt.Sprintf("履歴書の参照が不正です: %s", reason),
		Category: "validation",
		Action:   "ファイル名、または公開されているhttp(s)のURLを指定してください。",
	}
}

// NewInvalidPrepCountError はクレジット数が不正な場合のエラーを生成する。
func NewInvalidPrepCountError(count int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrepCount,
		Message:  fmt.Sprintf("無効なクレジット数です: %d", count),
		Category: "validation",
		Action:   "0以上の整数を指定してください。",
	}
}

// NewEmptyProfileUpdateError は更新項目が1つもない場合のエラーを生成する。
func NewEmptyProfileUpdateError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyProfileEdit,
		Message:  "更新する項目がありません。",
		Category: "validation",
		Action:   "変更する項目を1つ以上指定してください。",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("プロフィールが見つかりません: %s", userID),
		Category: "profile",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUpstreamError は認証・データベースサービスがエラーを返した場合のエラーを生成する。
// メッセージには外部サービスのエラーメッセージをそのまま格納する。
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewQueueUnavailableError はメッセージキューへの送信に失敗した場合のエラーを生成する。
func NewQueueUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueUnavailable,
		Message:  "メッセージを送信できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
