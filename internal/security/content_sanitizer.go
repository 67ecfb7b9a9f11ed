// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はユーザーが入力した自由記述（プロフィール、問い合わせ本文）から
// HTMLマークアップを取り除き、プレーンテキストとして保存できる形に整える。
// bluemondayのStrictPolicyを使用し、すべてのタグと属性を除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は自由記述テキストのサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// Text はマークアップを除去し、前後の空白を取り除いたテキストを返す。
	// script、styleタグは中身ごと除去される。
	// HTMLエスケープはしない（JSONで返すため）。
	Text(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はマークアップを除去したテキストを返す。
func (s *contentSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは&や<をエンティティに変換するため元に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(cleaned)
}
