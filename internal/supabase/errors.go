package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error は認証サービス・データAPIが返したエラーレスポンスを表す。
// Error()は人が読めるメッセージをそのまま返す。
type Error struct {
	Status  int    // HTTPステータスコード
	Code    string // サービス固有のエラーコード（例: "PGRST116", "invalid_credentials"）
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// StatusCode はHTTPステータスコードを返す。
func (e *Error) StatusCode() int {
	return e.Status
}

// StatusOf はerrが*Errorの場合にそのHTTPステータスコードを返す。それ以外は0。
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// errorBody はエラーレスポンスとして返され得るフィールドの集合。
// GoTrueはmsg/error_description/error、PostgRESTはmessage/code/detailsを使う。
type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// decodeError はレスポンスボディから*Errorを生成する。
// メッセージはmsg、message、error_description、errorの順に採用する。
func decodeError(status int, body []byte) *Error {
	apiErr := &Error{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
		apiErr.Code = eb.ErrorCode
		if apiErr.Code == "" && len(eb.Code) > 0 {
			apiErr.Code = strings.Trim(string(eb.Code), `"`)
		}
	}

	if apiErr.Message == "" {
		if text := http.StatusText(status); text != "" {
			apiErr.Message = text
		} else {
			apiErr.Message = fmt.Sprintf("unexpected status %d", status)
		}
	}
	return apiErr
}
