package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hirescout/internal/middleware"
	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/session"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// statusCoder は外部サービスのHTTPステータスを持つエラー。
type statusCoder interface {
	StatusCode() int
}

// decodeJSON はリクエストボディをvにデコードする。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	middleware.WriteJSON(w, status, v)
}

// writeResult は操作結果をJSONで書き込む。成功時は200、失敗時はfailureStatusを使う。
func writeResult(w http.ResponseWriter, res model.Result, failureStatus int) {
	status := http.StatusOK
	if !res.Success {
		status = failureStatus
	}
	writeJSON(w, status, res)
}

// controllerFrom はリクエストのセッションコントローラを返す。
// 見つからない場合は500を書き込んでfalseを返す。
func controllerFrom(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, ok := middleware.ControllerFromContext(r.Context())
	if !ok {
		slog.Error("session controller missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return ctrl, true
}

// ensureController はリクエストのセッションコントローラを返し、未生成であれば生成する。
// 取得に失敗した場合はエラーレスポンスを書き込みfalseを返す。
func ensureController(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	ctrl, err := middleware.EnsureController(r.Context())
	if err != nil {
		middleware.WriteControllerError(w, err)
		return nil, false
	}
	return ctrl, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// 認証サービス・データAPIのエラーはメッセージをそのまま返す
	var sc statusCoder
	if errors.As(err, &sc) {
		middleware.WriteErrorResponse(w, mapUpstreamStatus(sc.StatusCode()), model.NewUpstreamError(err.Error()))
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingFields,
		model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidYear,
		model.ErrCodeInvalidResume,
		model.ErrCodeInvalidPrepCount,
		model.ErrCodeInvalidEmail,
		model.ErrCodeEmptyProfileEdit:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeQueueUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeUpstreamFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// mapUpstreamStatus は外部サービスのステータスをクライアント向けのステータスに変換する。
// 4xxは入力や権限の問題としてそのまま伝え、それ以外は502とする。
func mapUpstreamStatus(status int) int {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return http.StatusForbidden
	case status >= 400 && status < 500:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
