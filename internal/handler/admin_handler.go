package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hirescout/internal/admin"
	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// AdminHandler は管理画面のHTTPハンドラー。
// ルーティングでRequireAdminを通過したリクエストのみを受け付ける。
// 管理サービスは呼び出した管理者のバックエンド（アクセストークン）で都度構築する。
type AdminHandler struct {
	logger *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger}
}

// setPrepCountRequest はクレジット数設定リクエストのボディ。
type setPrepCountRequest struct {
	PrepCount *int `json:"prep_count"`
}

func (h *AdminHandler) service(w http.ResponseWriter, r *http.Request) (*admin.Service, bool) {
	ctrl, ok := controllerFrom(w, r)
	if !ok {
		return nil, false
	}
	return admin.NewService(ctrl.Backend(), h.logger), true
}

// ListUsers は全ユーザーのプロフィール一覧を返す。
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	users, err := svc.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// ListUsage は直近の利用ログを返す。
// GET /api/admin/usage
func (h *AdminHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	events, err := svc.ListUsage(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Stats は集計値を返す。
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	stats, err := svc.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateAdmin は管理者アカウントを作成する。
// POST /api/admin/admins
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	var req admin.NewAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	profile, err := svc.CreateAdmin(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// SetPrepCount はユーザーのクレジット残数を設定する。
// PUT /api/admin/users/{id}/prep-count
func (h *AdminHandler) SetPrepCount(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "id")

	var req setPrepCountRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.PrepCount == nil {
		handleServiceError(w, model.NewInvalidRequestError("prep_count is required"))
		return
	}

	if err := svc.SetPrepCount(r.Context(), userID, *req.PrepCount); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			handleServiceError(w, model.NewProfileNotFoundError(userID))
			return
		}
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OK())
}
