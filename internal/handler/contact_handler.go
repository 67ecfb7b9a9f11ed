package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hirescout/internal/contact"
	"github.com/hitoshi/hirescout/internal/middleware"
)

// ContactService はお問い合わせハンドラーが必要とするサービスインターフェース。
type ContactService interface {
	Submit(ctx context.Context, req contact.Request, userID string) (*contact.Message, error)
}

// ContactHandler はお問い合わせフォームのHTTPハンドラー。
type ContactHandler struct {
	service ContactService
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(service ContactService) *ContactHandler {
	return &ContactHandler{service: service}
}

// contactResponse は受付済みメッセージのID。
type contactResponse struct {
	ID string `json:"id"`
}

// Submit はお問い合わせを受け付ける。ログイン中であればユーザーIDを添える。
// POST /api/contact
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req contact.Request
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	userID, _ := middleware.UserIDFromContext(r.Context())
	msg, err := h.service.Submit(r.Context(), req, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, contactResponse{ID: msg.ID})
}
