package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/hirescout/internal/middleware"
	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/security"
	"github.com/hitoshi/hirescout/internal/session"
)

// ProfileNormalizer はユーザー自身によるプロフィール更新を検証・正規化する。
type ProfileNormalizer interface {
	Normalize(u model.ProfileUpdate) (model.ProfileUpdate, error)
}

// LinkChecker は履歴書リンクが外部から到達可能かを確認する。
type LinkChecker interface {
	CheckReachable(ctx context.Context, rawURL string) error
}

// ProfileHandler はプロフィール編集とオンボーディングのHTTPハンドラー。
type ProfileHandler struct {
	validator ProfileNormalizer
	links     LinkChecker
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(validator ProfileNormalizer, links LinkChecker) *ProfileHandler {
	return &ProfileHandler{validator: validator, links: links}
}

// onboardingRequest はオンボーディングフォームのボディ。
type onboardingRequest struct {
	College   string `json:"college"`
	Course    string `json:"course"`
	Year      string `json:"year"`
	ResumeURL string `json:"resume_url"`
}

// profileResponse は更新結果と更新後のプロフィール。
type profileResponse struct {
	model.Result
	Profile *model.Profile `json:"profile,omitempty"`
}

// UpdateProfile はログイン中ユーザーのプロフィールを部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := middleware.ControllerFromContext(r.Context())
	if !ok || ctrl.Identity() == nil {
		writeResult(w, model.Fail(model.ErrNoUserLoggedIn), http.StatusUnauthorized)
		return
	}

	var req model.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	update, err := h.validator.Normalize(req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.apply(w, r, ctrl, update)
}

// CompleteOnboarding は初回ログイン後の学歴・卒業年・履歴書の登録を処理する。
// 履歴書がリンクの場合は到達可能であることを確認してから保存する。
// POST /api/profile/onboarding
func (h *ProfileHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := middleware.ControllerFromContext(r.Context())
	if !ok {
		writeResult(w, model.Fail(model.ErrNoUserLoggedIn), http.StatusUnauthorized)
		return
	}
	identity := ctrl.Identity()
	if identity == nil {
		writeResult(w, model.Fail(model.ErrNoUserLoggedIn), http.StatusUnauthorized)
		return
	}

	var req onboardingRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if strings.TrimSpace(req.College) == "" || strings.TrimSpace(req.Course) == "" || strings.TrimSpace(req.Year) == "" {
		handleServiceError(w, model.NewMissingFieldsError())
		return
	}

	update, err := h.validator.Normalize(model.ProfileUpdate{
		College:   model.StringPtr(req.College),
		Course:    model.StringPtr(req.Course),
		Year:      model.StringPtr(req.Year),
		ResumeURL: model.StringPtr(req.ResumeURL),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if ref := *update.ResumeURL; ref != "" && security.IsResumeLink(ref) {
		if err := h.links.CheckReachable(r.Context(), ref); err != nil {
			slog.Info("resume link is not reachable",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
			handleServiceError(w, model.NewInvalidResumeError("link is not reachable"))
			return
		}
	}

	h.apply(w, r, ctrl, update)
}

func (h *ProfileHandler) apply(w http.ResponseWriter, r *http.Request, ctrl *session.Controller, update model.ProfileUpdate) {
	res := ctrl.UpdateProfile(r.Context(), update)
	if !res.Success {
		status := http.StatusBadRequest
		if res.Error == model.ErrNoUserLoggedIn.Error() {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, profileResponse{Result: res})
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Result: res, Profile: ctrl.Profile()})
}
