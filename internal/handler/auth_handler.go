package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/hirescout/internal/middleware"
	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/security"
	"github.com/hitoshi/hirescout/internal/session"
)

// AuthHandler はログイン・サインアップ・ログアウトとセッション状態のHTTPハンドラー。
// 操作はすべてリクエストに紐づくセッションコントローラに委譲する。
type AuthHandler struct{}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// signInRequest はログインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// sessionResponse はセッション状態と未読の通知。
type sessionResponse struct {
	session.Snapshot
	Notices []model.Notice `json:"notices"`
}

// newSessionResponse はコントローラの状態を返す。ctrlがnilの場合は未ログインの状態を返す。
func newSessionResponse(ctrl *session.Controller) sessionResponse {
	if ctrl == nil {
		return sessionResponse{Notices: []model.Notice{}}
	}
	notices := ctrl.DrainNotices()
	if notices == nil {
		notices = []model.Notice{}
	}
	return sessionResponse{Snapshot: ctrl.Snapshot(), Notices: notices}
}

// SignIn はメールアドレスとパスワードによるログインを処理する。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeResult(w, model.FailMessage(model.NewMissingFieldsError().Message), http.StatusBadRequest)
		return
	}

	ctrl, ok := ensureController(w, r)
	if !ok {
		return
	}

	writeResult(w, ctrl.SignIn(r.Context(), email, req.Password), http.StatusUnauthorized)
}

// SignUp はアカウントとプロフィールの作成を処理する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || req.Password == "" || name == "" {
		writeResult(w, model.FailMessage(model.NewMissingFieldsError().Message), http.StatusBadRequest)
		return
	}
	if err := security.CheckTextLength("name", name); err != nil {
		handleServiceError(w, err)
		return
	}

	ctrl, ok := ensureController(w, r)
	if !ok {
		return
	}

	writeResult(w, ctrl.SignUp(r.Context(), email, req.Password, name), http.StatusBadRequest)
}

// SignOut はログアウトを処理する。
// ログアウトの失敗は通知としてレスポンスのnoticesに含まれる。
// コントローラが未生成のブラウザセッションはログイン状態を持たないため何もしない。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := middleware.ControllerFromContext(r.Context())
	if ok {
		ctrl.SignOut(r.Context())
	}
	writeJSON(w, http.StatusOK, newSessionResponse(ctrl))
}

// Session は現在のログイン状態・プロフィール・未読の通知を返す。
// GET /api/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctrl, _ := middleware.ControllerFromContext(r.Context())
	writeJSON(w, http.StatusOK, newSessionResponse(ctrl))
}
