// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/policy"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Login は認証情報を検証し、署名付きトークンを発行する。
	Login(ctx context.Context, username, password string) (*model.AuthToken, error)
}

// AuthHandler はログインと管理者プローブのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	gate    gate
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, recorder DenialRecorder) *AuthHandler {
	return &AuthHandler{
		service: service,
		gate:    gate{recorder: recorder},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse はログイン成功時のレスポンス。
// username/isAdminは表示用の参考値で、クライアントは画面の切り替えに/api/protectedの結果を使う。
type loginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type protectedResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// Login はユーザー名とパスワードでログインし、トークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("username", "必須項目です"))
		return
	}
	if req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("password", "必須項目です"))
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token.Token,
		Username:  token.SubjectUsername,
		IsAdmin:   token.SubjectIsAdmin,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	})
}

// Protected は管理者のみアクセスできるプローブ。クライアントはログイン後の役割確認に使う。
// GET /api/protected
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.authorize(w, r, policy.AdminProbe, ""); !ok {
		return
	}
	caller := middleware.CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, protectedResponse{
		Message:  "管理者として認証されています。",
		Username: caller.Username,
	})
}
