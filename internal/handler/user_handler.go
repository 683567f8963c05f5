package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/policy"
	"github.com/hitoshi/assignman/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	CreateUser(ctx context.Context, in user.CreateUserInput) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	// GetUser は課題一覧付きでユーザーを返す。存在しない場合はUSER_NOT_FOUND。
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// UserHandler はユーザー管理と課題の割り当てのHTTPハンドラー。
type UserHandler struct {
	users            UserServiceInterface
	assignments      AssignmentServiceInterface
	gate             gate
	allowAdminSignup bool
}

// NewUserHandler はUserHandlerを生成する。
// allowAdminSignupがfalseの場合、未認証の登録でisAdminを指定できない。
func NewUserHandler(users UserServiceInterface, assignments AssignmentServiceInterface, recorder DenialRecorder, allowAdminSignup bool) *UserHandler {
	return &UserHandler{
		users:            users,
		assignments:      assignments,
		gate:             gate{recorder: recorder},
		allowAdminSignup: allowAdminSignup,
	}
}

type createUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsAdmin   bool   `json:"isAdmin"`
}

type createAssignmentRequest struct {
	AssignmentName string `json:"assignmentName"`
	AssignmentDate string `json:"assignmentDate"`
}

// CreateUser はユーザーを登録する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsAdmin && !h.allowAdminSignup {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("isAdmin", "管理者アカウントは登録できません"))
		return
	}

	created, err := h.users.CreateUser(r.Context(), user.CreateUserInput{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsAdmin:   req.IsAdmin,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

// ListUsers はユーザー一覧を課題付きで返す。生徒には本人のみを返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.gate.authorize(w, r, policy.ListUsers, "")
	if !ok {
		return
	}

	if !decision.AllUsers() {
		u, err := h.users.GetUser(r.Context(), decision.TargetUserID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []userResponse{toUserResponse(u)})
		return
	}

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser はユーザーを課題付きで返す。生徒が指定した場合は常に本人を返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.gate.authorize(w, r, policy.ReadOwnAssignments, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	u, err := h.users.GetUser(r.Context(), decision.TargetUserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// CreateAssignment は生徒に課題を割り当て、更新後のユーザーを返す。
// POST /api/users/{id}
func (h *UserHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.gate.authorize(w, r, policy.CreateAssignment, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req createAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	due, err := model.ParseDueDate(req.AssignmentDate)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("assignmentDate", "YYYY-MM-DD形式で入力してください"))
		return
	}

	if _, err := h.assignments.Create(r.Context(), decision.TargetUserID, req.AssignmentName, due); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.users.GetUser(r.Context(), decision.TargetUserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}
