package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/policy"
)

// AssignmentServiceInterface は課題ハンドラーが必要とするサービスインターフェース。
// 権限判定はハンドラー側で済ませてから呼び出す。
type AssignmentServiceInterface interface {
	Create(ctx context.Context, ownerID, name string, dueDate time.Time) (*model.Assignment, error)
	Update(ctx context.Context, id string, patch model.AssignmentPatch) (*model.Assignment, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Assignment, error)
}

// AssignmentHandler は課題のHTTPハンドラー。
type AssignmentHandler struct {
	service AssignmentServiceInterface
	gate    gate
}

// NewAssignmentHandler はAssignmentHandlerを生成する。
func NewAssignmentHandler(service AssignmentServiceInterface, recorder DenialRecorder) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		gate:    gate{recorder: recorder},
	}
}

// updateAssignmentRequest は課題更新リクエスト。省略したフィールドは変更しない。
type updateAssignmentRequest struct {
	AssignmentName *string `json:"assignmentName"`
	AssignmentDate *string `json:"assignmentDate"`
}

// ListAssignments は課題一覧を作成順で返す。
// userIdクエリを指定した場合は管理者のみ他ユーザーの一覧を参照できる。
// GET /api/assignments
func (h *AssignmentHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	op := policy.ReadOwnAssignments
	target := r.URL.Query().Get("userId")
	if target != "" {
		op = policy.ReadAnyUserAssignments
	}
	decision, ok := h.gate.authorize(w, r, op, target)
	if !ok {
		return
	}

	list, err := h.service.ListByOwner(r.Context(), decision.TargetUserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]assignmentResponse, 0, len(list))
	for _, a := range list {
		resp = append(resp, toAssignmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateAssignment は課題を部分更新する。
// PUT /api/assignments/{id}
func (h *AssignmentHandler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.authorize(w, r, policy.UpdateAssignment, ""); !ok {
		return
	}

	var req updateAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch := model.AssignmentPatch{Name: req.AssignmentName}
	if req.AssignmentDate != nil {
		due, err := model.ParseDueDate(*req.AssignmentDate)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("assignmentDate", "YYYY-MM-DD形式で入力してください"))
			return
		}
		patch.DueDate = &due
	}

	a, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentResponse(a))
}

// DeleteAssignment は課題を削除する。
// DELETE /api/assignments/{id}
func (h *AssignmentHandler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.gate.authorize(w, r, policy.DeleteAssignment, ""); !ok {
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
