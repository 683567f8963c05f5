package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/policy"
)

// DenialRecorder はポリシーによる拒否を記録するインターフェース。
type DenialRecorder interface {
	RecordAuthorizationDenied(operation, reason string)
}

// gate は1リクエストにつき1回だけアクセスポリシーを参照する。
type gate struct {
	recorder DenialRecorder
}

// authorize は呼び出し元に操作を許可するか判定する。
// 拒否した場合はエラーレスポンスを書き込みfalseを返す。
func (g gate) authorize(w http.ResponseWriter, r *http.Request, op policy.Operation, target string) (policy.Decision, bool) {
	caller := middleware.CallerFromContext(r.Context())
	decision, err := policy.Authorize(caller, op, target)
	if err == nil {
		return decision, true
	}
	if errors.Is(err, policy.ErrUnknownOperation) {
		handleServiceError(w, err)
		return policy.Decision{}, false
	}

	reason := "forbidden"
	if errors.Is(err, policy.ErrUnauthenticated) {
		reason = "unauthenticated"
	}
	if g.recorder != nil {
		g.recorder.RecordAuthorizationDenied(string(op), reason)
	}
	attrs := []any{slog.String("operation", string(op)), slog.String("reason", reason)}
	if caller != nil {
		attrs = append(attrs, slog.String("user_id", caller.UserID))
	}
	slog.Info("authorization denied", attrs...)

	handleServiceError(w, err)
	return policy.Decision{}, false
}
