// Package policy は操作ごとのアクセス可否を一箇所で判定する。
//
// Authorizeは純粋関数であり、ゲートウェイは1リクエストにつき1回だけ呼び出す。
// 非管理者の対象ユーザーは要求内容に関わらず常に本人に解決される。
package policy

import (
	"errors"

	"github.com/hitoshi/assignman/internal/model"
)

// Operation は判定対象の操作。
type Operation string

// 判定対象の操作一覧
const (
	ListUsers              Operation = "list_users"
	ReadOwnAssignments     Operation = "read_own_assignments"
	ReadAnyUserAssignments Operation = "read_any_user_assignments"
	CreateAssignment       Operation = "create_assignment"
	UpdateAssignment       Operation = "update_assignment"
	DeleteAssignment       Operation = "delete_assignment"
	AdminProbe             Operation = "admin_probe"
)

var (
	// ErrUnauthenticated は呼び出し元が不明な場合に返される。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden は呼び出し元に操作権限がない場合に返される。
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownOperation は未定義の操作が指定された場合に返される。
	ErrUnknownOperation = errors.New("unknown operation")
)

// adminOnly は管理者のみ実行できる操作。
var adminOnly = map[Operation]bool{
	ReadAnyUserAssignments: true,
	CreateAssignment:       true,
	UpdateAssignment:       true,
	DeleteAssignment:       true,
	AdminProbe:             true,
}

// Decision は許可された操作の対象を表す。
// TargetUserIDが空の場合は全ユーザーが対象となる（管理者のみ）。
type Decision struct {
	Operation    Operation
	TargetUserID string
}

// AllUsers はDecisionが全ユーザーを対象とする場合にtrueを返す。
func (d Decision) AllUsers() bool {
	return d.TargetUserID == ""
}

// Authorize は呼び出し元が操作を実行できるか判定し、対象ユーザーを解決する。
// targetUserIDは要求された対象で、空文字は「指定なし」を表す。
func Authorize(caller *model.Caller, op Operation, targetUserID string) (Decision, error) {
	if caller == nil || caller.UserID == "" {
		return Decision{}, ErrUnauthenticated
	}

	switch op {
	case ListUsers, ReadOwnAssignments:
	default:
		if !adminOnly[op] {
			return Decision{}, ErrUnknownOperation
		}
		if !caller.IsAdmin {
			return Decision{}, ErrForbidden
		}
	}

	if !caller.IsAdmin {
		return Decision{Operation: op, TargetUserID: caller.UserID}, nil
	}
	if op == ReadOwnAssignments && targetUserID == "" {
		targetUserID = caller.UserID
	}
	return Decision{Operation: op, TargetUserID: targetUserID}, nil
}
