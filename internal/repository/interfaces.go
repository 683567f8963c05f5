// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

var (
	// ErrDuplicateUsername はユーザー名が既に登録されている場合に返される。
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrNotFound は削除対象のレコードが存在しない場合に返される。
	ErrNotFound = errors.New("record not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。ユーザー名が重複する場合はErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// List は全ユーザーを作成日時順に返す。
	List(ctx context.Context) ([]*model.User, error)
}

// AssignmentRepository は課題データの永続化インターフェース。
// 一覧は常に作成順（Position昇順）で返す。
type AssignmentRepository interface {
	// Create は課題を作成し、Positionを採番する。
	Create(ctx context.Context, assignment *model.Assignment) error

	// FindByID は指定IDの課題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Assignment, error)

	// Update はpatchのnilでないフィールドのみを更新し、更新後の課題を返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.AssignmentPatch, now time.Time) (*model.Assignment, error)

	// Delete は指定IDの課題を削除する。見つからない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// ListByOwner は指定ユーザーの課題一覧を返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Assignment, error)

	// ListAll は全ユーザーの課題一覧を返す。
	ListAll(ctx context.Context) ([]*model.Assignment, error)
}

// StorageError はバックエンドの障害をラップする。
// errors.Is(err, model.ErrStorageUnavailable) が成立する。
type StorageError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is はmodel.ErrStorageUnavailableとの比較でtrueを返す。
func (e *StorageError) Is(target error) bool {
	return target == model.ErrStorageUnavailable
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
