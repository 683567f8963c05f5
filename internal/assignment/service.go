// Package assignment は課題の作成・更新・削除・一覧のドメインロジックを提供する。
//
// このパッケージは権限判定を行わない。呼び出し側はpolicy.Authorizeで
// 許可を得てから各操作を呼び出すこと。
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/repository"
)

// MaxNameLength は課題名の最大文字数。
const MaxNameLength = 200

// MutationRecorder は課題の変更操作を記録するインターフェース。
type MutationRecorder interface {
	RecordAssignmentMutation(op string)
}

// Service は課題管理のサービス層。
type Service struct {
	assignmentRepo repository.AssignmentRepository
	userRepo       repository.UserRepository
	recorder       MutationRecorder
	now            func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	assignmentRepo repository.AssignmentRepository,
	userRepo repository.UserRepository,
	recorder MutationRecorder,
) *Service {
	return &Service{
		assignmentRepo: assignmentRepo,
		userRepo:       userRepo,
		recorder:       recorder,
		now:            time.Now,
	}
}

// Create は生徒に課題を割り当てる。
// 割り当て先が存在しない場合や管理者の場合はOWNER_NOT_FOUNDを返す。
func (s *Service) Create(ctx context.Context, ownerID, name string, dueDate time.Time) (*model.Assignment, error) {
	clean, err := s.cleanName(name)
	if err != nil {
		return nil, err
	}

	owner, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	if owner == nil || owner.IsAdmin {
		return nil, model.NewOwnerNotFoundError(ownerID)
	}

	now := s.now().UTC()
	a := &model.Assignment{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      clean,
		DueDate:   truncateToDate(dueDate),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.assignmentRepo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.record("create")
	slog.Info("assignment created",
		slog.String("assignment_id", a.ID),
		slog.String("owner_id", ownerID),
	)
	return a, nil
}

// Update は課題を部分更新する。
func (s *Service) Update(ctx context.Context, id string, patch model.AssignmentPatch) (*model.Assignment, error) {
	if patch.IsEmpty() {
		return nil, model.NewValidationError("assignmentName", "更新する項目を指定してください")
	}
	if patch.Name != nil {
		clean, err := s.cleanName(*patch.Name)
		if err != nil {
			return nil, err
		}
		patch.Name = &clean
	}
	if patch.DueDate != nil {
		d := truncateToDate(*patch.DueDate)
		patch.DueDate = &d
	}

	a, err := s.assignmentRepo.Update(ctx, id, patch, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}
	if a == nil {
		return nil, model.NewAssignmentNotFoundError(id)
	}

	s.record("update")
	slog.Info("assignment updated", slog.String("assignment_id", id))
	return a, nil
}

// Delete は課題を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.assignmentRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewAssignmentNotFoundError(id)
		}
		return fmt.Errorf("failed to delete assignment: %w", err)
	}

	s.record("delete")
	slog.Info("assignment deleted", slog.String("assignment_id", id))
	return nil
}

// ListByOwner は指定ユーザーの課題を作成順で返す。
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*model.Assignment, error) {
	list, err := s.assignmentRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return list, nil
}

// cleanName は前後の空白のみを除去して長さを検証する。
func (s *Service) cleanName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	n := utf8.RuneCountInString(clean)
	if n == 0 {
		return "", model.NewValidationError("assignmentName", "必須項目です")
	}
	if n > MaxNameLength {
		return "", model.NewValidationError("assignmentName", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}
	return clean, nil
}

func (s *Service) record(op string) {
	if s.recorder != nil {
		s.recorder.RecordAssignmentMutation(op)
	}
}

// truncateToDate は時刻を切り捨ててUTCの日付にする。
func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
