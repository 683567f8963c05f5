// Package user はユーザー管理と認証情報の検証を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/assignman/internal/auth"
	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/repository"
)

// 入力値の制約
const (
	MaxUsernameLength = 64
	MinPasswordBytes  = 8
	MaxNameLength     = 100
)

// dummyPassword はユーザー不在時の比較に使うハッシュの元となる値。
const dummyPassword = "assignman-timing-equalizer"

// CreateUserInput はユーザー登録の入力値。
type CreateUserInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	IsAdmin   bool
}

// Service はユーザー管理のサービス層。
// パスワードはbcryptハッシュのみを保存し、返却するユーザーからはハッシュを除去する。
type Service struct {
	userRepo       repository.UserRepository
	assignmentRepo repository.AssignmentRepository
	bcryptCost     int
	dummyHash      string
	now            func() time.Time
	checkPassword  func(hash, password string) (bool, error)
}

// NewService はServiceの新しいインスタンスを生成する。
// ユーザー不在時の比較用ハッシュをここで1度だけ計算する。
func NewService(
	userRepo repository.UserRepository,
	assignmentRepo repository.AssignmentRepository,
	bcryptCost int,
) (*Service, error) {
	dummyHash, err := auth.HashPassword(dummyPassword, bcryptCost)
	if err != nil {
		return nil, err
	}
	return &Service{
		userRepo:       userRepo,
		assignmentRepo: assignmentRepo,
		bcryptCost:     bcryptCost,
		dummyHash:      dummyHash,
		now:            time.Now,
		checkPassword:  auth.CheckPassword,
	}, nil
}

// CreateUser はユーザーを登録する。
// 氏名は前後の空白のみ除去し、それ以外は入力のまま保存する。
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	firstName := strings.TrimSpace(in.FirstName)
	if utf8.RuneCountInString(firstName) > MaxNameLength {
		return nil, model.NewValidationError("firstName", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}
	lastName := strings.TrimSpace(in.LastName)
	if utf8.RuneCountInString(lastName) > MaxNameLength {
		return nil, model.NewValidationError("lastName", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, model.NewDuplicateUsernameError(in.Username)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Bool("is_admin", user.IsAdmin),
	)

	out := withoutHash(user)
	out.Assignments = []model.Assignment{}
	return out, nil
}

// VerifyCredentials はユーザー名とパスワードを検証する。
// ユーザー不在とパスワード不一致は区別せず、同じエラーを返す。
// ユーザー不在の場合もダミーハッシュとの比較を行い、応答時間を揃える。
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	hash := s.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	ok, err := s.checkPassword(hash, password)
	if err != nil {
		slog.Error("stored password hash is unreadable", slog.String("username", username))
		return nil, model.NewInvalidCredentialsError()
	}
	if user == nil || !ok {
		return nil, model.NewInvalidCredentialsError()
	}
	return withoutHash(user), nil
}

// ListUsers は全ユーザーを課題一覧付きで返す。
func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	assignments, err := s.assignmentRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}

	byOwner := make(map[string][]model.Assignment, len(users))
	for _, a := range assignments {
		byOwner[a.OwnerID] = append(byOwner[a.OwnerID], *a)
	}

	out := make([]*model.User, 0, len(users))
	for _, u := range users {
		c := withoutHash(u)
		c.Assignments = byOwner[u.ID]
		if c.Assignments == nil {
			c.Assignments = []model.Assignment{}
		}
		out = append(out, c)
	}
	return out, nil
}

// GetUser は指定ユーザーを課題一覧付きで返す。
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	assignments, err := s.assignmentRepo.ListByOwner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("課題一覧の取得に失敗しました: %w", err)
	}

	out := withoutHash(user)
	out.Assignments = make([]model.Assignment, 0, len(assignments))
	for _, a := range assignments {
		out.Assignments = append(out.Assignments, *a)
	}
	return out, nil
}

// EnsureAdmin は起動時に管理者アカウントを用意する。
// 同名の管理者が既に存在する場合は何もしない。同名の生徒が存在する場合はエラーとする。
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (*model.User, bool, error) {
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		if !existing.IsAdmin {
			return nil, false, fmt.Errorf("bootstrap admin username %q belongs to a non-admin user", username)
		}
		return withoutHash(existing), false, nil
	}

	created, err := s.CreateUser(ctx, CreateUserInput{Username: username, Password: password, IsAdmin: true})
	if err != nil {
		var apiErr *model.APIError
		// 他インスタンスが同時に作成した場合
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeDuplicateUsername {
			return s.EnsureAdmin(ctx, username, password)
		}
		return nil, false, err
	}
	return created, true, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n == 0 {
		return model.NewValidationError("username", "必須項目です")
	}
	if n > MaxUsernameLength {
		return model.NewValidationError("username", fmt.Sprintf("%d文字以内で入力してください", MaxUsernameLength))
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return model.NewValidationError("username", "空白文字は使用できません")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordBytes {
		return model.NewValidationError("password", fmt.Sprintf("%dバイト以上で入力してください", MinPasswordBytes))
	}
	if len(password) > auth.MaxPasswordBytes {
		return model.NewValidationError("password", fmt.Sprintf("%dバイト以内で入力してください", auth.MaxPasswordBytes))
	}
	return nil
}

func withoutHash(u *model.User) *model.User {
	c := *u
	c.PasswordHash = ""
	return &c
}
