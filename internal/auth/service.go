// Package auth はパスワード認証とトークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/assignman/internal/model"
)

// CredentialVerifier はユーザー名とパスワードを検証するインターフェース。
// 認証失敗時はmodel.NewInvalidCredentialsErrorを返す。
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (*model.User, error)
}

// LoginRecorder はログイン結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(success bool)
}

// Service はログイン処理を提供する。
type Service struct {
	verifier CredentialVerifier
	tokens   *TokenService
	recorder LoginRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(verifier CredentialVerifier, tokens *TokenService, recorder LoginRecorder) *Service {
	return &Service{
		verifier: verifier,
		tokens:   tokens,
		recorder: recorder,
	}
}

// Login は認証情報を検証し、成功した場合にトークンを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*model.AuthToken, error) {
	user, err := s.verifier.VerifyCredentials(ctx, username, password)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCredentials {
			s.record(false)
			slog.Info("login failed", slog.String("username", username))
			return nil, err
		}
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.record(true)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.Bool("is_admin", user.IsAdmin),
	)
	return token, nil
}

func (s *Service) record(success bool) {
	if s.recorder != nil {
		s.recorder.RecordLogin(success)
	}
}
