package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(ctx context.Context, username, password string) (*model.User, error)
}

func (m *mockVerifier) VerifyCredentials(ctx context.Context, username, password string) (*model.User, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, username, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

type mockRecorder struct {
	successes int
	failures  int
}

func (m *mockRecorder) RecordLogin(success bool) {
	if success {
		m.successes++
	} else {
		m.failures++
	}
}

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("0123456789abcdef0123456789abcdef", "assignman", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error: %v", err)
	}
	return ts
}

// --- Login テスト ---

func TestLogin_Success_IssuesTokenForUser(t *testing.T) {
	tokens := newTestTokenService(t)
	recorder := &mockRecorder{}
	verifier := &mockVerifier{
		verifyFn: func(_ context.Context, username, password string) (*model.User, error) {
			if username != "teacher" || password != "correct-horse" {
				t.Errorf("unexpected credentials %q/%q", username, password)
			}
			return &model.User{ID: "u1", Username: "teacher", IsAdmin: true}, nil
		},
	}
	svc := NewService(verifier, tokens, recorder)

	token, err := svc.Login(context.Background(), "teacher", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if token.SubjectUsername != "teacher" || !token.SubjectIsAdmin {
		t.Errorf("token subject = %q/%v, want teacher/true", token.SubjectUsername, token.SubjectIsAdmin)
	}

	caller, err := tokens.Verify(token.Token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if caller.UserID != "u1" {
		t.Errorf("caller.UserID = %q, want %q", caller.UserID, "u1")
	}
	if recorder.successes != 1 || recorder.failures != 0 {
		t.Errorf("recorder = %+v, want 1 success", recorder)
	}
}

func TestLogin_InvalidCredentials_PassesThroughAPIError(t *testing.T) {
	recorder := &mockRecorder{}
	svc := NewService(&mockVerifier{}, newTestTokenService(t), recorder)

	_, err := svc.Login(context.Background(), "nobody", "whatever1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidCredentials)
	}
	if recorder.failures != 1 {
		t.Errorf("failures = %d, want 1", recorder.failures)
	}
}

func TestLogin_StorageFailure_IsWrapped(t *testing.T) {
	recorder := &mockRecorder{}
	verifier := &mockVerifier{
		verifyFn: func(context.Context, string, string) (*model.User, error) {
			return nil, model.ErrStorageUnavailable
		},
	}
	svc := NewService(verifier, newTestTokenService(t), recorder)

	_, err := svc.Login(context.Background(), "teacher", "password1")
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if recorder.failures != 0 || recorder.successes != 0 {
		t.Errorf("storage failures must not be recorded as login attempts: %+v", recorder)
	}
}

func TestLogin_NilRecorder(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(context.Context, string, string) (*model.User, error) {
			return &model.User{ID: "u2", Username: "student"}, nil
		},
	}
	svc := NewService(verifier, newTestTokenService(t), nil)

	if _, err := svc.Login(context.Background(), "student", "password1"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}
