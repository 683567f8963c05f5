package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	issued := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.AuthToken, error) {
			if username != "teacher" || password != "chalkboard" {
				t.Errorf("Login(%q, %q)", username, password)
			}
			return &model.AuthToken{
				Token:           "signed.jwt.token",
				SubjectUsername: "teacher",
				SubjectIsAdmin:  true,
				IssuedAt:        issued,
				ExpiresAt:       issued.Add(168 * time.Hour),
			}, nil
		},
	}
	h := NewAuthHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"username":"teacher","password":"chalkboard"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	assertStatus(t, w, http.StatusOK)
	var body loginResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Token != "signed.jwt.token" || body.Username != "teacher" || !body.IsAdmin {
		t.Errorf("body = %+v", body)
	}
	if !body.ExpiresAt.Equal(issued.Add(168 * time.Hour)) {
		t.Errorf("expiresAt = %v", body.ExpiresAt)
	}
}

func TestAuthHandler_Login_Failures(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, username, password string) (*model.AuthToken, error) {
			switch username {
			case "down":
				return nil, fmt.Errorf("failed to verify credentials: %w", model.ErrStorageUnavailable)
			default:
				return nil, model.NewInvalidCredentialsError()
			}
		},
	}
	h := NewAuthHandler(svc, nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"不正なJSON", `{"username":`, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"ユーザー名なし", `{"password":"x"}`, http.StatusBadRequest, model.ErrCodeValidation},
		{"パスワードなし", `{"username":"alice"}`, http.StatusBadRequest, model.ErrCodeValidation},
		{"認証失敗", `{"username":"alice","password":"wrong"}`, http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
		{"ストレージ障害", `{"username":"down","password":"x"}`, http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			h.Login(w, req)

			assertStatus(t, w, tt.wantCode)
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestAuthHandler_Protected(t *testing.T) {
	recorder := &mockDenialRecorder{}
	h := NewAuthHandler(&mockAuthService{}, recorder)

	t.Run("管理者は200", func(t *testing.T) {
		req := withCaller(httptest.NewRequest(http.MethodGet, "/api/protected", nil), teacherCaller)
		w := httptest.NewRecorder()
		h.Protected(w, req)

		assertStatus(t, w, http.StatusOK)
		var body protectedResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Username != "teacher" {
			t.Errorf("username = %q, want teacher", body.Username)
		}
	})

	t.Run("生徒は403", func(t *testing.T) {
		req := withCaller(httptest.NewRequest(http.MethodGet, "/api/protected", nil), aliceCaller)
		w := httptest.NewRecorder()
		h.Protected(w, req)

		assertStatus(t, w, http.StatusForbidden)
		if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeForbidden {
			t.Errorf("code = %q, want %q", got, model.ErrCodeForbidden)
		}
	})

	t.Run("呼び出し元なしは401", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Protected(w, httptest.NewRequest(http.MethodGet, "/api/protected", nil))
		assertStatus(t, w, http.StatusUnauthorized)
	})

	want := []string{"admin_probe:forbidden", "admin_probe:unauthenticated"}
	if len(recorder.denials) != len(want) {
		t.Fatalf("denials = %v, want %v", recorder.denials, want)
	}
	for i := range want {
		if recorder.denials[i] != want[i] {
			t.Errorf("denials[%d] = %q, want %q", i, recorder.denials[i], want[i])
		}
	}
}
