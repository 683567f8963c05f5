package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/model"
	"github.com/hitoshi/assignman/internal/user"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	loginFn func(ctx context.Context, username, password string) (*model.AuthToken, error)
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.AuthToken, error) {
	return m.loginFn(ctx, username, password)
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	createUserFn func(ctx context.Context, in user.CreateUserInput) (*model.User, error)
	listUsersFn  func(ctx context.Context) ([]*model.User, error)
	getUserFn    func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserService) CreateUser(ctx context.Context, in user.CreateUserInput) (*model.User, error) {
	return m.createUserFn(ctx, in)
}

func (m *mockUserService) ListUsers(ctx context.Context) ([]*model.User, error) {
	return m.listUsersFn(ctx)
}

func (m *mockUserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return m.getUserFn(ctx, id)
}

// mockAssignmentService はAssignmentServiceInterfaceのモック実装。
type mockAssignmentService struct {
	createFn      func(ctx context.Context, ownerID, name string, dueDate time.Time) (*model.Assignment, error)
	updateFn      func(ctx context.Context, id string, patch model.AssignmentPatch) (*model.Assignment, error)
	deleteFn      func(ctx context.Context, id string) error
	listByOwnerFn func(ctx context.Context, ownerID string) ([]*model.Assignment, error)
}

func (m *mockAssignmentService) Create(ctx context.Context, ownerID, name string, dueDate time.Time) (*model.Assignment, error) {
	return m.createFn(ctx, ownerID, name, dueDate)
}

func (m *mockAssignmentService) Update(ctx context.Context, id string, patch model.AssignmentPatch) (*model.Assignment, error) {
	return m.updateFn(ctx, id, patch)
}

func (m *mockAssignmentService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockAssignmentService) ListByOwner(ctx context.Context, ownerID string) ([]*model.Assignment, error) {
	return m.listByOwnerFn(ctx, ownerID)
}

// mockDenialRecorder はDenialRecorderのモック実装。
type mockDenialRecorder struct {
	mu      sync.Mutex
	denials []string
}

func (m *mockDenialRecorder) RecordAuthorizationDenied(operation, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denials = append(m.denials, operation+":"+reason)
}

// --- テストヘルパー ---

var (
	teacherCaller = &model.Caller{UserID: "t1", Username: "teacher", IsAdmin: true}
	aliceCaller   = &model.Caller{UserID: "s1", Username: "alice"}
)

// withCaller はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withCaller(r *http.Request, caller *model.Caller) *http.Request {
	return r.WithContext(middleware.ContextWithCaller(r.Context(), caller))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func dueDate(s string) time.Time {
	d, err := model.ParseDueDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
