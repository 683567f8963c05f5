// Package client はassignman APIのGoクライアントとクライアント側セッション管理を提供する。
//
// Clientは各エンドポイントを型付きで呼び出す薄いラッパーで、トークンは呼び出しごとに
// 明示的に渡す。SessionManagerはログイン・復元・画面選択・ログアウトの流れをまとめ、
// トークンをTokenStoreに永続化する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

// maxErrorBodyBytes はエラーレスポンスとして読み取る最大バイト数。
const maxErrorBodyBytes = 64 << 10

// User はAPIが返すユーザー情報。
type User struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	FirstName   string       `json:"firstName"`
	LastName    string       `json:"lastName"`
	IsAdmin     bool         `json:"isAdmin"`
	Assignments []Assignment `json:"assignments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Assignment はAPIが返す課題。Dateは"2006-01-02"形式。
type Assignment struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"assignmentName"`
	Date      string    `json:"assignmentDate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SignupInput はユーザー登録の入力値。
type SignupInput struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsAdmin   bool   `json:"isAdmin"`
}

// AssignmentUpdate は課題の部分更新。nilの項目は変更しない。
type AssignmentUpdate struct {
	Name *string `json:"assignmentName,omitempty"`
	Date *string `json:"assignmentDate,omitempty"`
}

// LoginResult はログイン成功時のレスポンス。
type LoginResult struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ProbeResult は管理者プローブのレスポンス。
type ProbeResult struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ResponseError は2xx以外のレスポンスを表す。
// errors.Asで*model.APIErrorとしても取り出せる。
type ResponseError struct {
	StatusCode int
	API        model.APIError
	RetryAfter string
}

// Error はerrorインターフェースを実装する。
func (e *ResponseError) Error() string {
	if e.API.Code == "" {
		return fmt.Sprintf("assignman: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("assignman: status %d: %s", e.StatusCode, e.API.Error())
}

// Unwrap は埋め込まれたAPIエラーを返す。
func (e *ResponseError) Unwrap() error {
	return &e.API
}

// StatusCode はerrがResponseErrorであればそのHTTPステータスを、そうでなければ0を返す。
func StatusCode(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// Client はassignman APIのHTTPクライアント。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientとloggerはnilの場合にデフォルトを使用する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: u, httpClient: httpClient, logger: logger}, nil
}

// BaseURL はAPIのベースURLを返す。
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Health はGET /healthを呼び出す。
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

// Signup はユーザーを登録する。POST /api/users
func (c *Client) Signup(ctx context.Context, in SignupInput) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodPost, "/api/users", "", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login はトークンを取得する。POST /api/auth/login
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe は管理者プローブを呼び出す。GET /api/protected
// 生徒のトークンでは403のResponseErrorを返す。
func (c *Client) Probe(ctx context.Context, token string) (*ProbeResult, error) {
	var out ProbeResult
	if err := c.do(ctx, http.MethodGet, "/api/protected", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers はユーザー一覧を取得する。GET /api/users
func (c *Client) ListUsers(ctx context.Context, token string) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/api/users", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser はユーザーを課題付きで取得する。GET /api/users/{id}
func (c *Client) GetUser(ctx context.Context, token, id string) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAssignment は生徒に課題を割り当て、更新後のユーザーを返す。POST /api/users/{id}
func (c *Client) CreateAssignment(ctx context.Context, token, userID, name, date string) (*User, error) {
	body := map[string]string{"assignmentName": name, "assignmentDate": date}
	var out User
	if err := c.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(userID), token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssignments は課題一覧を取得する。GET /api/assignments
// userIDが空の場合は呼び出し元自身の課題を返す。指定は管理者のみ有効。
func (c *Client) ListAssignments(ctx context.Context, token, userID string) ([]Assignment, error) {
	path := "/api/assignments"
	if userID != "" {
		path += "?userId=" + url.QueryEscape(userID)
	}
	var out []Assignment
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAssignment は課題を部分更新する。PUT /api/assignments/{id}
func (c *Client) UpdateAssignment(ctx context.Context, token, id string, update AssignmentUpdate) (*Assignment, error) {
	var out Assignment
	if err := c.do(ctx, http.MethodPut, "/api/assignments/"+url.PathEscape(id), token, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAssignment は課題を削除する。DELETE /api/assignments/{id}
func (c *Client) DeleteAssignment(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/assignments/"+url.PathEscape(id), token, nil, nil)
}

// do はリクエストを送信し、2xxの場合はoutにデコードする。
// 2xx以外はResponseErrorを返す。
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("failed to build request URL: %w", err)
	}
	target := c.baseURL.ResolveReference(ref)
	if prefix := strings.TrimSuffix(c.baseURL.Path, "/"); prefix != "" {
		target.Path = prefix + ref.Path
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("assignman API request failed",
			slog.String("method", method),
			slog.String("path", ref.Path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to call %s %s: %w", method, ref.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respErr := &ResponseError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if len(raw) > 0 {
			// ボディがJSONでない場合はステータスのみで判断する
			_ = json.Unmarshal(raw, &respErr.API)
		}
		c.logger.Debug("assignman API returned error status",
			slog.String("method", method),
			slog.String("path", ref.Path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", respErr.API.Code),
		)
		return respErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
