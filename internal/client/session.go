package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

var (
	// ErrLoginInProgress は同じSessionManagerでログインが実行中であることを示す。
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrNoSession は有効なセッションが無いことを示す。
	ErrNoSession = errors.New("no active session")
)

// Session はログイン中のクライアント状態。
// IsAdminはサーバーへのプローブで確認した場合のみ信頼でき、RoleVerifiedがtrueになる。
type Session struct {
	Token             string
	Username          string
	IsAdmin           bool
	RoleVerified      bool
	CachedAssignments []Assignment
}

// View はセッションの役割に応じて表示する画面。
type View interface {
	viewName() string
}

// AdminDashboard は管理者向け画面。全ユーザーと各自の課題を持つ。
type AdminDashboard struct {
	Username string
	Users    []User
}

// StudentDashboard は生徒向け画面。自分の課題のみを持つ。
type StudentDashboard struct {
	Username    string
	Assignments []Assignment
}

func (AdminDashboard) viewName() string   { return "admin" }
func (StudentDashboard) viewName() string { return "student" }

// SessionManager はログイン・復元・画面選択・ログアウトを扱う。
// 1つのSessionManagerで同時に実行できるログインは1つだけ。
type SessionManager struct {
	client    *Client
	store     TokenStore
	logger    *slog.Logger
	loggingIn atomic.Bool
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(c *Client, store TokenStore) *SessionManager {
	return &SessionManager{client: c, store: store, logger: c.logger}
}

// Login はログインし、プローブで役割を確認してからトークンを保存したセッションを返す。
// 別のログインが実行中の場合は待たずにErrLoginInProgressを返す。
func (m *SessionManager) Login(ctx context.Context, username, password string) (*Session, error) {
	if !m.loggingIn.CompareAndSwap(false, true) {
		return nil, ErrLoginInProgress
	}
	defer m.loggingIn.Store(false)

	res, err := m.client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	// 役割を確認できたトークンのみ保存する
	s := &Session{Token: res.Token, Username: res.Username}
	if err := m.verifyRole(ctx, s); err != nil {
		return nil, err
	}
	if err := m.store.Save(res.Token); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	m.logger.Info("logged in",
		slog.String("username", s.Username),
		slog.Bool("is_admin", s.IsAdmin),
	)
	return s, nil
}

// Restore は保存済みのトークンからセッションを復元する。
// トークンが無い、または無効な場合はErrNoSessionを返し、無効なトークンは破棄する。
func (m *SessionManager) Restore(ctx context.Context) (*Session, error) {
	token, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token == "" {
		return nil, ErrNoSession
	}

	s := &Session{Token: token}
	if err := m.verifyRole(ctx, s); err != nil {
		return nil, err
	}
	if s.Username == "" {
		users, err := m.client.ListUsers(ctx, token)
		if err != nil {
			return nil, m.handleAuthFailure(err)
		}
		if len(users) > 0 {
			s.Username = users[0].Username
		}
	}
	return s, nil
}

// Render はセッションの役割に応じた画面を返す。
// 役割はサーバーのプローブ結果のみで決定し、未確認の場合は先にプローブする。
// 生徒の場合は取得した課題を保持した新しいSessionを返す。
func (m *SessionManager) Render(ctx context.Context, s *Session) (View, *Session, error) {
	if s == nil || s.Token == "" {
		return nil, nil, ErrNoSession
	}
	next := *s
	if !next.RoleVerified {
		if err := m.verifyRole(ctx, &next); err != nil {
			return nil, nil, err
		}
	}

	if next.IsAdmin {
		users, err := m.client.ListUsers(ctx, next.Token)
		if err != nil {
			return nil, nil, m.handleAuthFailure(err)
		}
		return AdminDashboard{Username: next.Username, Users: users}, &next, nil
	}

	assignments, err := m.client.ListAssignments(ctx, next.Token, "")
	if err != nil {
		return nil, nil, m.handleAuthFailure(err)
	}
	next.CachedAssignments = assignments
	return StudentDashboard{Username: next.Username, Assignments: assignments}, &next, nil
}

// Logout は保存済みのトークンを削除し、セッションを空にする。
func (m *SessionManager) Logout(s *Session) error {
	if s != nil {
		*s = Session{}
	}
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// verifyRole はGET /api/protectedで役割を確認する。200は管理者、403は生徒。
func (m *SessionManager) verifyRole(ctx context.Context, s *Session) error {
	probe, err := m.client.Probe(ctx, s.Token)
	switch {
	case err == nil:
		s.IsAdmin = true
		if probe.Username != "" {
			s.Username = probe.Username
		}
	case StatusCode(err) == http.StatusForbidden:
		s.IsAdmin = false
	default:
		return m.handleAuthFailure(err)
	}
	s.RoleVerified = true
	return nil
}

// handleAuthFailure は401の場合にトークンを破棄してErrNoSessionを返す。
func (m *SessionManager) handleAuthFailure(err error) error {
	if StatusCode(err) != http.StatusUnauthorized {
		return err
	}
	if clearErr := m.store.Clear(); clearErr != nil {
		m.logger.Warn("failed to clear rejected token", slog.String("error", clearErr.Error()))
	}
	return fmt.Errorf("%w: %w", ErrNoSession, err)
}
