package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// TokenCookieName はトークンを保持するクッキー名。
const TokenCookieName = "assignman_token"

// TokenStore はクライアント側でトークンを永続化するインターフェース。
// Loadはトークンが無い場合に空文字列を返す。
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// CookieTokenStore はトークンをcookiejar上のクッキーとして保持するTokenStore。
// mirrorPathを指定した場合はファイルにも書き出し、次回起動時にクッキーへ復元する。
type CookieTokenStore struct {
	mu         sync.Mutex
	jar        *cookiejar.Jar
	origin     *url.URL
	mirrorPath string
}

// NewCookieTokenStore はbaseURLをオリジンとするCookieTokenStoreを生成する。
// mirrorPathが空の場合はメモリ上のクッキーのみを使う。
func NewCookieTokenStore(baseURL, mirrorPath string) (*CookieTokenStore, error) {
	origin, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	s := &CookieTokenStore{jar: jar, origin: origin, mirrorPath: mirrorPath}
	if mirrorPath != "" {
		raw, err := os.ReadFile(mirrorPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read token file: %w", err)
		default:
			if token := strings.TrimSpace(string(raw)); token != "" {
				s.setCookie(token, 0)
			}
		}
	}
	return s, nil
}

// Jar はトークンクッキーを保持するcookiejarを返す。
func (s *CookieTokenStore) Jar() http.CookieJar {
	return s.jar
}

// Load は保存済みのトークンを返す。
func (s *CookieTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.jar.Cookies(s.origin) {
		if c.Name == TokenCookieName {
			return c.Value, nil
		}
	}
	return "", nil
}

// Save はトークンをクッキーに保存し、mirrorPathがあればファイルにも書き出す。
func (s *CookieTokenStore) Save(token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setCookie(token, 0)
	if s.mirrorPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.mirrorPath), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.mirrorPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Clear はトークンクッキーを削除し、ファイルも削除する。
func (s *CookieTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setCookie("", -1)
	if s.mirrorPath == "" {
		return nil
	}
	if err := os.Remove(s.mirrorPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *CookieTokenStore) setCookie(value string, maxAge int) {
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:     TokenCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   s.origin.Scheme == "https",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}})
}

var _ TokenStore = (*CookieTokenStore)(nil)
