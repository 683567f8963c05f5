package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/assignman/internal/model"
)

// mockHTTPRecorder はHTTPMetricsRecorderのモック実装。
type mockHTTPRecorder struct {
	mu        sync.Mutex
	statuses  []int
	latencies []time.Duration
}

func (m *mockHTTPRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockHTTPRecorder) RecordRequestLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
}

// TestMiddlewareChain_Auth_RateLimit はAuth -> RateLimitの順で呼び出し元が引き継がれることを検証する。
func TestMiddlewareChain_Auth_RateLimit(t *testing.T) {
	verifier := tokenTable(map[string]*model.Caller{
		"chain-token": {UserID: "user-chain", Username: "alice"},
	})
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	corsMW := NewCORSMiddleware("http://localhost:3000")
	authMW := NewAuthMiddleware(verifier)
	rateMW := rl.GeneralMiddleware()

	handler := corsMW(authMW(rateMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	}))))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
		req.Header.Set("Authorization", "Bearer chain-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body["user_id"] != "user-chain" {
			t.Errorf("user_id = %q, want %q", body["user_id"], "user-chain")
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/assignments", nil)
	req.Header.Set("Authorization", "Bearer chain-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	// 429でもCORSヘッダーは付与される
	if resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("expected CORS header on rate-limited response")
	}
}

// TestMiddlewareChain_NoToken_DoesNotConsumeRateLimit は未認証リクエストがレート制限の
// エントリを作らないことを検証する。
func TestMiddlewareChain_NoToken_DoesNotConsumeRateLimit(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	handler := NewAuthMiddleware(tokenTable(nil))(rl.GeneralMiddleware()(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount() = %d, want 0", rl.GeneralLimiterCount())
	}
}

// TestMiddlewareChain_RecoveryInsideLogging はpanicが統一フォーマットの500になり、
// ログとメトリクスに500として記録されることを検証する。
func TestMiddlewareChain_RecoveryInsideLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	recorder := &mockHTTPRecorder{}

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := NewMetricsMiddleware(recorder)(
		NewLoggingMiddleware(logger)(
			NewSecurityHeadersMiddleware()(
				NewRecoveryMiddleware()(panicking))))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", resp.Header.Get("Cache-Control"))
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}

	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusInternalServerError {
		t.Errorf("recorded statuses = %v, want [500]", recorder.statuses)
	}
	if len(recorder.latencies) != 1 {
		t.Errorf("recorded latencies = %d, want 1", len(recorder.latencies))
	}
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, value := range want {
		if got := w.Result().Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}
