package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/assignman/internal/model"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", "assignman", time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := NewTokenService(testSecret, "assignman", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC)
	ts.now = func() time.Time { return fixed }

	token, err := ts.Issue(&model.User{ID: "u1", Username: "teacher", IsAdmin: true})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if !token.IssuedAt.Equal(fixed.Truncate(time.Second)) {
		t.Errorf("IssuedAt = %v, want %v", token.IssuedAt, fixed.Truncate(time.Second))
	}
	if got := token.ExpiresAt.Sub(token.IssuedAt); got != time.Hour {
		t.Errorf("ExpiresAt - IssuedAt = %v, want 1h", got)
	}

	caller, err := ts.Verify(token.Token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	want := model.Caller{UserID: "u1", Username: "teacher", IsAdmin: true}
	if *caller != want {
		t.Errorf("caller = %+v, want %+v", *caller, want)
	}
}

func TestVerify_NonAdminFlagPreserved(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Issue(&model.User{ID: "u2", Username: "student"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	caller, err := ts.Verify(token.Token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if caller.IsAdmin {
		t.Error("expected non-admin caller")
	}
}

func TestVerify_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Now().Add(-2 * time.Hour)
	ts.now = func() time.Time { return issued }
	token, err := ts.Issue(&model.User{ID: "u1", Username: "teacher"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	ts.now = time.Now
	if _, err := ts.Verify(token.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_Invalid(t *testing.T) {
	ts := newTestTokenService(t)
	valid, err := ts.Issue(&model.User{ID: "u1", Username: "teacher", IsAdmin: true})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	other, err := NewTokenService("ffffffffffffffffffffffffffffffff", "assignman", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error: %v", err)
	}
	foreign, _ := other.Issue(&model.User{ID: "u1", Username: "teacher", IsAdmin: true})

	otherIssuer, _ := NewTokenService(testSecret, "someone-else", time.Hour)
	wrongIssuer, _ := otherIssuer.Issue(&model.User{ID: "u1", Username: "teacher"})

	now := time.Now()
	claims := Claims{
		Username: "teacher",
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "assignman",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExp := claims
	noExp.ExpiresAt = nil
	withoutExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte(testSecret))

	// 管理者フラグを書き換えたペイロード
	parts := strings.Split(valid.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{"空文字", ""},
		{"形式不正", "not-a-token"},
		{"別の鍵で署名", foreign.Token},
		{"発行者不一致", wrongIssuer.Token},
		{"HS512", hs512},
		{"alg none", none},
		{"有効期限なし", withoutExp},
		{"改ざん", tampered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Verify(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := HashPassword("correct-horse", 4)
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if hash == "correct-horse" {
		t.Fatal("hash must not equal plaintext")
	}

	ok, err := CheckPassword(hash, "correct-horse")
	if err != nil || !ok {
		t.Errorf("CheckPassword(correct) = %v, %v; want true, nil", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong-horse")
	if err != nil || ok {
		t.Errorf("CheckPassword(wrong) = %v, %v; want false, nil", ok, err)
	}
	if _, err := CheckPassword("not-a-hash", "x"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", MaxPasswordBytes+1), 4); err == nil {
		t.Error("expected error for password over 72 bytes")
	}
}
