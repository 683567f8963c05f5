package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/assignman/internal/model"
)

// MinSecretBytes は署名鍵に要求する最小バイト数。
const MinSecretBytes = 32

var (
	// ErrTokenExpired はトークンの有効期限が切れている場合に返される。
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid は署名・アルゴリズム・発行者・形式のいずれかが不正な場合に返される。
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims はトークンに含めるクレーム。subにはユーザーIDを入れる。
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenService はHS256署名付きトークンの発行と検証を行う。
// 状態を持たずI/Oも行わないため、複数goroutineから同時に使用できる。
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(secret, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretBytes)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive: %s", ttl)
	}
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue はユーザーに対してトークンを発行する。有効期限は発行時刻+TTL。
func (s *TokenService) Issue(user *model.User) (*model.AuthToken, error) {
	// JWTの時刻は秒精度のため、返却値も秒に揃える
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	claims := Claims{
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &model.AuthToken{
		Token:           signed,
		SubjectUsername: user.Username,
		SubjectIsAdmin:  user.IsAdmin,
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
	}, nil
}

// Verify はトークンを検証し、呼び出し元ユーザーを復元する。
// 期限切れはErrTokenExpired、それ以外の不正はErrTokenInvalidを返す。
func (s *TokenService) Verify(token string) (*model.Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.Username == "" {
		return nil, ErrTokenInvalid
	}

	return &model.Caller{
		UserID:   claims.Subject,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
	}, nil
}
