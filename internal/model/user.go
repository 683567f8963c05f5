// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IsAdminがtrueの場合は教師、falseの場合は生徒として扱う。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Assignments は生徒に割り当てられた課題（作成順）。
	// レスポンス生成時のみ設定される。
	Assignments []Assignment
}

// Caller は検証済みトークンから復元した呼び出し元ユーザーを表す。
type Caller struct {
	UserID   string
	Username string
	IsAdmin  bool
}

// AuthToken はログイン成功時に発行される署名付きトークンを表す。
// サーバー側では永続化しない。
type AuthToken struct {
	Token           string
	SubjectUsername string
	SubjectIsAdmin  bool
	IssuedAt        time.Time
	ExpiresAt       time.Time
}
